package uploadqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"handoverphotos/internal/api"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/services"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestHTTPChannelSubmitSendsMultipart(t *testing.T) {
	var (
		gotProtocol, gotUser, gotName, gotType string
		gotData                                []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != UploadPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		reader, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart reader: %v", err)
			return
		}
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "protocolId":
				gotProtocol = string(data)
			case "userId":
				gotUser = string(data)
			case "photos":
				gotName = part.FileName()
				gotType = part.Header.Get("Content-Type")
				gotData = data
			}
		}
		writeJSON(t, w, http.StatusOK, api.UploadResponse{
			Success: true,
			Results: api.UploadResults{Successful: 1, Photos: []api.UploadPhotoResult{{
				Success:     true,
				FileName:    gotName,
				PhotoID:     "photo-7",
				OriginalURL: "/objects/original/photo-7.jpg",
				JobID:       "job-7",
			}}},
		})
	}))
	defer server.Close()

	channel := NewHTTPChannel(server.URL+"/", WithChannelLogger(logging.NewNop()))
	accepted, err := channel.Submit(context.Background(), Submission{
		ProtocolID:  "proto-1",
		UserID:      "user-1",
		FileName:    "front.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("jpeg-bytes"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if accepted.PhotoID != "photo-7" || accepted.JobID != "job-7" || accepted.OriginalURL == "" {
		t.Fatalf("unexpected accepted: %+v", accepted)
	}
	if gotProtocol != "proto-1" || gotUser != "user-1" {
		t.Fatalf("unexpected form fields %q %q", gotProtocol, gotUser)
	}
	if gotName != "front.jpg" || gotType != "image/jpeg" || string(gotData) != "jpeg-bytes" {
		t.Fatalf("unexpected file part %q %q %q", gotName, gotType, gotData)
	}
}

func TestHTTPChannelSubmitClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		want      error
		retryable bool
	}{
		{
			name:   "per photo rejection",
			status: http.StatusOK,
			body: api.UploadResponse{Error: "no photos were accepted", Results: api.UploadResults{Failed: 1, Photos: []api.UploadPhotoResult{{
				FileName: "a.jpg", Error: "content type image/gif is not accepted", Kind: "unsupported_media",
			}}}},
			want: services.ErrUnsupportedMedia,
		},
		{
			name:   "disabled rollout",
			status: http.StatusForbidden,
			body:   api.ErrorResponse{Error: "photo upload is off", Kind: "disabled"},
			want:   services.ErrDisabled,
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			body:      api.ErrorResponse{Error: "database locked", Kind: "validation"},
			want:      services.ErrTransient,
			retryable: true,
		},
		{
			name:      "empty result list",
			status:    http.StatusOK,
			body:      api.UploadResponse{Success: true},
			want:      services.ErrTransient,
			retryable: true,
		},
		{
			name:      "gateway html",
			status:    http.StatusBadGateway,
			body:      "<html>bad gateway</html>",
			want:      services.ErrTransient,
			retryable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(t, w, tt.status, tt.body)
			}))
			defer server.Close()

			channel := NewHTTPChannel(server.URL)
			_, err := channel.Submit(context.Background(), Submission{ProtocolID: "p", FileName: "a.jpg", Data: []byte("x")})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if retryable(err) != tt.retryable {
				t.Fatalf("retryable(%v) = %v, want %v", err, retryable(err), tt.retryable)
			}
		})
	}
}

func TestHTTPChannelTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPChannel(url).Status(context.Background(), "photo-1")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestHTTPChannelStatusParsesPhoto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/protocols/photos/photo-1/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, api.PhotoStatusResponse{
			Success: true,
			Photo: &api.PhotoStatus{
				PhotoID:  "photo-1",
				Status:   "completed",
				Progress: 100,
				URLs: api.PhotoURLs{
					Original: "/objects/original/photo-1.jpg",
					Thumb:    "/objects/thumb/photo-1.webp",
					Gallery:  "/objects/gallery/photo-1.jpg",
					PDF:      "/objects/pdf/photo-1.jpg",
				},
				ProcessedAt: "2026-05-04T10:00:05.000Z",
			},
		})
	}))
	defer server.Close()

	status, err := NewHTTPChannel(server.URL).Status(context.Background(), "photo-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != RemoteCompleted || status.Progress != 100 || len(status.URLs) != 4 {
		t.Fatalf("unexpected status: %+v", status)
	}
	want := time.Date(2026, 5, 4, 10, 0, 5, 0, time.UTC)
	if status.ProcessedAt == nil || !status.ProcessedAt.Equal(want) {
		t.Fatalf("unexpected processed at: %v", status.ProcessedAt)
	}
}

func TestHTTPChannelStatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusNotFound, api.ErrorResponse{Error: "photo not found", Kind: "not_found"})
	}))
	defer server.Close()

	_, err := NewHTTPChannel(server.URL).Status(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "photo not found") {
		t.Fatalf("expected server message in %q", err.Error())
	}
}

// fakeDaemon accepts uploads and reports each photo completed on its
// second status poll.
type fakeDaemon struct {
	mu     sync.Mutex
	next   int
	polls  map[string]int
	counts map[string]int
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.Method == http.MethodPost && r.URL.Path == UploadPath {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.next++
		id := "photo-" + string(rune('0'+d.next))
		d.counts["upload"]++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.UploadResponse{Success: true, Results: api.UploadResults{Successful: 1, Photos: []api.UploadPhotoResult{{
			Success: true, PhotoID: id, OriginalURL: "/objects/original/" + id + ".jpg", JobID: "job-" + id,
		}}}})
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v2/protocols/photos/"), "/status")
	d.polls[id]++
	d.counts["status"]++
	photo := &api.PhotoStatus{PhotoID: id, Status: "processing", Progress: 60, URLs: api.PhotoURLs{Original: "/objects/original/" + id + ".jpg"}}
	if d.polls[id] >= 2 {
		photo.Status = "completed"
		photo.Progress = 100
		photo.URLs.Thumb = "/objects/thumb/" + id + ".webp"
		photo.URLs.Gallery = "/objects/gallery/" + id + ".jpg"
		photo.URLs.PDF = "/objects/pdf/" + id + ".jpg"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(api.PhotoStatusResponse{Success: true, Photo: photo})
}

func TestQueueAgainstHTTPDaemon(t *testing.T) {
	daemon := &fakeDaemon{polls: map[string]int{}, counts: map[string]int{}}
	server := httptest.NewServer(daemon)
	defer server.Close()

	channel := NewHTTPChannel(server.URL, WithChannelLogger(logging.NewNop()))
	q := New(channel, channel, Options{
		ProtocolID:   "proto-1",
		PollInterval: 10 * time.Millisecond,
		BackoffBase:  10 * time.Millisecond,
	}, WithLogger(logging.NewNop()))
	defer q.Close()

	if _, err := q.Capture([]File{jpegFile(t, "a.jpg"), jpegFile(t, "b.jpg")}); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	counts := CountItems(q.Items())
	if counts.Completed != 2 {
		t.Fatalf("expected both photos completed, got %+v", counts)
	}
	for _, item := range q.Items() {
		if len(item.DerivedURLs) != 4 || item.Progress != 100 {
			t.Fatalf("incomplete item %+v", item)
		}
	}
	daemon.mu.Lock()
	defer daemon.mu.Unlock()
	if daemon.counts["upload"] != 2 || daemon.counts["status"] != 4 {
		t.Fatalf("unexpected daemon traffic %v", daemon.counts)
	}
}
