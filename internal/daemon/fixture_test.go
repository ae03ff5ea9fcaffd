package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"handoverphotos/internal/config"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/migration"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/storage"
	"handoverphotos/internal/testsupport"
)

type fixture struct {
	cfg    *config.Config
	store  *queue.Store
	daemon *Daemon
	server *httptest.Server
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	return newFixtureWithStore(t, cfg, store)
}

func newFixtureWithStore(t *testing.T, cfg *config.Config, store *queue.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNop()

	backend, err := storage.New(ctx, cfg)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	reg := prometheus.NewRegistry()
	registry := jobs.NewRegistry()
	photos.RegisterHandlers(registry, store, backend, logger)
	broker, err := jobs.New(cfg, store, registry, jobs.WithLogger(logger), jobs.WithMetrics(jobs.NewMetrics(reg)))
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	pipeline := jobs.NewPipeline(broker, registry, jobs.PipelineOptions{
		BacklogThreshold: int64(cfg.Jobs.BacklogThreshold),
		Logger:           logger,
	})
	gate, err := LoadGate(ctx, cfg, store, logger)
	if err != nil {
		t.Fatalf("LoadGate: %v", err)
	}
	migrator := migration.NewService(cfg, store, backend, migration.NewJSONReader(cfg.Migration.LegacyJSONPath),
		migration.WithMetrics(migration.NewMetrics(reg)),
		migration.WithLogger(logger),
	)

	d, err := New(cfg, store, logger, Deps{
		Backend:   backend,
		Gate:      gate,
		Pipeline:  pipeline,
		Photos:    photos.NewService(cfg, store, backend, pipeline, gate, logger),
		Migration: migrator,
		Metrics:   reg,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	t.Cleanup(server.Close)
	return &fixture{cfg: cfg, store: store, daemon: d, server: server}
}

type part struct {
	name        string
	contentType string
	data        []byte
}

func (f *fixture) upload(t *testing.T, protocolID, userID string, parts ...part) *http.Response {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField(formProtocolID, protocolID)
	if userID != "" {
		_ = form.WriteField(formUserID, userID)
	}
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="photos"; filename="`+p.name+`"`)
		header.Set("Content-Type", p.contentType)
		w, err := form.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = w.Write(p.data)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	resp, err := http.Post(f.server.URL+"/api/v2/protocols/photos/upload", form.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) do(t *testing.T, method, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, data)
	}
}
