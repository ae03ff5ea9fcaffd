package uploadqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"handoverphotos/internal/api"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/services"
)

// Paths of the daemon endpoints used by the channel.
const (
	UploadPath = "/api/v2/protocols/photos/upload"
	StatusPath = "/api/v2/protocols/photos/%s/status"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// HTTPChannel submits photos to the daemon and polls their status. It
// implements both Submitter and StatusSource.
type HTTPChannel struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// ChannelOption customizes an HTTPChannel.
type ChannelOption func(*HTTPChannel)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(client *http.Client) ChannelOption {
	return func(c *HTTPChannel) {
		if client != nil {
			c.client = client
		}
	}
}

// WithChannelLogger sets the channel logger.
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(c *HTTPChannel) { c.logger = logger }
}

// NewHTTPChannel targets the daemon at baseURL.
func NewHTTPChannel(baseURL string, opts ...ChannelOption) *HTTPChannel {
	c := &HTTPChannel{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  cleanhttp.DefaultPooledClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "uploadqueue.http")
	return c
}

// Submit posts one file as multipart form data.
func (c *HTTPChannel) Submit(ctx context.Context, sub Submission) (Accepted, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("protocolId", sub.ProtocolID); err != nil {
		return Accepted{}, fmt.Errorf("write form: %w", err)
	}
	if sub.UserID != "" {
		if err := form.WriteField("userId", sub.UserID); err != nil {
			return Accepted{}, fmt.Errorf("write form: %w", err)
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photos"; filename=%q`, sub.FileName))
	contentType := sub.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return Accepted{}, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(sub.Data); err != nil {
		return Accepted{}, fmt.Errorf("write form part: %w", err)
	}
	if err := form.Close(); err != nil {
		return Accepted{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+UploadPath, &body)
	if err != nil {
		return Accepted{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var resp api.UploadResponse
	if err := c.do(req, "submit", &resp); err != nil {
		return Accepted{}, err
	}
	if len(resp.Results.Photos) == 0 {
		return Accepted{}, services.Wrap(services.ErrTransient, "uploadqueue", "submit", "response lists no photos", nil)
	}
	photo := resp.Results.Photos[0]
	if !photo.Success || photo.PhotoID == "" {
		msg := photo.Error
		if msg == "" {
			msg = resp.Error
		}
		return Accepted{}, services.Wrap(services.Marker(photo.Kind), "uploadqueue", "submit", msg, nil)
	}
	if !resp.Success {
		return Accepted{}, services.Wrap(services.ErrTransient, "uploadqueue", "submit", resp.Error, nil)
	}
	return Accepted{PhotoID: photo.PhotoID, OriginalURL: photo.OriginalURL, JobID: photo.JobID}, nil
}

// Status fetches the processing state of a submitted photo.
func (c *HTTPChannel) Status(ctx context.Context, photoID string) (RemoteStatus, error) {
	endpoint := c.baseURL + fmt.Sprintf(StatusPath, url.PathEscape(photoID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RemoteStatus{}, fmt.Errorf("build status request: %w", err)
	}
	var resp api.PhotoStatusResponse
	if err := c.do(req, "status", &resp); err != nil {
		return RemoteStatus{}, err
	}
	if !resp.Success || resp.Photo == nil {
		return RemoteStatus{}, services.Wrap(services.ErrTransient, "uploadqueue", "status", resp.Error, nil)
	}
	status := RemoteStatus{
		Status:   resp.Photo.Status,
		Progress: resp.Photo.Progress,
		URLs:     resp.Photo.URLs.Map(),
		Error:    resp.Photo.Error,
	}
	if resp.Photo.ProcessedAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.Photo.ProcessedAt); err == nil {
			status.ProcessedAt = &t
		}
	}
	return status, nil
}

// do sends req and decodes a JSON body into out. Transport failures and
// unexpected responses are transient; error bodies keep their kind.
func (c *HTTPChannel) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return services.Wrap(services.ErrTransient, "uploadqueue", op, "request interrupted", ctxErr)
		}
		return services.Wrap(services.ErrTransient, "uploadqueue", op, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return services.Wrap(services.ErrTransient, "uploadqueue", op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		marker := services.ErrTransient
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = fmt.Sprintf("status %d: %s", resp.StatusCode, apiErr.Error)
			if resp.StatusCode < 500 {
				marker = services.Marker(apiErr.Kind)
			}
		}
		c.logger.Debug("daemon request rejected",
			logging.String("operation", op),
			logging.Int("status", resp.StatusCode),
			logging.String("kind", apiErr.Kind),
		)
		return services.Wrap(marker, "uploadqueue", op, msg, nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return services.Wrap(services.ErrTransient, "uploadqueue", op, "decode response", err)
	}
	return nil
}
