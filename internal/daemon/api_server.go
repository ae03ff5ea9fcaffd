package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"handoverphotos/internal/api"
	"handoverphotos/internal/config"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/services"
	"handoverphotos/internal/storage"
)

type apiServer struct {
	bind   string
	cfg    *config.Config
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/protocols/photos/upload", srv.handleUpload)
	mux.HandleFunc("GET /api/v2/protocols/photos/{photoId}/status", srv.handlePhotoStatus)
	mux.HandleFunc("GET /api/v2/protocols/photos/{photoId}/manifest", srv.handlePhotoManifest)
	mux.HandleFunc("DELETE /api/v2/protocols/photos/{photoId}", srv.handlePhotoDelete)
	mux.HandleFunc("GET /api/v2/protocols/{protocolId}/photos", srv.handleProtocolPhotos)
	mux.HandleFunc("POST /api/v2/protocols/{protocolId}/generate-manifest", srv.handleGenerateManifest)
	mux.HandleFunc("GET /api/v2/protocols/{protocolId}/manifest", srv.handleProtocolManifest)

	mux.HandleFunc("GET /api/v2/queue/stats", srv.handleQueueStats)

	mux.HandleFunc("GET /api/v2/flags", srv.handleFlagList)
	mux.HandleFunc("GET /api/v2/flags/{key}", srv.handleFlagGet)
	mux.HandleFunc("PATCH /api/v2/flags/{key}", srv.handleFlagPatch)
	mux.HandleFunc("GET /api/v2/flags/{key}/evaluate", srv.handleFlagEvaluate)

	mux.HandleFunc("POST /api/v2/migration/start", srv.handleMigrationStart)
	mux.HandleFunc("GET /api/v2/migration/progress", srv.handleMigrationProgress)
	mux.HandleFunc("POST /api/v2/migration/rollback/{batchId}", srv.handleMigrationRollback)
	mux.HandleFunc("GET /api/v2/migration/validate/{protocolId}", srv.handleMigrationValidate)

	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.Handle("GET /metrics", metricsHandler(d.deps.Metrics))

	if local, ok := d.deps.Backend.(*storage.Local); ok && cfg.Storage.PublicBaseURL == "" {
		mux.Handle("GET /objects/", objectsHandler(local.Root()))
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// objectsHandler serves locally stored objects without directory listings.
func objectsHandler(root string) http.Handler {
	files := http.StripPrefix("/objects/", http.FileServer(http.Dir(root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, r)
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = s.listener.Close()
	s.listener = nil
}

// Addr reports the bound listener address, or "" before start.
func (s *apiServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError maps err to a status code and writes an ErrorResponse.
func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_error",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Details(err).Hint),
		)
	}
	s.writeJSON(w, status, api.Errorf(err))
}

func (s *apiServer) decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode", "malformed request body", err)
	}
	return nil
}

// httpStatus chooses the response code for an error kind.
func httpStatus(err error) int {
	switch services.Kind(err) {
	case "validation", "invalid_input", "empty_input":
		return http.StatusBadRequest
	case "unsupported_media":
		return http.StatusUnsupportedMediaType
	case "limit_exceeded":
		return http.StatusRequestEntityTooLarge
	case "not_found":
		return http.StatusNotFound
	case "disabled":
		return http.StatusForbidden
	case "transient", "configuration":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
