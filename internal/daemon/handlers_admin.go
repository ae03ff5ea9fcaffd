package daemon

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"handoverphotos/internal/api"
	"handoverphotos/internal/migration"
	"handoverphotos/internal/services"
)

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	pipeline := s.daemon.deps.Pipeline
	s.writeJSON(w, http.StatusOK, api.QueueStatsResponse{
		Success:   true,
		Broker:    pipeline.Broker().Name(),
		Counts:    api.FromCounts(pipeline.Counts()),
		Healthy:   !pipeline.Backlogged(),
		Threshold: int(pipeline.Threshold()),
	})
}

func (s *apiServer) handleFlagList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FlagListResponse{
		Success: true,
		Flags:   api.FromFlags(s.daemon.deps.Gate.ListAll()),
	})
}

func (s *apiServer) handleFlagGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	flag, ok := s.daemon.deps.Gate.Get(key)
	if !ok {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "flag", fmt.Sprintf("flag %s is not defined", key), nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.FlagResponse{Success: true, Flag: api.FromFlag(flag)})
}

// handleFlagPatch applies a partial update. Unknown keys are created.
func (s *apiServer) handleFlagPatch(w http.ResponseWriter, r *http.Request) {
	var body api.FlagPatch
	if err := s.decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch, err := body.ToPatch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	flag, err := s.daemon.deps.Gate.Update(r.PathValue("key"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FlagResponse{Success: true, Flag: api.FromFlag(flag)})
}

func (s *apiServer) handleFlagEvaluate(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	decision := s.daemon.deps.Gate.Evaluate(r.PathValue("key"), subject)
	s.writeJSON(w, http.StatusOK, api.FromDecision(decision))
}

func (s *apiServer) migrationService(w http.ResponseWriter, r *http.Request) (*migration.Service, bool) {
	svc := s.daemon.deps.Migration
	if svc == nil {
		s.writeError(w, r, services.Wrap(services.ErrDisabled, "api", "migration", "migration is not configured on this daemon", nil))
		return nil, false
	}
	return svc, true
}

// handleMigrationStart launches a run that continues after the response.
func (s *apiServer) handleMigrationStart(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.migrationService(w, r)
	if !ok {
		return
	}
	var req api.MigrationStartRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := req.ToMigrationOptions()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	progress, err := svc.Start(s.daemon.runContext(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.MigrationProgressResponse{
		Success:  true,
		Progress: api.FromMigrationProgress(progress, time.Now()),
	})
}

func (s *apiServer) handleMigrationProgress(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.migrationService(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.MigrationProgressResponse{
		Success:  true,
		Progress: api.FromMigrationProgress(svc.Progress(), time.Now()),
	})
}

func (s *apiServer) handleMigrationRollback(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.migrationService(w, r)
	if !ok {
		return
	}
	batchID := r.PathValue("batchId")
	removed, err := svc.Rollback(r.Context(), batchID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RollbackResponse{Success: true, BatchID: batchID, Removed: removed})
}

func (s *apiServer) handleMigrationValidate(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.migrationService(w, r)
	if !ok {
		return
	}
	result, err := svc.Validate(r.Context(), r.PathValue("protocolId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromValidation(result))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}
