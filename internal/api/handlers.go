package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/provider"
	"github.com/carebridge/inbox-triage/internal/repository/postgres"
	"github.com/carebridge/inbox-triage/internal/scheduler"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

// handleManualSync runs a synchronous sync for the source on behalf of the
// caregiver named in X-Caregiver-ID and returns the run's counts.
func (s *Server) handleManualSync(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")
	callerID := r.Header.Get("X-Caregiver-ID")
	if callerID == "" {
		writeError(w, http.StatusBadRequest, "X-Caregiver-ID header required")
		return
	}

	result, err := s.syncer.SyncSource(r.Context(), sourceID, callerID, domain.ReasonManual)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, postgres.ErrNotFound):
		writeError(w, http.StatusNotFound, "source not found")
	case errors.Is(err, scheduler.ErrSourceDisconnected), errors.Is(err, scheduler.ErrSourceErrored),
		errors.Is(err, scheduler.ErrNotOwner), errors.Is(err, provider.ErrAuthRevoked):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	caregiverID := r.URL.Query().Get("caregiver_id")
	if caregiverID == "" {
		writeError(w, http.StatusBadRequest, "caregiver_id required")
		return
	}
	sources, err := s.sources.ListByCaregiver(r.Context(), caregiverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	caregiverID := r.URL.Query().Get("caregiver_id")
	if caregiverID == "" {
		writeError(w, http.StatusBadRequest, "caregiver_id required")
		return
	}
	reviewState := domain.ReviewState(r.URL.Query().Get("review_state"))
	tasks, err := s.tasks.ListByCaregiver(r.Context(), caregiverID, reviewState, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleIgnoreTask marks a task ignored and feeds the ignore into the
// suppression learner, which is how repeated ignores of a sender eventually
// silence the sender entirely.
func (s *Server) handleIgnoreTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.tasks.Ignore(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sup, err := s.learner.RecordIgnore(r.Context(), task.CaregiverID, task.Provider, task.SenderDomain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"task": task}
	if sup != nil {
		resp["suppression"] = sup
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	caregiverID := r.URL.Query().Get("caregiver_id")
	if caregiverID == "" {
		writeError(w, http.StatusBadRequest, "caregiver_id required")
		return
	}
	rows, err := s.learner.List(r.Context(), caregiverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppressions": rows})
}

type suppressionRequest struct {
	CaregiverID  string          `json:"caregiver_id"`
	Provider     domain.Provider `json:"provider"`
	SenderDomain string          `json:"sender_domain"`
}

func (req *suppressionRequest) valid() bool {
	return req.CaregiverID != "" && req.Provider != "" && req.SenderDomain != ""
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.valid() {
		writeError(w, http.StatusBadRequest, "caregiver_id, provider, and sender_domain required")
		return
	}
	sup, err := s.learner.Suppress(r.Context(), req.CaregiverID, req.Provider, req.SenderDomain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sup)
}

func (s *Server) handleUnsuppress(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.valid() {
		writeError(w, http.StatusBadRequest, "caregiver_id, provider, and sender_domain required")
		return
	}
	sup, err := s.learner.Unsuppress(r.Context(), req.CaregiverID, req.Provider, req.SenderDomain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sup)
}
