package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/firebridge/internal/scheduler"
	"github.com/me/firebridge/pkg/model"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	host := r.URL.Query().Get("host")
	if host == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("host is required", model.FieldError{Field: "host", Message: "query parameter is required"}))
		return
	}

	sched, ok := s.resolve(w, reqID, host)
	if !ok {
		return
	}
	infos, err := sched.List(r.Context(), host, r.URL.Query()["id"])
	if err != nil {
		var qe *model.QueryError
		if errors.As(err, &qe) && qe.Err == nil {
			details := make([]model.FieldError, 0, len(qe.JobIDs))
			for _, id := range qe.JobIDs {
				details = append(details, model.FieldError{Field: "id", Message: "unknown job " + id})
			}
			respondError(w, reqID, http.StatusNotFound,
				&model.APIError{Code: model.ErrNotFoundCode, Message: qe.Error(), Details: details})
			return
		}
		s.logger.Error("list jobs", "host", host, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, infos)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	rec, ok := s.lookupJob(w, r, reqID)
	if !ok {
		return
	}
	respondOK(w, reqID, rec)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid submit request", errs...))
		return
	}

	sched, ok := s.resolve(w, reqID, req.Host)
	if !ok {
		return
	}
	id, err := sched.Submit(r.Context(), req.WorkDir, req.Script)
	if err != nil {
		status, apiErr := submitError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	respondCreated(w, reqID, model.SubmitResponse{JobID: id})
}

func (s *Server) handleKillJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	rec, ok := s.lookupJob(w, r, reqID)
	if !ok {
		return
	}
	sched, ok := s.resolve(w, reqID, rec.HostID)
	if !ok {
		return
	}
	respondOK(w, reqID, model.KillResponse{JobID: rec.IDString(), Killed: sched.Kill(r.Context(), rec.IDString())})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request, reqID string) (*model.JobRecord, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid job id", model.FieldError{Field: "id", Message: raw + " is not a job id"}))
		return nil, false
	}
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", raw))
		return nil, false
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return nil, false
	}
	return rec, true
}

func (s *Server) resolve(w http.ResponseWriter, reqID, host string) (scheduler.Scheduler, bool) {
	sched, err := s.schedulers(host)
	if err != nil {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.ErrNotFoundCode, Message: err.Error()})
		return nil, false
	}
	return sched, true
}

// submitError maps a submit failure onto an HTTP status.
func submitError(err error) (int, *model.APIError) {
	var se *model.SubmissionError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError, model.NewInternalError(err.Error())
	}
	switch se.Stage {
	case scheduler.StageParse, scheduler.StageBuild:
		return http.StatusUnprocessableEntity, model.NewValidationError(err.Error())
	case scheduler.StageTransfer:
		return http.StatusBadGateway, &model.APIError{Code: model.ErrTransport, Message: err.Error()}
	}
	return http.StatusInternalServerError, model.NewInternalError(err.Error())
}
