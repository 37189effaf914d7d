package server

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/me/firebridge/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Store     string `json:"store"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     "ok",
	}
	// Ids start at 1, so a lookup of 0 only proves the database answers.
	if _, err := s.store.Get(r.Context(), 0); err != nil && !errors.Is(err, model.ErrNotFound) {
		s.logger.Warn("store health check failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
	}
	respondOK(w, reqID, resp)
}
