package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Endpoints []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:    "firebridge API",
		Version: "v1",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/api/v1/jobs", []string{"GET"}, "Unfinished jobs of ?host=, optionally limited by repeated ?id="},
			{"/api/v1/jobs", []string{"POST"}, "Submit the script in a working directory"},
			{"/api/v1/jobs/{id}", []string{"GET"}, "Single job record"},
			{"/api/v1/jobs/{id}/kill", []string{"POST"}, "Stop a running job or defuse a queued one"},
		},
	})
}
