package model

import (
	"path"
	"time"
)

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// SubmitRequest is the body of POST /api/v1/jobs.
type SubmitRequest struct {
	Host    string `json:"host"`
	WorkDir string `json:"work_dir"`
	Script  string `json:"script"`
}

// Validate reports every missing or malformed field.
func (r SubmitRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Host == "" {
		errs = append(errs, FieldError{Field: "host", Message: "host is required"})
	}
	if r.WorkDir == "" {
		errs = append(errs, FieldError{Field: "work_dir", Message: "work_dir is required"})
	} else if !path.IsAbs(r.WorkDir) {
		errs = append(errs, FieldError{Field: "work_dir", Message: "work_dir must be absolute"})
	}
	if r.Script == "" {
		errs = append(errs, FieldError{Field: "script", Message: "script is required"})
	}
	return errs
}

// SubmitResponse is returned after a successful submission.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// KillResponse reports whether a kill request took effect.
type KillResponse struct {
	JobID  string `json:"job_id"`
	Killed bool   `json:"killed"`
}
