package model

import (
	"errors"
	"strings"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFoundCode, Message: "job '42' not found"}
	want := "NOT_FOUND: job '42' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("job", "42")
	if err.Code != ErrNotFoundCode {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFoundCode)
	}
	if err.Message != "job '42' not found" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestParseError_ListsAllMissing(t *testing.T) {
	err := &ParseError{Missing: []string{"job_name", "process_count", "wall_clock_seconds"}}
	msg := err.Error()
	for _, f := range err.Missing {
		if !strings.Contains(msg, f) {
			t.Errorf("Error() = %q, missing field %q", msg, f)
		}
	}
}

func TestParseError_Line(t *testing.T) {
	err := &ParseError{Line: 3, Content: "#$ -pe mpi x", Reason: "invalid process count"}
	want := "parse error at line 3 (#$ -pe mpi x): invalid process count"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSubmissionError_Unwrap(t *testing.T) {
	inner := &ParseError{Missing: []string{"job_name"}}
	err := error(&SubmissionError{Stage: "parse", WorkDir: "/w", Script: "s.sh", Err: inner})

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should find the ParseError")
	}
	if pe.Missing[0] != "job_name" {
		t.Errorf("Missing = %v", pe.Missing)
	}
}

func TestQueryError(t *testing.T) {
	err := &QueryError{JobIDs: []string{"7", "9"}}
	if got := err.Error(); got != "no job found for ids: 7, 9" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := &QueryError{JobIDs: []string{"x"}, Err: ErrNotFound}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("errors.Is should see ErrNotFound")
	}
}

func TestTransportError(t *testing.T) {
	err := &TransportError{Command: "touch /x/FW_STOP", ExitCode: 1, Stderr: "permission denied\n"}
	want := `remote command "touch /x/FW_STOP" exited 1: permission denied`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
