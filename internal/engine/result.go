package engine

import (
	"errors"

	"airtech/internal/perm"
	"airtech/internal/repo"
)

// Report is the discriminated result handed to UI consumers. Operations
// never panic or throw across this boundary; every outcome, including
// storage faults, becomes a Report.
type Report struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Succeeded builds a success report with an optional record id.
func Succeeded(message, id string) Report {
	return Report{Success: true, ID: id, Message: message}
}

// Failed classifies err into the consumer-facing failure report. Storage
// detail is reduced to a diagnostic string, never re-raised.
func Failed(err error) Report {
	var vErr ValidationError
	if errors.As(err, &vErr) {
		return Report{Success: false, Message: "Validation failed", Error: vErr.Error()}
	}
	var denied perm.DeniedError
	if errors.As(err, &denied) {
		return Report{Success: false, Message: "PermissionDenied", Error: denied.Error()}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return Report{Success: false, Message: "NotFound"}
	}
	return Report{Success: false, Message: "StorageFailure", Error: err.Error()}
}
