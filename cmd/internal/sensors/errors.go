package sensors

import (
	"errors"
	"fmt"

	rtv1 "motionhub/shared/contracts/realtime/v1"
)

var (
	ErrNotFound     = errors.New("sensors: not found")
	ErrConflict     = errors.New("sensors: conflict")
	ErrInvalidInput = errors.New("sensors: invalid input")
	ErrInactive     = errors.New("sensors: device inactive")
)

// ConflictError reports a uniqueness violation on a logical field ("device_id", "token").
type ConflictError struct {
	Field string
}

func (e ConflictError) Error() string { return fmt.Sprintf("%v: %s", ErrConflict, e.Field) }
func (e ConflictError) Unwrap() error { return ErrConflict }

// OwnerConflictError is returned when an account reports for a device owned by someone else
// and the policy forbids reassignment.
type OwnerConflictError struct {
	DeviceID string
	OwnerID  string
}

func (e OwnerConflictError) Error() string {
	return fmt.Sprintf("sensors: device %q belongs to another account", e.DeviceID)
}

// IngestError is the typed failure of Ingestor.Ingest. Code is a stable wire code; Message is safe
// to show to clients; Err, when set, carries the underlying cause for logs only.
type IngestError struct {
	Code    string
	Message string
	Err     error
}

func (e *IngestError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + ": " + e.Err.Error()
}

func (e *IngestError) Unwrap() error { return e.Err }

func ingestErr(code, msg string, cause error) *IngestError {
	return &IngestError{Code: code, Message: msg, Err: cause}
}

// AsIngestError extracts an IngestError, classifying any other error as persist_failed.
func AsIngestError(err error) *IngestError {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie
	}
	return ingestErr(rtv1.CodePersistFailed, "could not store event", err)
}
