package engine

import (
	"errors"
	"fmt"
)

// SyncError represents an error detected by the engine itself (as opposed to
// store or transport errors, which are wrapped and passed through).
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// EntityType and RecordID identify the affected record, when known.
	EntityType string
	RecordID   string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes engine errors.
type SyncErrorCode string

const (
	// ErrCodeConflictUnresolved indicates the conflict policy produced no
	// decision. Should not occur with the three supported policies.
	ErrCodeConflictUnresolved SyncErrorCode = "CONFLICT_UNRESOLVED"

	// ErrCodeUnknownPolicy indicates a policy name outside the supported set.
	ErrCodeUnknownPolicy SyncErrorCode = "UNKNOWN_POLICY"

	// ErrCodeInvalidOperation indicates a queue operation outside create/update/delete.
	ErrCodeInvalidOperation SyncErrorCode = "INVALID_OPERATION"

	// ErrCodeNotRetryable indicates RetryFailed was called on an item that is
	// absent or not in the failed state.
	ErrCodeNotRetryable SyncErrorCode = "NOT_RETRYABLE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EntityType != "" || e.RecordID != "" {
		msg = fmt.Sprintf("%s (type=%s, id=%s)", msg, e.EntityType, e.RecordID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsConflictUnresolved returns true if err is a CONFLICT_UNRESOLVED error.
// Uses errors.As to handle wrapped errors.
func IsConflictUnresolved(err error) bool {
	return hasCode(err, ErrCodeConflictUnresolved)
}

// IsNotRetryable returns true if err is a NOT_RETRYABLE error.
func IsNotRetryable(err error) bool {
	return hasCode(err, ErrCodeNotRetryable)
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// NewConflictUnresolvedError creates a SyncError for a conflict the policy
// could not decide.
func NewConflictUnresolvedError(policy Policy, entityType, recordID string) *SyncError {
	return &SyncError{
		Code:       ErrCodeConflictUnresolved,
		Message:    fmt.Sprintf("policy %q produced no resolution", policy),
		EntityType: entityType,
		RecordID:   recordID,
	}
}
