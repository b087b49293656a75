package service

import (
	"errors"
	"fmt"

	"settlement-gateway/internal/models"
)

var (
	ErrIntentNotFound       = errors.New("payment intent not found")
	ErrGatewayNotConfigured = errors.New("gateway not configured")
	// ErrRequestInProgress is returned while another request holds the
	// creation lock for the same order number.
	ErrRequestInProgress = errors.New("request for this order is already in progress")
)

// ValidationError is a caller mistake. It is never retried.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthenticityError rejects a callback whose origin could not be proven.
type AuthenticityError struct {
	Gateway      string
	Verification models.Verification
}

func (e *AuthenticityError) Error() string {
	return fmt.Sprintf("%s callback failed verification (%s)", e.Gateway, e.Verification)
}

// StateConflictError is an illegal status transition. Retrying cannot fix it.
type StateConflictError struct {
	IntentID string
	From     models.IntentStatus
	To       models.IntentStatus
	Err      error
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("intent %s: cannot move from %s to %s", e.IntentID, e.From, e.To)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

// CommitFailure means the settlement store failed. The intent is unchanged and
// the same outcome can be delivered again.
type CommitFailure struct {
	IntentID string
	Err      error
}

func (e *CommitFailure) Error() string {
	return fmt.Sprintf("commit intent %s: %v", e.IntentID, e.Err)
}

func (e *CommitFailure) Unwrap() error { return e.Err }
