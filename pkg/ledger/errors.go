// Ledger query error types.
//
// Lookup failures carry enough context (asset unit, address, transaction id)
// for an operator to act on; they are never silently treated as "create new
// state".
package ledger

import (
	"errors"
	"fmt"
)

// QueryError is returned when the query service answers with an unexpected
// status or an undecodable body.
type QueryError struct {
	Endpoint string // Request path that failed
	Status   int    // HTTP status, 0 for transport errors
	Message  string // Human-readable error message
	Cause    error  // Underlying error (if any)
}

func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger query %s (status %d): %s: %v", e.Endpoint, e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("ledger query %s (status %d): %s", e.Endpoint, e.Status, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NotFoundError is returned when a lookup that must resolve (marker token,
// transaction outputs) has no result.
type NotFoundError struct {
	Kind    string // What was looked up: "marker token", "transaction", ...
	Subject string // The asset unit, address or id that was queried
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Subject)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// SubmitError is returned when the query service rejects a submission.
// The transaction may still have been broadcast; callers must use
// existence-based idempotency checks before any resubmission.
type SubmitError struct {
	Message string
	Cause   error
}

func (e *SubmitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("submit: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("submit: %s", e.Message)
}

func (e *SubmitError) Unwrap() error {
	return e.Cause
}
