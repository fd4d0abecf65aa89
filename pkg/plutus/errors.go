// Script-data decode errors.
//
// Decoding fails closed: a structural mismatch in a datum that records
// ownership or balances must never be coerced into a default value, so every
// failure carries a code an operator can act on.
package plutus

import "fmt"

// DecodeError is returned when script data cannot be parsed.
type DecodeError struct {
	Code    string // Error code (e.g., ErrTruncated, ErrUnexpectedType)
	Message string // Human-readable error message
	Cause   error  // Underlying error (if any)
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plutus decode [%s]: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("plutus decode [%s]: %s", e.Code, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Decode error codes.
const (
	ErrTruncated      = "TRUNCATED"       // Input ended mid-value
	ErrUnexpectedType = "UNEXPECTED_TYPE" // Wire item is not valid script data
	ErrIntegerRange   = "INTEGER_RANGE"   // Integer outside the supported int64 range
	ErrTrailingData   = "TRAILING_DATA"   // Extra bytes after a complete value
)
