package state

import "fmt"

// MalformedDatumError reports a state UTXO whose inline datum is missing,
// undecodable, or not of the expected shape. Malformed state always fails
// the operation; it is never silently reinitialized.
type MalformedDatumError struct {
	Utxo    string
	Message string
	Cause   error
}

func (e *MalformedDatumError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("state: %s at %s: %v", e.Message, e.Utxo, e.Cause)
	}
	return fmt.Sprintf("state: %s at %s", e.Message, e.Utxo)
}

func (e *MalformedDatumError) Unwrap() error { return e.Cause }

// AuthorizationError reports a transition attempted by a key that does not
// match the role recorded in the contract's datum.
type AuthorizationError struct {
	Role string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("state: signing key is not the recorded %s", e.Role)
}
