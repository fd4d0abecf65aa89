package ism

import "fmt"

// InvariantError reports a configuration change that would violate a
// protocol invariant. It is raised before any transaction is built.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ism: %s", e.Message)
}

// VerificationError reports an attestation set that does not authorize a
// message.
type VerificationError struct {
	Domain    uint32
	Got       int
	Threshold uint32
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("ism: %d of %d required validator signatures for domain %d", e.Got, e.Threshold, e.Domain)
}
