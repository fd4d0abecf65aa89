package relayer

import (
	"encoding/hex"
	"fmt"
)

// AlreadyDeliveredError reports a delivery attempt for a message whose
// delivery marker already exists on chain. Resubmission is suppressed;
// the marker is the proof of delivery.
type AlreadyDeliveredError struct {
	MessageID [32]byte
	Marker    string // ref of the existing marker output
}

func (e *AlreadyDeliveredError) Error() string {
	return fmt.Sprintf("relayer: message %s already delivered, marker at %s",
		hex.EncodeToString(e.MessageID[:]), e.Marker)
}

// ComponentError reports a delivery component that could not be resolved
// during the build step.
type ComponentError struct {
	Component string
	Cause     error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("relayer: resolving %s: %v", e.Component, e.Cause)
}

func (e *ComponentError) Unwrap() error { return e.Cause }
