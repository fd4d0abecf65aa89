// Coin-selection and assembly error types. Resource errors name the unmet
// constraint explicitly so an operator can fund or re-shape the wallet
// instead of guessing.
package txbuilder

import "fmt"

// InsufficientFundsError is returned when the spendable value-only outputs
// cannot cover the required floor.
type InsufficientFundsError struct {
	Required  uint64 // Floor: fee estimate + min output values + collateral
	Available uint64 // Total value of qualifying candidates
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d lovelace, have %d (short %d)",
		e.Required, e.Available, e.Required-e.Available)
}

// OrderingConstraintError is returned when no fee-input candidate sorts
// before the subject input under canonical input ordering. Script logic
// derives the message sender from the first ordered input, so picking a
// non-conforming input silently would change who the script treats as
// sender.
type OrderingConstraintError struct {
	Subject string // The subject UTXO reference the input must precede
}

func (e *OrderingConstraintError) Error() string {
	return fmt.Sprintf("no spendable input sorts before subject utxo %s under canonical input ordering", e.Subject)
}

// NoCollateralError is returned when no token-free, script-free output can
// serve as collateral, or when the best candidate falls short of the
// protocol's collateral floor.
type NoCollateralError struct {
	Address  string
	Required uint64 // collateral floor, zero when no candidate exists at all
}

func (e *NoCollateralError) Error() string {
	if e.Required > 0 {
		return fmt.Sprintf("collateral at %s is below the required %d lovelace", e.Address, e.Required)
	}
	return fmt.Sprintf("no token-free collateral candidate at %s", e.Address)
}
