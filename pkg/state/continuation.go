// Package state implements the state-continuation protocol shared by every
// stateful contract.
//
// On an otherwise stateless ledger, a contract's "current state" is the one
// unspent output carrying its marker token. Updating state means spending
// that output and producing a continuation output in the same transaction:
// same address, same marker token and quantity, new datum. The ledger is
// the only arbiter between racing writers: whichever transaction confirms
// first invalidates the other's input, so the client's job is a single
// read, compute, conditional-replace attempt, never retry loops.
package state

import (
	"bytes"
	"context"
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// Locate finds the contract's live state UTXO by its marker token.
func Locate(ctx context.Context, c ledger.Client, marker ledger.AssetID) (*ledger.Utxo, error) {
	return c.FindUtxoByToken(ctx, marker)
}

// LocateByAddress is the fallback used when the token index is unavailable:
// scan the script address for an output with an inline datum. Exactly one
// must exist; if address reuse has produced several, the ambiguity is
// surfaced instead of resolved arbitrarily.
func LocateByAddress(ctx context.Context, c ledger.Client, address string) (*ledger.Utxo, error) {
	utxos, err := c.GetUtxos(ctx, address)
	if err != nil {
		return nil, err
	}
	var found *ledger.Utxo
	for i := range utxos {
		if !utxos[i].HasInlineDatum() {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("state: %d datum-carrying utxos at %s, cannot identify subject", countDatums(utxos), address)
		}
		found = &utxos[i]
	}
	if found == nil {
		return nil, &ledger.NotFoundError{Kind: "state utxo", Subject: address}
	}
	return found, nil
}

func countDatums(utxos []ledger.Utxo) int {
	n := 0
	for i := range utxos {
		if utxos[i].HasInlineDatum() {
			n++
		}
	}
	return n
}

// Read decodes the subject's inline datum, failing closed when absent or
// malformed.
func Read(u *ledger.Utxo) (plutus.Data, error) {
	if !u.HasInlineDatum() {
		return nil, &MalformedDatumError{Utxo: u.Ref.String(), Message: "no inline datum"}
	}
	d, err := plutus.Decode(u.InlineDatum)
	if err != nil {
		return nil, &MalformedDatumError{Utxo: u.Ref.String(), Message: "undecodable datum", Cause: err}
	}
	return d, nil
}

// ParseDatum decodes the subject's datum and applies parse, retrying once
// with the extra outer constructor wrapper stripped.
func ParseDatum(u *ledger.Utxo, parse func(plutus.Data) error) error {
	d, err := Read(u)
	if err != nil {
		return err
	}
	firstErr := parse(d)
	if firstErr == nil {
		return nil
	}
	if inner, ok := plutus.Unwrapped(d); ok {
		if err := parse(inner); err == nil {
			return nil
		}
	}
	return &MalformedDatumError{Utxo: u.Ref.String(), Message: "unexpected datum shape", Cause: firstErr}
}

// ContinuationOutput builds the replacement state output: the subject's
// address and full value (marker token included), carrying the new datum.
// deposit adds coin (gas payment), withdraw removes it (claims); both are
// zero for every action not explicitly allowed to move funds.
func ContinuationOutput(subject *ledger.Utxo, newDatum plutus.Data, deposit, withdraw uint64) (txbuilder.Output, error) {
	if withdraw > subject.Value.Coin {
		return txbuilder.Output{}, fmt.Errorf("state: withdrawal %d exceeds subject value %d", withdraw, subject.Value.Coin)
	}
	value := ledger.Value{
		Coin:   subject.Value.Coin + deposit - withdraw,
		Assets: append([]ledger.AssetQuantity(nil), subject.Value.Assets...),
	}
	return txbuilder.Output{
		Address:     subject.Address,
		Value:       value,
		InlineDatum: newDatum,
	}, nil
}

// VerifyContinuation checks the invariant every state transition must hold:
// the produced output preserves the subject's address and its marker token
// policy, name and quantity.
func VerifyContinuation(subject *ledger.Utxo, marker ledger.AssetID, out *txbuilder.Output) error {
	if out.Address != subject.Address {
		return fmt.Errorf("state: continuation address %s differs from subject %s", out.Address, subject.Address)
	}
	want := subject.Value.QuantityOf(marker)
	if want == 0 {
		return fmt.Errorf("state: subject %s does not hold marker %s", subject.Ref, marker.Unit())
	}
	if got := out.Value.QuantityOf(marker); got != want {
		return fmt.Errorf("state: continuation carries %d of marker %s, subject had %d", got, marker.Unit(), want)
	}
	return nil
}

// CheckOwner mirrors the on-chain required-signer check locally so a
// transaction that would fail authorization is rejected before burning a
// fee.
func CheckOwner(recorded []byte, signer [28]byte, role string) error {
	if len(recorded) != len(signer) || !bytes.Equal(recorded, signer[:]) {
		return &AuthorizationError{Role: role}
	}
	return nil
}
