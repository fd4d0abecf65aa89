// Package mailbox manages the mailbox contract state: the local domain,
// the default security module, the outbound nonce and the message
// accumulator.
package mailbox

import (
	"context"
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/merkle"
	"github.com/suffix-labs/cardano-mailbox/pkg/message"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// Datum is the mailbox contract's state.
type Datum struct {
	LocalDomain uint32
	DefaultISM  [28]byte // marker policy of the default security module
	Owner       []byte   // 28-byte payment key hash
	Nonce       uint32   // next outbound message nonce
	Tree        merkle.Tree
}

// ToData encodes the datum in the shape the validator checks structural
// equality against.
func (d *Datum) ToData() plutus.Data {
	return plutus.NewConstr(0,
		plutus.Int(d.LocalDomain),
		plutus.Bytes(d.DefaultISM[:]),
		plutus.Bytes(d.Owner),
		plutus.Int(d.Nonce),
		d.Tree.ToData(),
	)
}

// DatumFromData decodes a mailbox datum, failing closed on shape
// mismatch.
func DatumFromData(data plutus.Data) (*Datum, error) {
	c, ok := data.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 5 {
		return nil, fmt.Errorf("mailbox: datum is not a 5-field record")
	}
	domain, ok := c.Fields[0].(plutus.Int)
	if !ok || domain < 0 || domain > 0xffffffff {
		return nil, fmt.Errorf("mailbox: local domain out of range")
	}
	ism, ok := c.Fields[1].(plutus.Bytes)
	if !ok || len(ism) != 28 {
		return nil, fmt.Errorf("mailbox: default security module is not a 28-byte policy")
	}
	owner, ok := c.Fields[2].(plutus.Bytes)
	if !ok || len(owner) != 28 {
		return nil, fmt.Errorf("mailbox: owner is not a 28-byte key hash")
	}
	nonce, ok := c.Fields[3].(plutus.Int)
	if !ok || nonce < 0 || nonce > 0xffffffff {
		return nil, fmt.Errorf("mailbox: nonce out of range")
	}
	tree, err := merkle.TreeFromData(c.Fields[4])
	if err != nil {
		return nil, fmt.Errorf("mailbox: %w", err)
	}

	d := &Datum{
		LocalDomain: uint32(domain),
		Owner:       append([]byte(nil), owner...),
		Nonce:       uint32(nonce),
		Tree:        *tree,
	}
	copy(d.DefaultISM[:], ism)
	return d, nil
}

// Redeemer constructors for the mailbox validator.
const (
	redeemerDispatch = 0
	redeemerProcess  = 1
)

// DispatchRedeemer authorizes appending one outbound message.
func DispatchRedeemer(msg *message.Message) plutus.Data {
	return plutus.NewConstr(redeemerDispatch, msg.ToData())
}

// ProcessRedeemer authorizes delivering one inbound message. It carries
// the message and the attestation metadata the security module checks.
func ProcessRedeemer(msg *message.Message, metadata []byte) plutus.Data {
	return plutus.NewConstr(redeemerProcess, msg.ToData(), plutus.Bytes(metadata))
}

// Manager drives mailbox state transitions.
type Manager struct {
	Exec      *state.Executor
	Marker    ledger.AssetID
	Address   string // mailbox script address, for the lookup fallback
	Script    []byte
	ScriptRef *ledger.UtxoRef
	ExUnits   txbuilder.ExUnits
}

// Locate finds the live mailbox UTXO, by marker token first and by
// script-address scan when the token index is unavailable.
func (m *Manager) Locate(ctx context.Context) (*ledger.Utxo, error) {
	subject, err := state.Locate(ctx, m.Exec.Client, m.Marker)
	if err == nil {
		return subject, nil
	}
	if !ledger.IsNotFound(err) || m.Address == "" {
		return nil, err
	}
	return state.LocateByAddress(ctx, m.Exec.Client, m.Address)
}

// Current locates and decodes the live mailbox state.
func (m *Manager) Current(ctx context.Context) (*ledger.Utxo, *Datum, error) {
	subject, err := m.Locate(ctx)
	if err != nil {
		return nil, nil, err
	}
	var datum *Datum
	err = state.ParseDatum(subject, func(d plutus.Data) error {
		parsed, err := DatumFromData(d)
		if err != nil {
			return err
		}
		datum = parsed
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return subject, datum, nil
}

// Dispatch appends an outbound message: the nonce is stamped from the
// mailbox, the message identity is inserted into the accumulator, and the
// continuation carries the advanced state.
func (m *Manager) Dispatch(ctx context.Context, sender [32]byte, destination uint32, recipient [32]byte, body []byte) ([32]byte, *message.Message, error) {
	subject, datum, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, nil, err
	}

	msg := &message.Message{
		Version:     message.Version,
		Nonce:       datum.Nonce,
		Origin:      datum.LocalDomain,
		Sender:      sender,
		Destination: destination,
		Recipient:   recipient,
		Body:        append([]byte(nil), body...),
	}

	next := *datum
	next.Owner = append([]byte(nil), datum.Owner...)
	next.Nonce = datum.Nonce + 1
	if err := next.Tree.Insert(msg.ID()); err != nil {
		return [32]byte{}, nil, err
	}

	txID, err := m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  DispatchRedeemer(msg),
		NewDatum:  next.ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
	})
	if err != nil {
		return [32]byte{}, nil, err
	}
	return txID, msg, nil
}
