// Package registry manages the recipient registry: the ordered list of
// recipient registrations a delivery consults to resolve its components.
package registry

import (
	"bytes"
	"context"
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// ExtraInput is one additional input a recipient's delivery transaction
// must resolve, either spent or merely referenced.
type ExtraInput struct {
	Locator   ledger.AssetID
	MustSpend bool
}

// Registration describes one deliverable recipient.
type Registration struct {
	Recipient [32]byte
	Owner     []byte // 28-byte payment key hash
	State     ledger.AssetID
	ScriptRef *ledger.AssetID // locator of the reference-script UTXO, nil when the script is attached
	Extra     []ExtraInput
	Kind      uint32
	CustomISM *ledger.AssetID // security-module override, nil for the protocol default
}

// Datum is the registry contract's state.
type Datum struct {
	Registrations []Registration
	Admin         []byte // 28-byte payment key hash
}

// Lookup returns the registration for a recipient identity.
func (d *Datum) Lookup(recipient [32]byte) (*Registration, error) {
	for i := range d.Registrations {
		if d.Registrations[i].Recipient == recipient {
			return &d.Registrations[i], nil
		}
	}
	return nil, &ledger.NotFoundError{Kind: "registration", Subject: fmt.Sprintf("%x", recipient)}
}

// Register returns a copy with the registration replaced in place when
// the recipient is already present, appended otherwise.
func (d *Datum) Register(reg Registration) *Datum {
	next := d.clone()
	for i := range next.Registrations {
		if next.Registrations[i].Recipient == reg.Recipient {
			next.Registrations[i] = reg
			return next
		}
	}
	next.Registrations = append(next.Registrations, reg)
	return next
}

// Remove returns a copy without the recipient's registration. Removing an
// unknown recipient is an error, not a no-op.
func (d *Datum) Remove(recipient [32]byte) (*Datum, error) {
	next := d.clone()
	for i := range next.Registrations {
		if next.Registrations[i].Recipient == recipient {
			next.Registrations = append(next.Registrations[:i], next.Registrations[i+1:]...)
			return next, nil
		}
	}
	return nil, &ledger.NotFoundError{Kind: "registration", Subject: fmt.Sprintf("%x", recipient)}
}

func (d *Datum) clone() *Datum {
	return &Datum{
		Registrations: append([]Registration(nil), d.Registrations...),
		Admin:         append([]byte(nil), d.Admin...),
	}
}

func assetToData(a ledger.AssetID) plutus.Data {
	return plutus.NewConstr(0, plutus.Bytes(a.Policy[:]), plutus.Bytes(a.Name))
}

func assetFromData(d plutus.Data) (ledger.AssetID, error) {
	var a ledger.AssetID
	c, ok := d.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 2 {
		return a, fmt.Errorf("asset locator is not a 2-field record")
	}
	policy, ok := c.Fields[0].(plutus.Bytes)
	if !ok || len(policy) != 28 {
		return a, fmt.Errorf("asset policy is not 28 bytes")
	}
	name, ok := c.Fields[1].(plutus.Bytes)
	if !ok {
		return a, fmt.Errorf("asset name is not a byte string")
	}
	copy(a.Policy[:], policy)
	a.Name = append([]byte(nil), name...)
	return a, nil
}

// Optional values follow the usual datum convention: constructor 0 wraps
// a present value, constructor 1 carries nothing.
func optionalToData(a *ledger.AssetID) plutus.Data {
	if a == nil {
		return plutus.NewConstr(1)
	}
	return plutus.NewConstr(0, assetToData(*a))
}

func optionalFromData(d plutus.Data) (*ledger.AssetID, error) {
	c, ok := d.(plutus.Constr)
	if !ok {
		return nil, fmt.Errorf("optional locator is not a constructor")
	}
	switch {
	case c.Index == 1 && len(c.Fields) == 0:
		return nil, nil
	case c.Index == 0 && len(c.Fields) == 1:
		a, err := assetFromData(c.Fields[0])
		if err != nil {
			return nil, err
		}
		return &a, nil
	}
	return nil, fmt.Errorf("optional locator has unexpected shape")
}

func boolToData(b bool) plutus.Data {
	if b {
		return plutus.NewConstr(1)
	}
	return plutus.NewConstr(0)
}

func boolFromData(d plutus.Data) (bool, error) {
	c, ok := d.(plutus.Constr)
	if !ok || len(c.Fields) != 0 || c.Index > 1 {
		return false, fmt.Errorf("flag is not a boolean constructor")
	}
	return c.Index == 1, nil
}

func registrationToData(r Registration) plutus.Data {
	extra := make(plutus.List, 0, len(r.Extra))
	for _, e := range r.Extra {
		extra = append(extra, plutus.Tuple(assetToData(e.Locator), boolToData(e.MustSpend)))
	}
	return plutus.NewConstr(0,
		plutus.Bytes(r.Recipient[:]),
		plutus.Bytes(r.Owner),
		assetToData(r.State),
		optionalToData(r.ScriptRef),
		extra,
		plutus.Int(r.Kind),
		optionalToData(r.CustomISM),
	)
}

func registrationFromData(d plutus.Data) (Registration, error) {
	var r Registration
	c, ok := d.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 7 {
		return r, fmt.Errorf("registration is not a 7-field record")
	}
	recipient, ok := c.Fields[0].(plutus.Bytes)
	if !ok || len(recipient) != 32 {
		return r, fmt.Errorf("recipient identity is not 32 bytes")
	}
	owner, ok := c.Fields[1].(plutus.Bytes)
	if !ok || len(owner) != 28 {
		return r, fmt.Errorf("registration owner is not a 28-byte key hash")
	}
	stateAsset, err := assetFromData(c.Fields[2])
	if err != nil {
		return r, err
	}
	scriptRef, err := optionalFromData(c.Fields[3])
	if err != nil {
		return r, err
	}
	extraList, ok := c.Fields[4].(plutus.List)
	if !ok {
		return r, fmt.Errorf("extra-input list is not a list")
	}
	kind, ok := c.Fields[5].(plutus.Int)
	if !ok || kind < 0 || kind > 0xffffffff {
		return r, fmt.Errorf("recipient kind out of range")
	}
	customISM, err := optionalFromData(c.Fields[6])
	if err != nil {
		return r, err
	}

	copy(r.Recipient[:], recipient)
	r.Owner = append([]byte(nil), owner...)
	r.State = stateAsset
	r.ScriptRef = scriptRef
	r.Kind = uint32(kind)
	r.CustomISM = customISM
	for _, entry := range extraList {
		pair, ok := entry.(plutus.List)
		if !ok || len(pair) != 2 {
			return r, fmt.Errorf("extra input is not a two-element list")
		}
		locator, err := assetFromData(pair[0])
		if err != nil {
			return r, err
		}
		mustSpend, err := boolFromData(pair[1])
		if err != nil {
			return r, err
		}
		r.Extra = append(r.Extra, ExtraInput{Locator: locator, MustSpend: mustSpend})
	}
	return r, nil
}

// ToData encodes the registry datum.
func (d *Datum) ToData() plutus.Data {
	regs := make(plutus.List, 0, len(d.Registrations))
	for _, r := range d.Registrations {
		regs = append(regs, registrationToData(r))
	}
	return plutus.NewConstr(0, regs, plutus.Bytes(d.Admin))
}

// DatumFromData decodes a registry datum, failing closed on shape
// mismatch.
func DatumFromData(data plutus.Data) (*Datum, error) {
	c, ok := data.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 2 {
		return nil, fmt.Errorf("registry: datum is not a 2-field record")
	}
	regs, ok := c.Fields[0].(plutus.List)
	if !ok {
		return nil, fmt.Errorf("registry: registration table is not a list")
	}
	admin, ok := c.Fields[1].(plutus.Bytes)
	if !ok || len(admin) != 28 {
		return nil, fmt.Errorf("registry: admin is not a 28-byte key hash")
	}
	d := &Datum{Admin: append([]byte(nil), admin...)}
	for _, entry := range regs {
		r, err := registrationFromData(entry)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		d.Registrations = append(d.Registrations, r)
	}
	return d, nil
}

// Redeemer constructors for the registry validator.
const (
	redeemerRegister = 0
	redeemerRemove   = 1
)

// RegisterRedeemer authorizes adding or replacing a registration.
func RegisterRedeemer(reg Registration) plutus.Data {
	return plutus.NewConstr(redeemerRegister, registrationToData(reg))
}

// RemoveRedeemer authorizes a terminal registration removal.
func RemoveRedeemer(recipient [32]byte) plutus.Data {
	return plutus.NewConstr(redeemerRemove, plutus.Bytes(recipient[:]))
}

// Manager drives registry state transitions.
type Manager struct {
	Exec      *state.Executor
	Marker    ledger.AssetID
	Script    []byte
	ScriptRef *ledger.UtxoRef
	ExUnits   txbuilder.ExUnits
}

// Current locates and decodes the live registry state.
func (m *Manager) Current(ctx context.Context) (*ledger.Utxo, *Datum, error) {
	subject, err := state.Locate(ctx, m.Exec.Client, m.Marker)
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

// Lookup resolves a recipient's registration from the live state.
func (m *Manager) Lookup(ctx context.Context, recipient [32]byte) (*Registration, error) {
	_, datum, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	return datum.Lookup(recipient)
}

// Register submits a registration add-or-replace. The caller must be the
// registry admin, or the existing registration's owner when replacing.
func (m *Manager) Register(ctx context.Context, reg Registration) ([32]byte, error) {
	subject, datum, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	signer := m.Exec.Keys.IdentityHash()
	if err := state.CheckOwner(datum.Admin, signer, "admin"); err != nil {
		existing, lookupErr := datum.Lookup(reg.Recipient)
		if lookupErr != nil || !bytes.Equal(existing.Owner, signer[:]) {
			return [32]byte{}, err
		}
	}
	return m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  RegisterRedeemer(reg),
		NewDatum:  datum.Register(reg).ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
	})
}

// Remove submits a terminal registration removal. Admin only.
func (m *Manager) Remove(ctx context.Context, recipient [32]byte) ([32]byte, error) {
	subject, datum, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	if err := state.CheckOwner(datum.Admin, m.Exec.Keys.IdentityHash(), "admin"); err != nil {
		return [32]byte{}, err
	}
	next, err := datum.Remove(recipient)
	if err != nil {
		return [32]byte{}, err
	}
	return m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  RemoveRedeemer(recipient),
		NewDatum:  next.ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
	})
}
