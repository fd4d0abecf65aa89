package ism

import (
	"context"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// Manager drives configuration updates against the live security module
// UTXO.
type Manager struct {
	Exec      *state.Executor
	Marker    ledger.AssetID
	Script    []byte // validator bytes, attached when no reference script exists
	ScriptRef *ledger.UtxoRef
	ExUnits   txbuilder.ExUnits
}

// Current locates and decodes the live configuration.
func (m *Manager) Current(ctx context.Context) (*ledger.Utxo, *MultisigConfig, error) {
	subject, err := state.Locate(ctx, m.Exec.Client, m.Marker)
	if err != nil {
		return nil, nil, err
	}
	var cfg *MultisigConfig
	err = state.ParseDatum(subject, func(d plutus.Data) error {
		parsed, err := ConfigFromData(d)
		if err != nil {
			return err
		}
		cfg = parsed
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return subject, cfg, nil
}

// SetValidators replaces the validator set for one origin domain and
// submits the continuation transaction.
func (m *Manager) SetValidators(ctx context.Context, domain uint32, validators [][ValidatorSize]byte) ([32]byte, error) {
	subject, cfg, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	if err := state.CheckOwner(cfg.Owner, m.Exec.Keys.IdentityHash(), "owner"); err != nil {
		return [32]byte{}, err
	}
	next, err := cfg.SetValidators(domain, validators)
	if err != nil {
		return [32]byte{}, err
	}
	return m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  SetValidatorsRedeemer(domain, validators),
		NewDatum:  next.ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
	})
}

// SetThreshold replaces the signature threshold for one origin domain and
// submits the continuation transaction.
func (m *Manager) SetThreshold(ctx context.Context, domain uint32, threshold uint32) ([32]byte, error) {
	subject, cfg, err := m.Current(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	if err := state.CheckOwner(cfg.Owner, m.Exec.Keys.IdentityHash(), "owner"); err != nil {
		return [32]byte{}, err
	}
	next, err := cfg.SetThreshold(domain, threshold)
	if err != nil {
		return [32]byte{}, err
	}
	return m.Exec.Execute(ctx, &state.Transition{
		Subject:   subject,
		Marker:    m.Marker,
		Redeemer:  SetThresholdRedeemer(domain, threshold),
		NewDatum:  next.ToData(),
		ExUnits:   m.ExUnits,
		Script:    m.Script,
		ScriptRef: m.ScriptRef,
	})
}
