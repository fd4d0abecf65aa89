package state

import (
	"context"
	"encoding/hex"

	"github.com/rs/zerolog"

	"github.com/suffix-labs/cardano-mailbox/pkg/keystore"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// Transition describes one spend-and-recreate state update.
type Transition struct {
	Subject  *ledger.Utxo
	Marker   ledger.AssetID
	Redeemer plutus.Data
	NewDatum plutus.Data
	ExUnits  txbuilder.ExUnits

	// Script is attached to the witness set when set; ScriptRef points at
	// a UTXO carrying the validator as a reference script instead.
	Script    []byte
	ScriptRef *ledger.UtxoRef

	// Deposit adds coin to the continuation output, Withdraw removes it.
	// Zero for every action that must not move funds.
	Deposit  uint64
	Withdraw uint64

	// ReferenceInputs are read without spending (auxiliary config state).
	ReferenceInputs []ledger.UtxoRef

	// ExtraOutputs are produced alongside the continuation output.
	ExtraOutputs []txbuilder.Output

	// RequireSenderOrder constrains the fee input to sort before the
	// subject under canonical input ordering.
	RequireSenderOrder bool

	// TTLSlots bounds the transaction's validity past the current tip.
	// Zero means the default window.
	TTLSlots uint64
}

const defaultTTLSlots = 600

// Executor assembles, signs and submits state transitions against one
// wallet. It holds no state beyond its collaborators; every Execute call
// re-reads the chain.
type Executor struct {
	Client ledger.Client
	Keys   *keystore.KeyStore
	Log    zerolog.Logger
}

// Execute builds the transition transaction, signs it and submits it.
// The returned id identifies the submitted transaction; confirmation is
// the caller's concern.
func (e *Executor) Execute(ctx context.Context, t *Transition) ([32]byte, error) {
	var zero [32]byte

	cont, err := ContinuationOutput(t.Subject, t.NewDatum, t.Deposit, t.Withdraw)
	if err != nil {
		return zero, err
	}
	if err := VerifyContinuation(t.Subject, t.Marker, &cont); err != nil {
		return zero, err
	}

	params, err := e.Client.GetCostModel(ctx)
	if err != nil {
		return zero, err
	}
	tip, err := e.Client.GetLatestSlot(ctx)
	if err != nil {
		return zero, err
	}

	walletAddr, err := e.Keys.Address()
	if err != nil {
		return zero, err
	}
	wallet, err := e.Client.GetUtxos(ctx, walletAddr)
	if err != nil {
		return zero, err
	}

	// First pass with a generous fee to size the transaction, second pass
	// with the measured fee. The fee only shrinks between passes, so the
	// selection from the first pass stays sufficient.
	fee := txbuilder.EstimateFee(params, 4096, true)
	floor := fee + t.Deposit + params.MinOutputCoin(128)
	if t.Withdraw >= floor {
		floor = 0
	} else {
		floor -= t.Withdraw
	}

	var sel *txbuilder.Selection
	if t.RequireSenderOrder {
		sel, err = txbuilder.SelectOrderedBefore(wallet, t.Subject.Ref, floor)
	} else {
		sel, err = txbuilder.SelectFunds(wallet, floor)
	}
	if err != nil {
		return zero, err
	}
	if sel.Collateral == nil {
		return zero, &txbuilder.NoCollateralError{Address: walletAddr}
	}
	if need := txbuilder.CollateralFloor(params, fee); sel.Collateral.Value.Coin < need {
		return zero, &txbuilder.NoCollateralError{Address: walletAddr, Required: need}
	}

	build := func(fee uint64) (*txbuilder.Tx, error) {
		b := txbuilder.NewBuilder()
		b.AddScriptInput(t.Subject.Ref, t.Redeemer, t.ExUnits)
		for _, u := range sel.Inputs {
			b.AddInput(u.Ref)
		}
		b.AddCollateral(sel.Collateral.Ref)
		if t.ScriptRef != nil {
			b.AddReferenceInput(*t.ScriptRef)
		}
		for _, ref := range t.ReferenceInputs {
			b.AddReferenceInput(ref)
		}
		if len(t.Script) > 0 {
			b.AttachScript(t.Script)
		}

		b.AddOutput(cont)
		for _, out := range t.ExtraOutputs {
			b.AddOutput(out)
		}

		extraCost := t.Deposit
		for _, out := range t.ExtraOutputs {
			extraCost += out.Value.Coin
		}
		spent := fee + extraCost
		credit := sel.Total + t.Withdraw
		if credit < spent {
			return nil, &txbuilder.InsufficientFundsError{Required: spent, Available: credit}
		}
		if change := credit - spent; change > 0 {
			b.AddOutput(txbuilder.Output{
				Address: walletAddr,
				Value:   ledger.Value{Coin: change},
			})
		}

		b.SetFee(fee)
		ttl := t.TTLSlots
		if ttl == 0 {
			ttl = defaultTTLSlots
		}
		b.SetValidity(0, tip+ttl)
		b.AddRequiredSigner(e.Keys.IdentityHash())
		return b.Build(params)
	}

	draft, err := build(fee)
	if err != nil {
		return zero, err
	}
	measured := txbuilder.EstimateFee(params, len(draft.Bytes()), true)
	if measured < fee {
		if tx, err := build(measured); err == nil {
			draft = tx
			fee = measured
		}
	}

	draft.Sign(e.Keys)
	reported, err := e.Client.Submit(ctx, draft.Bytes())
	if err != nil {
		return zero, err
	}
	id := draft.ID()
	if reported != id {
		e.Log.Warn().
			Str("reported", hex.EncodeToString(reported[:])).
			Str("built", hex.EncodeToString(id[:])).
			Msg("service reported a different transaction id")
	}
	e.Log.Info().
		Str("tx", hex.EncodeToString(id[:])).
		Uint64("fee", fee).
		Str("subject", t.Subject.Ref.String()).
		Msg("state transition submitted")
	return id, nil
}
