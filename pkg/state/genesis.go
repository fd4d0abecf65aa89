package state

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

// Genesis describes a contract's initial state: one transaction mints the
// marker token under its policy and locks it at the script address with
// the initial datum. Everything after genesis is a Transition.
type Genesis struct {
	Marker       ledger.AssetID
	Policy       []byte // minting policy script, attached to the witness set
	Address      string // script address receiving the state output
	InitialDatum plutus.Data
	MintRedeemer plutus.Data
	ExUnits      txbuilder.ExUnits

	// StateCoin is the coin locked with the marker; the protocol minimum
	// for the output size when zero.
	StateCoin uint64

	TTLSlots uint64
}

// Initialize mints the marker and creates the state output. It refuses to
// run when the marker already indexes a live UTXO, since a second marker
// would make the state ambiguous forever.
func (e *Executor) Initialize(ctx context.Context, g *Genesis) ([32]byte, error) {
	var zero [32]byte

	if existing, err := Locate(ctx, e.Client, g.Marker); err == nil {
		return zero, fmt.Errorf("state: marker %s already held by %s", g.Marker.Unit(), existing.Ref)
	} else if !ledger.IsNotFound(err) {
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

	stateCoin := g.StateCoin
	if stateCoin == 0 {
		stateCoin = params.MinOutputCoin(160)
	}

	fee := txbuilder.EstimateFee(params, 4096, true)
	floor := fee + stateCoin
	sel, err := txbuilder.SelectFunds(wallet, floor)
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
		for _, u := range sel.Inputs {
			b.AddInput(u.Ref)
		}
		b.AddCollateral(sel.Collateral.Ref)
		b.AddMint(txbuilder.MintEntry{
			Asset:    g.Marker,
			Quantity: 1,
			Redeemer: g.MintRedeemer,
			ExUnits:  g.ExUnits,
		})
		b.AttachScript(g.Policy)

		b.AddOutput(txbuilder.Output{
			Address: g.Address,
			Value: ledger.Value{
				Coin:   stateCoin,
				Assets: []ledger.AssetQuantity{{ID: g.Marker, Quantity: 1}},
			},
			InlineDatum: g.InitialDatum,
		})

		spent := fee + stateCoin
		if sel.Total < spent {
			return nil, &txbuilder.InsufficientFundsError{Required: spent, Available: sel.Total}
		}
		if change := sel.Total - spent; change > 0 {
			b.AddOutput(txbuilder.Output{Address: walletAddr, Value: ledger.Value{Coin: change}})
		}

		b.SetFee(fee)
		ttl := g.TTLSlots
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
	if _, err := e.Client.Submit(ctx, draft.Bytes()); err != nil {
		return zero, err
	}
	id := draft.ID()
	e.Log.Info().
		Str("tx", hex.EncodeToString(id[:])).
		Str("marker", g.Marker.Unit()).
		Uint64("fee", fee).
		Msg("state initialized")
	return id, nil
}
