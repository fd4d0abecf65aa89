// Package ledgertest provides an in-memory Client for tests.
package ledgertest

import (
	"context"

	"github.com/minio/blake2b-simd"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
)

// Fake is an in-memory ledger.Client. Populate its maps with the chain
// view a test needs; zero-value fields answer with empty results.
type Fake struct {
	Utxos        map[string][]ledger.Utxo   // by address
	TokenHolders map[string]*ledger.Utxo    // by asset unit
	TxOutputs    map[[32]byte][]ledger.Utxo // by transaction id
	AddressTxs   map[string][][32]byte
	Slot         uint64
	Params       *ledger.ProtocolParams

	// Submitted records every Submit call in order.
	Submitted [][]byte
	SubmitErr error
}

var _ ledger.Client = (*Fake)(nil)

// TestParams returns protocol parameters with mainnet-shaped magnitudes.
func TestParams() *ledger.ProtocolParams {
	return &ledger.ProtocolParams{
		MinFeeA:          44,
		MinFeeB:          155381,
		CoinsPerUtxoByte: 4310,
		CollateralPct:    150,
		MaxExUnitsMem:    14_000_000,
		MaxExUnitsSteps:  10_000_000_000,
		CostModel:        []int64{205665, 812, 1, 1, 1000, 571, 0, 1},
	}
}

func (f *Fake) GetUtxos(_ context.Context, address string) ([]ledger.Utxo, error) {
	return f.Utxos[address], nil
}

func (f *Fake) FindUtxoByToken(_ context.Context, asset ledger.AssetID) (*ledger.Utxo, error) {
	if u, ok := f.TokenHolders[asset.Unit()]; ok {
		return u, nil
	}
	return nil, &ledger.NotFoundError{Kind: "asset", Subject: asset.Unit()}
}

func (f *Fake) GetTransactionUtxos(_ context.Context, txID [32]byte) ([]ledger.Utxo, error) {
	if outs, ok := f.TxOutputs[txID]; ok {
		return outs, nil
	}
	return nil, &ledger.NotFoundError{Kind: "transaction", Subject: ledger.UtxoRef{TxID: txID}.String()}
}

func (f *Fake) GetLatestSlot(_ context.Context) (uint64, error) {
	return f.Slot, nil
}

func (f *Fake) GetCostModel(_ context.Context) (*ledger.ProtocolParams, error) {
	if f.Params != nil {
		return f.Params, nil
	}
	return TestParams(), nil
}

func (f *Fake) Submit(_ context.Context, signedTx []byte) ([32]byte, error) {
	if f.SubmitErr != nil {
		return [32]byte{}, f.SubmitErr
	}
	f.Submitted = append(f.Submitted, append([]byte(nil), signedTx...))
	return blake2b.Sum256(signedTx), nil
}

func (f *Fake) GetAddressTransactions(_ context.Context, address string, _, _ uint64) ([][32]byte, error) {
	return f.AddressTxs[address], nil
}
