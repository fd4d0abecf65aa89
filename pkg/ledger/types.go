// Package ledger defines the boundary to the external ledger query service
// and the value types shared by everything that builds transactions.
//
// The query service is a thin network collaborator: it indexes UTXOs,
// serves protocol parameters and the chain tip, and accepts signed
// transaction bytes for submission. All of the hard state-machine logic
// lives above this package; the client here only moves bytes.
package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
)

// PolicyIDSize is the width of a minting policy hash.
const PolicyIDSize = 28

// UtxoRef is the (transaction id, output index) pair identifying an output.
// It is the only stable identity an output has.
type UtxoRef struct {
	TxID  [32]byte
	Index uint32
}

func (r UtxoRef) String() string {
	return fmt.Sprintf("%s#%d", hex.EncodeToString(r.TxID[:]), r.Index)
}

// Compare orders references the way the ledger canonically orders
// transaction inputs: lexicographically by transaction id, then by index.
// Script logic that derives "the sender" from the first ordered input
// depends on exactly this ordering.
func (r UtxoRef) Compare(other UtxoRef) int {
	if c := bytes.Compare(r.TxID[:], other.TxID[:]); c != 0 {
		return c
	}
	switch {
	case r.Index < other.Index:
		return -1
	case r.Index > other.Index:
		return 1
	default:
		return 0
	}
}

// SortRefs sorts references into canonical input order.
func SortRefs(refs []UtxoRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Compare(refs[j]) < 0 })
}

// AssetID identifies a native asset: minting policy hash plus asset name.
// Marker tokens are AssetIDs whose policy admits a single mint.
type AssetID struct {
	Policy [PolicyIDSize]byte
	Name   []byte
}

// Unit returns the concatenated hex form indexers key assets by.
func (a AssetID) Unit() string {
	return hex.EncodeToString(a.Policy[:]) + hex.EncodeToString(a.Name)
}

func (a AssetID) Equal(other AssetID) bool {
	return a.Policy == other.Policy && bytes.Equal(a.Name, other.Name)
}

// AssetQuantity is one native-asset entry of a Value.
type AssetQuantity struct {
	ID       AssetID
	Quantity uint64
}

// Value is an output's funds: the coin amount plus any native assets.
type Value struct {
	Coin   uint64
	Assets []AssetQuantity
}

// HasAssets reports whether any native assets are attached.
func (v Value) HasAssets() bool {
	return len(v.Assets) > 0
}

// QuantityOf returns the held quantity of one asset.
func (v Value) QuantityOf(id AssetID) uint64 {
	for _, a := range v.Assets {
		if a.ID.Equal(id) {
			return a.Quantity
		}
	}
	return 0
}

// Utxo is one unspent output as reported by the query service.
type Utxo struct {
	Ref         UtxoRef
	Address     string
	Value       Value
	InlineDatum []byte // raw script-data bytes, nil when absent
	ScriptRef   []byte // raw script bytes when the output carries one
}

// HasInlineDatum reports whether the output carries an inline datum.
func (u *Utxo) HasInlineDatum() bool {
	return len(u.InlineDatum) > 0
}

// ProtocolParams is the subset of protocol parameters transaction building
// needs: the linear fee, the per-byte output minimum, execution prices and
// the script cost model that feeds the script-data hash.
type ProtocolParams struct {
	MinFeeA          uint64 // fee per transaction byte
	MinFeeB          uint64 // fee constant
	CoinsPerUtxoByte uint64
	CollateralPct    uint64 // collateral as percent of fee
	MaxExUnitsMem    uint64
	MaxExUnitsSteps  uint64
	CostModel        []int64 // Plutus cost model, in language-view order
}

// MinOutputCoin returns the minimum coin an output of the given serialized
// size must hold.
func (p *ProtocolParams) MinOutputCoin(outputBytes int) uint64 {
	// 160-byte overhead per the ledger's min-UTxO rule.
	return uint64(outputBytes+160) * p.CoinsPerUtxoByte
}
