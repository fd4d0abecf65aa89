// Coin selection and fee/collateral allocation.
//
// Selection operates over an address's spendable value-only outputs: no
// native assets, no reference scripts, no datums. Outputs carrying any of
// those are either protocol state or someone's token holdings, and script
// execution forbids tokens on collateral outright.
package txbuilder

import (
	"sort"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
)

// Selection is the outcome of coin selection.
type Selection struct {
	Inputs     []ledger.Utxo // fee inputs, largest first
	Collateral *ledger.Utxo  // token-free collateral, nil only when no candidate exists
	Total      uint64        // coin sum over Inputs
}

// spendable filters to value-only outputs and sorts them largest first.
func spendable(utxos []ledger.Utxo) []ledger.Utxo {
	var out []ledger.Utxo
	for _, u := range utxos {
		if u.Value.HasAssets() || len(u.ScriptRef) > 0 || u.HasInlineDatum() {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value.Coin != out[j].Value.Coin {
			return out[i].Value.Coin > out[j].Value.Coin
		}
		// Stable tie-break keeps selection deterministic across runs.
		return out[i].Ref.Compare(out[j].Ref) < 0
	})
	return out
}

// SelectFunds greedily picks value-only outputs, largest first, until the
// floor is met, and reserves a distinct collateral output when more than one
// candidate exists.
func SelectFunds(utxos []ledger.Utxo, floor uint64) (*Selection, error) {
	candidates := spendable(utxos)

	var available uint64
	for _, u := range candidates {
		available += u.Value.Coin
	}

	sel := &Selection{}
	for _, u := range candidates {
		if sel.Total >= floor {
			break
		}
		sel.Inputs = append(sel.Inputs, u)
		sel.Total += u.Value.Coin
	}
	if sel.Total < floor {
		return nil, &InsufficientFundsError{Required: floor, Available: available}
	}

	// Prefer collateral distinct from the fee inputs.
	used := make(map[ledger.UtxoRef]bool, len(sel.Inputs))
	for _, u := range sel.Inputs {
		used[u.Ref] = true
	}
	for i := range candidates {
		if !used[candidates[i].Ref] {
			c := candidates[i]
			sel.Collateral = &c
			break
		}
	}
	if sel.Collateral == nil && len(sel.Inputs) > 0 {
		// Single-candidate wallet: the fee input doubles as collateral.
		c := sel.Inputs[0]
		sel.Collateral = &c
	}
	return sel, nil
}

// SelectOrderedBefore picks a fee input whose reference sorts before the
// subject UTXO under canonical input ordering, for flows where the script
// derives the sender from the first ordered input. Fails with an
// OrderingConstraintError naming the constraint when no candidate
// qualifies, never silently picking a non-conforming input.
func SelectOrderedBefore(utxos []ledger.Utxo, subject ledger.UtxoRef, floor uint64) (*Selection, error) {
	candidates := spendable(utxos)

	var qualifying []ledger.Utxo
	for _, u := range candidates {
		if u.Ref.Compare(subject) < 0 {
			qualifying = append(qualifying, u)
		}
	}
	if len(qualifying) == 0 {
		return nil, &OrderingConstraintError{Subject: subject.String()}
	}

	var available uint64
	for _, u := range qualifying {
		available += u.Value.Coin
	}

	sel := &Selection{}
	for _, u := range qualifying {
		if sel.Total >= floor {
			break
		}
		sel.Inputs = append(sel.Inputs, u)
		sel.Total += u.Value.Coin
	}
	if sel.Total < floor {
		return nil, &InsufficientFundsError{Required: floor, Available: available}
	}

	// Collateral may come from the full candidate set; the ordering
	// constraint binds only the fee input.
	used := make(map[ledger.UtxoRef]bool, len(sel.Inputs))
	for _, u := range sel.Inputs {
		used[u.Ref] = true
	}
	for i := range candidates {
		if !used[candidates[i].Ref] {
			c := candidates[i]
			sel.Collateral = &c
			break
		}
	}
	if sel.Collateral == nil {
		c := sel.Inputs[0]
		sel.Collateral = &c
	}
	return sel, nil
}

// EstimateFee returns the linear fee for a transaction of the given
// serialized size, padded for witnesses added after fee calculation.
func EstimateFee(params *ledger.ProtocolParams, txBytes int, scriptExecution bool) uint64 {
	// Signature witnesses land after the fee is fixed; pad for them.
	const witnessPad = 256
	fee := params.MinFeeA*uint64(txBytes+witnessPad) + params.MinFeeB
	if scriptExecution {
		// Execution-unit price envelope; the query service prices the
		// actual budget at submission.
		fee += fee / 2
	}
	return fee
}

// CollateralFloor returns the minimum collateral for a fee.
func CollateralFloor(params *ledger.ProtocolParams, fee uint64) uint64 {
	pct := params.CollateralPct
	if pct == 0 {
		pct = 150
	}
	return (fee*pct + 99) / 100
}
