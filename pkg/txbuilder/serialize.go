// Transaction wire serialization.
//
// The body is a definite-length CBOR map with integer keys in ascending
// order; the witness set follows the same convention. Inline datums and
// inline scripts ride inside outputs under tag 24 (encoded-CBOR byte
// strings).
package txbuilder

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcutil/bech32"
	blake2b "github.com/minio/blake2b-simd"
	"github.com/suffix-labs/cardano-mailbox/pkg/cbor"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
)

// Body map keys.
const (
	keyInputs          = 0
	keyOutputs         = 1
	keyFee             = 2
	keyValidTo         = 3
	keyValidFrom       = 8
	keyMint            = 9
	keyScriptDataHash  = 11
	keyCollateral      = 13
	keyRequiredSigners = 14
	keyReferenceInputs = 18
)

// Witness set map keys.
const (
	keyVkeyWitnesses   = 0
	keyRedeemers       = 5
	keyPlutusV2Scripts = 6
)

const encodedCBORTag = 24

// DecodeAddress converts a bech32 address to its raw header+payload bytes.
func DecodeAddress(addr string) ([]byte, error) {
	_, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: decoding address %q: %w", addr, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: address %q payload: %w", addr, err)
	}
	return raw, nil
}

func serializeBody(b *Builder, sortedInputs []ledger.UtxoRef, redeemers []builtRedeemer, params *ledger.ProtocolParams) ([]byte, error) {
	w := cbor.NewWriter()

	entries := 3 // inputs, outputs, fee always present
	if b.validTo != 0 {
		entries++
	}
	if b.validFrom != 0 {
		entries++
	}
	if len(b.mint) > 0 {
		entries++
	}
	if len(redeemers) > 0 {
		entries++
	}
	if len(b.collateral) > 0 {
		entries++
	}
	if len(b.requiredSigners) > 0 {
		entries++
	}
	if len(b.referenceInputs) > 0 {
		entries++
	}

	w.BeginMap(entries)

	w.WriteUint(keyInputs)
	writeInputSet(w, sortedInputs)

	w.WriteUint(keyOutputs)
	w.BeginArray(len(b.outputs))
	for i := range b.outputs {
		if err := writeOutput(w, &b.outputs[i]); err != nil {
			return nil, err
		}
	}

	w.WriteUint(keyFee)
	w.WriteUint(b.fee)

	if b.validTo != 0 {
		w.WriteUint(keyValidTo)
		w.WriteUint(b.validTo)
	}
	if b.validFrom != 0 {
		w.WriteUint(keyValidFrom)
		w.WriteUint(b.validFrom)
	}
	if len(b.mint) > 0 {
		w.WriteUint(keyMint)
		writeMint(w, b.mint)
	}
	if len(redeemers) > 0 {
		w.WriteUint(keyScriptDataHash)
		hash := scriptDataHash(redeemers, params)
		w.WriteBytes(hash[:])
	}
	if len(b.collateral) > 0 {
		w.WriteUint(keyCollateral)
		sorted := append([]ledger.UtxoRef(nil), b.collateral...)
		ledger.SortRefs(sorted)
		writeInputSet(w, sorted)
	}
	if len(b.requiredSigners) > 0 {
		w.WriteUint(keyRequiredSigners)
		w.BeginArray(len(b.requiredSigners))
		for _, signer := range b.requiredSigners {
			w.WriteBytes(signer[:])
		}
	}
	if len(b.referenceInputs) > 0 {
		w.WriteUint(keyReferenceInputs)
		sorted := append([]ledger.UtxoRef(nil), b.referenceInputs...)
		ledger.SortRefs(sorted)
		writeInputSet(w, sorted)
	}

	return w.Bytes(), nil
}

func writeInputSet(w *cbor.Writer, refs []ledger.UtxoRef) {
	w.BeginArray(len(refs))
	for _, r := range refs {
		w.BeginArray(2)
		w.WriteBytes(r.TxID[:])
		w.WriteUint(uint64(r.Index))
	}
}

func writeOutput(w *cbor.Writer, out *Output) error {
	raw, err := DecodeAddress(out.Address)
	if err != nil {
		return err
	}

	entries := 2
	if out.InlineDatum != nil {
		entries++
	}
	if len(out.ScriptRef) > 0 {
		entries++
	}
	w.BeginMap(entries)

	w.WriteUint(0)
	w.WriteBytes(raw)

	w.WriteUint(1)
	writeValue(w, out.Value)

	if out.InlineDatum != nil {
		// datum_option = [1, encoded-cbor datum] for inline datums.
		w.WriteUint(2)
		w.BeginArray(2)
		w.WriteUint(1)
		w.WriteTag(encodedCBORTag)
		w.WriteBytes(plutus.Encode(out.InlineDatum))
	}
	if len(out.ScriptRef) > 0 {
		w.WriteUint(3)
		w.WriteTag(encodedCBORTag)
		w.WriteBytes(out.ScriptRef)
	}
	return nil
}

func writeValue(w *cbor.Writer, v ledger.Value) {
	if !v.HasAssets() {
		w.WriteUint(v.Coin)
		return
	}
	w.BeginArray(2)
	w.WriteUint(v.Coin)
	writeMultiasset(w, v.Assets, nil)
}

// writeMultiasset serializes assets grouped by policy, both levels sorted
// bytewise. quantity overrides the per-asset amount when non-nil (used for
// mint, which can carry negative burn quantities).
func writeMultiasset(w *cbor.Writer, assets []ledger.AssetQuantity, quantity map[string]int64) {
	grouped := make(map[[ledger.PolicyIDSize]byte][]ledger.AssetQuantity)
	var policies [][ledger.PolicyIDSize]byte
	for _, a := range assets {
		if _, seen := grouped[a.ID.Policy]; !seen {
			policies = append(policies, a.ID.Policy)
		}
		grouped[a.ID.Policy] = append(grouped[a.ID.Policy], a)
	}
	sort.Slice(policies, func(i, j int) bool {
		return bytes.Compare(policies[i][:], policies[j][:]) < 0
	})

	w.BeginMap(len(policies))
	for _, policy := range policies {
		group := grouped[policy]
		sort.Slice(group, func(i, j int) bool {
			return bytes.Compare(group[i].ID.Name, group[j].ID.Name) < 0
		})
		w.WriteBytes(policy[:])
		w.BeginMap(len(group))
		for _, a := range group {
			w.WriteBytes(a.ID.Name)
			if quantity != nil {
				w.WriteInt(quantity[a.ID.Unit()])
			} else {
				w.WriteUint(a.Quantity)
			}
		}
	}
}

func writeMint(w *cbor.Writer, entries []MintEntry) {
	assets := make([]ledger.AssetQuantity, 0, len(entries))
	quantities := make(map[string]int64, len(entries))
	for _, m := range entries {
		assets = append(assets, ledger.AssetQuantity{ID: m.Asset})
		quantities[m.Asset.Unit()] = m.Quantity
	}
	writeMultiasset(w, assets, quantities)
}

func writeRedeemers(w *cbor.Writer, redeemers []builtRedeemer) {
	rs := append([]builtRedeemer(nil), redeemers...)
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].tag != rs[j].tag {
			return rs[i].tag < rs[j].tag
		}
		return rs[i].index < rs[j].index
	})

	w.BeginArray(len(rs))
	for _, r := range rs {
		w.BeginArray(4)
		w.WriteUint(r.tag)
		w.WriteUint(r.index)
		w.WriteRaw(plutus.Encode(r.data))
		w.BeginArray(2)
		w.WriteUint(r.exUnits.Mem)
		w.WriteUint(r.exUnits.Steps)
	}
}

// scriptDataHash commits the witnesses' redeemers and the cost model so the
// validators' execution environment is pinned by the body: blake2b-256 over
// redeemers ‖ datums ‖ language views.
func scriptDataHash(redeemers []builtRedeemer, params *ledger.ProtocolParams) [32]byte {
	w := cbor.NewWriter()
	writeRedeemers(w, redeemers)

	// No witness-set datums: everything rides inline in outputs.

	// Language views: PlutusV2 keyed by 1 with its cost model.
	var model []int64
	if params != nil {
		model = params.CostModel
	}
	w.BeginMap(1)
	w.WriteUint(1)
	w.BeginArray(len(model))
	for _, op := range model {
		w.WriteInt(op)
	}

	return blake2b.Sum256(w.Bytes())
}

func serializeTx(t *Tx) []byte {
	w := cbor.NewWriter()

	// transaction = [body, witness_set, is_valid, auxiliary_data]
	w.BeginArray(4)
	w.WriteRaw(t.body)

	entries := 0
	if len(t.witnesses) > 0 {
		entries++
	}
	if len(t.redeemers) > 0 {
		entries++
	}
	if len(t.scripts) > 0 {
		entries++
	}
	w.BeginMap(entries)

	if len(t.witnesses) > 0 {
		w.WriteUint(keyVkeyWitnesses)
		w.BeginArray(len(t.witnesses))
		for _, wit := range t.witnesses {
			w.BeginArray(2)
			w.WriteBytes(wit.vkey[:])
			w.WriteBytes(wit.sig)
		}
	}
	if len(t.redeemers) > 0 {
		w.WriteUint(keyRedeemers)
		writeRedeemers(w, t.redeemers)
	}
	if len(t.scripts) > 0 {
		w.WriteUint(keyPlutusV2Scripts)
		w.BeginArray(len(t.scripts))
		for _, s := range t.scripts {
			w.WriteBytes(s)
		}
	}

	w.WriteBool(true)
	w.WriteNull()
	return w.Bytes()
}
