// Package txbuilder assembles and serializes ledger transactions.
//
// A transaction here is the full wire object the query service accepts for
// submission: sorted inputs, reference inputs, collateral, outputs with
// optional inline datums and scripts, a fee, a validity window, minted
// assets, redeemers, the script-data hash and the witness set. The byte
// layout must agree with what the on-chain validators and the submission
// endpoint expect, so all serialization goes through pkg/cbor primitives
// and nothing hand-rolls byte layout at call sites.
//
// Spend redeemers are supplied keyed by the input they unlock; the builder
// resolves them to indices after canonical input sorting, because redeemer
// indices refer to the sorted input list, not insertion order.
package txbuilder

import (
	"bytes"
	"fmt"
	"sort"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
)

// Redeemer tags.
const (
	TagSpend = 0
	TagMint  = 1
)

// ExUnits is a script execution budget.
type ExUnits struct {
	Mem   uint64
	Steps uint64
}

// Output is one produced transaction output.
type Output struct {
	Address     string // bech32
	Value       ledger.Value
	InlineDatum plutus.Data // nil when absent
	ScriptRef   []byte      // raw script bytes when inlined
}

// MintEntry is one minted (or burned, negative quantity) asset with the
// redeemer authorizing the policy.
type MintEntry struct {
	Asset    ledger.AssetID
	Quantity int64
	Redeemer plutus.Data
	ExUnits  ExUnits
}

type spendRedeemer struct {
	ref     ledger.UtxoRef
	data    plutus.Data
	exUnits ExUnits
}

// Builder accumulates a transaction.
type Builder struct {
	inputs          []ledger.UtxoRef
	referenceInputs []ledger.UtxoRef
	collateral      []ledger.UtxoRef
	outputs         []Output
	fee             uint64
	validFrom       uint64
	validTo         uint64
	mint            []MintEntry
	spendRedeemers  []spendRedeemer
	requiredSigners [][28]byte
	scripts         [][]byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddInput adds a plain (value) input.
func (b *Builder) AddInput(ref ledger.UtxoRef) *Builder {
	b.inputs = append(b.inputs, ref)
	return b
}

// AddScriptInput adds an input guarded by a script, with the redeemer
// expressing the intended action.
func (b *Builder) AddScriptInput(ref ledger.UtxoRef, redeemer plutus.Data, ex ExUnits) *Builder {
	b.inputs = append(b.inputs, ref)
	b.spendRedeemers = append(b.spendRedeemers, spendRedeemer{ref: ref, data: redeemer, exUnits: ex})
	return b
}

// AddReferenceInput adds an input readable by scripts without being spent.
func (b *Builder) AddReferenceInput(ref ledger.UtxoRef) *Builder {
	b.referenceInputs = append(b.referenceInputs, ref)
	return b
}

// AddCollateral adds a collateral input.
func (b *Builder) AddCollateral(ref ledger.UtxoRef) *Builder {
	b.collateral = append(b.collateral, ref)
	return b
}

// AddOutput appends an output. Output order is preserved: scripts that
// locate their continuation by position depend on it.
func (b *Builder) AddOutput(out Output) *Builder {
	b.outputs = append(b.outputs, out)
	return b
}

// SetFee sets the declared fee.
func (b *Builder) SetFee(fee uint64) *Builder {
	b.fee = fee
	return b
}

// SetValidity sets the validity window in slots; zero bounds are omitted.
func (b *Builder) SetValidity(fromSlot, toSlot uint64) *Builder {
	b.validFrom = fromSlot
	b.validTo = toSlot
	return b
}

// AddMint records a minted or burned asset.
func (b *Builder) AddMint(entry MintEntry) *Builder {
	b.mint = append(b.mint, entry)
	return b
}

// AddRequiredSigner records a key hash the transaction must be signed by.
func (b *Builder) AddRequiredSigner(keyHash [28]byte) *Builder {
	b.requiredSigners = append(b.requiredSigners, keyHash)
	return b
}

// AttachScript attaches a Plutus script to the witness set.
func (b *Builder) AttachScript(script []byte) *Builder {
	b.scripts = append(b.scripts, script)
	return b
}

// Tx is a built, unsigned transaction.
type Tx struct {
	body      []byte
	id        [32]byte
	redeemers []builtRedeemer
	scripts   [][]byte
	witnesses []vkeyWitness
}

type builtRedeemer struct {
	tag     uint64
	index   uint64
	data    plutus.Data
	exUnits ExUnits
}

type vkeyWitness struct {
	vkey [32]byte
	sig  []byte
}

// Build sorts inputs canonically, resolves redeemer indices, serializes the
// body and computes the transaction id.
func (b *Builder) Build(params *ledger.ProtocolParams) (*Tx, error) {
	if len(b.inputs) == 0 {
		return nil, fmt.Errorf("txbuilder: transaction has no inputs")
	}

	sorted := append([]ledger.UtxoRef(nil), b.inputs...)
	ledger.SortRefs(sorted)

	var redeemers []builtRedeemer
	for _, sr := range b.spendRedeemers {
		idx := sort.Search(len(sorted), func(i int) bool {
			return sorted[i].Compare(sr.ref) >= 0
		})
		if idx == len(sorted) || sorted[idx].Compare(sr.ref) != 0 {
			return nil, fmt.Errorf("txbuilder: redeemer for %s has no matching input", sr.ref)
		}
		redeemers = append(redeemers, builtRedeemer{
			tag: TagSpend, index: uint64(idx), data: sr.data, exUnits: sr.exUnits,
		})
	}
	// Mint redeemer indices refer to the policy's position in the
	// serialized mint map, which is policy-sorted, not insertion order.
	policies := mintPolicies(b.mint)
	for _, m := range b.mint {
		if m.Redeemer == nil {
			continue
		}
		idx := sort.Search(len(policies), func(i int) bool {
			return bytes.Compare(policies[i][:], m.Asset.Policy[:]) >= 0
		})
		redeemers = append(redeemers, builtRedeemer{
			tag: TagMint, index: uint64(idx), data: m.Redeemer, exUnits: m.ExUnits,
		})
	}

	body, err := serializeBody(b, sorted, redeemers, params)
	if err != nil {
		return nil, err
	}

	tx := &Tx{body: body, redeemers: redeemers, scripts: b.scripts}
	tx.id = blake2b.Sum256(body)
	return tx, nil
}

// mintPolicies returns the distinct minting policies in bytewise order,
// matching the serialized mint map.
func mintPolicies(entries []MintEntry) [][ledger.PolicyIDSize]byte {
	var policies [][ledger.PolicyIDSize]byte
	seen := make(map[[ledger.PolicyIDSize]byte]bool, len(entries))
	for _, m := range entries {
		if !seen[m.Asset.Policy] {
			seen[m.Asset.Policy] = true
			policies = append(policies, m.Asset.Policy)
		}
	}
	sort.Slice(policies, func(i, j int) bool {
		return bytes.Compare(policies[i][:], policies[j][:]) < 0
	})
	return policies
}

// ID returns the transaction id: blake2b-256 of the serialized body.
func (t *Tx) ID() [32]byte {
	return t.id
}

// Body returns the serialized body bytes.
func (t *Tx) Body() []byte {
	return t.body
}

// AddWitness attaches a verification-key witness.
func (t *Tx) AddWitness(vkey [32]byte, signature []byte) {
	t.witnesses = append(t.witnesses, vkeyWitness{vkey: vkey, sig: signature})
}

// Signer signs a transaction id; satisfied by the keystore.
type Signer interface {
	Sign(hash [32]byte) []byte
	PublicKey() [32]byte
}

// Sign signs the transaction id and attaches the witness.
func (t *Tx) Sign(s Signer) {
	t.AddWitness(s.PublicKey(), s.Sign(t.id))
}

// Bytes serializes the complete signed transaction for submission.
func (t *Tx) Bytes() []byte {
	return serializeTx(t)
}
