package registry

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/cardano-mailbox/pkg/keystore"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger/ledgertest"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
)

func asset(b byte, name string) ledger.AssetID {
	var policy [28]byte
	policy[0] = b
	return ledger.AssetID{Policy: policy, Name: []byte(name)}
}

func recipientID(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func sampleRegistration(b byte, owner []byte) Registration {
	custom := asset(0x33, "ism")
	return Registration{
		Recipient: recipientID(b),
		Owner:     owner,
		State:     asset(b, "state"),
		ScriptRef: nil,
		Extra: []ExtraInput{
			{Locator: asset(0x44, "aux"), MustSpend: true},
			{Locator: asset(0x45, "ro"), MustSpend: false},
		},
		Kind:      2,
		CustomISM: &custom,
	}
}

func sampleDatum(admin []byte) *Datum {
	return &Datum{
		Registrations: []Registration{
			sampleRegistration(0x01, bytes.Repeat([]byte{0xaa}, 28)),
			sampleRegistration(0x02, bytes.Repeat([]byte{0xbb}, 28)),
		},
		Admin: admin,
	}
}

func TestDatumRoundTrip(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28))
	d.Registrations[0].ScriptRef = &d.Registrations[0].State

	got, err := DatumFromData(d.ToData())
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestExtraInputPairsAreLists(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28))
	enc := d.ToData().(plutus.Constr)
	regs := enc.Fields[0].(plutus.List)
	reg := regs[0].(plutus.Constr)
	for _, entry := range reg.Fields[4].(plutus.List) {
		_, isList := entry.(plutus.List)
		assert.True(t, isList, "extra-input pair must be a plain list")
	}
}

func TestLookupAndOrder(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28))

	reg, err := d.Lookup(recipientID(0x02))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), reg.Kind)

	_, err = d.Lookup(recipientID(0x09))
	assert.True(t, ledger.IsNotFound(err))
}

func TestRegisterUpdatesFirstMatchElseAppends(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28))

	replacement := sampleRegistration(0x01, bytes.Repeat([]byte{0xcc}, 28))
	replacement.Kind = 9
	next := d.Register(replacement)
	require.Len(t, next.Registrations, 2)
	assert.Equal(t, uint32(9), next.Registrations[0].Kind)
	assert.Equal(t, recipientID(0x02), next.Registrations[1].Recipient)
	// Original untouched.
	assert.Equal(t, uint32(2), d.Registrations[0].Kind)

	appended := d.Register(sampleRegistration(0x07, bytes.Repeat([]byte{0xdd}, 28)))
	require.Len(t, appended.Registrations, 3)
	assert.Equal(t, recipientID(0x07), appended.Registrations[2].Recipient)
}

func TestRemove(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28))

	next, err := d.Remove(recipientID(0x01))
	require.NoError(t, err)
	require.Len(t, next.Registrations, 1)
	assert.Equal(t, recipientID(0x02), next.Registrations[0].Recipient)

	_, err = d.Remove(recipientID(0x09))
	assert.True(t, ledger.IsNotFound(err))
}

func testScriptAddress(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 29)
	raw[0] = 0x70
	converted, err := bech32.ConvertBits(raw, 8, 5, true)
	require.NoError(t, err)
	addr, err := bech32.Encode("addr_test", converted)
	require.NoError(t, err)
	return addr
}

func managerFixture(t *testing.T, admin []byte) (*Manager, *ledgertest.Fake) {
	t.Helper()
	ks, err := keystore.New(bytes.Repeat([]byte{6}, 32), keystore.Testnet)
	require.NoError(t, err)
	walletAddr, err := ks.Address()
	require.NoError(t, err)

	marker := asset(0x77, "registry")
	subject := &ledger.Utxo{
		Ref:     ledger.UtxoRef{TxID: [32]byte{0x70}, Index: 0},
		Address: testScriptAddress(t),
		Value: ledger.Value{
			Coin:   3_000_000,
			Assets: []ledger.AssetQuantity{{ID: marker, Quantity: 1}},
		},
		InlineDatum: plutus.Encode(sampleDatum(admin).ToData()),
	}

	fake := &ledgertest.Fake{
		Slot:         900,
		TokenHolders: map[string]*ledger.Utxo{marker.Unit(): subject},
		Utxos: map[string][]ledger.Utxo{
			walletAddr: {
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x05}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 22_000_000}},
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x06}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 7_000_000}},
			},
		},
	}

	m := &Manager{
		Exec:   &state.Executor{Client: fake, Keys: ks, Log: zerolog.Nop()},
		Marker: marker,
		Script: []byte{0x59, 0x01, 0x00},
	}
	return m, fake
}

func TestManagerRegisterAsAdmin(t *testing.T) {
	ks, err := keystore.New(bytes.Repeat([]byte{6}, 32), keystore.Testnet)
	require.NoError(t, err)
	id := ks.IdentityHash()

	m, fake := managerFixture(t, id[:])
	_, err = m.Register(context.Background(), sampleRegistration(0x09, bytes.Repeat([]byte{0xee}, 28)))
	require.NoError(t, err)
	require.Len(t, fake.Submitted, 1)
}

func TestManagerRegisterAsEntryOwner(t *testing.T) {
	ks, err := keystore.New(bytes.Repeat([]byte{6}, 32), keystore.Testnet)
	require.NoError(t, err)
	id := ks.IdentityHash()

	// Signer is not admin, but owns the existing registration being
	// replaced.
	m, fake := managerFixture(t, bytes.Repeat([]byte{0x99}, 28))
	subject := fake.TokenHolders[m.Marker.Unit()]
	d := sampleDatum(bytes.Repeat([]byte{0x99}, 28))
	d.Registrations[0].Owner = id[:]
	subject.InlineDatum = plutus.Encode(d.ToData())

	_, err = m.Register(context.Background(), sampleRegistration(0x01, id[:]))
	require.NoError(t, err)
	require.Len(t, fake.Submitted, 1)
}

func TestManagerRejectsUnauthorized(t *testing.T) {
	m, fake := managerFixture(t, bytes.Repeat([]byte{0x99}, 28))

	var ae *state.AuthorizationError
	_, err := m.Register(context.Background(), sampleRegistration(0x09, bytes.Repeat([]byte{0xee}, 28)))
	require.ErrorAs(t, err, &ae)

	_, err = m.Remove(context.Background(), recipientID(0x01))
	require.ErrorAs(t, err, &ae)
	assert.Empty(t, fake.Submitted)
}
