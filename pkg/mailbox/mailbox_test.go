package mailbox

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
	"github.com/suffix-labs/cardano-mailbox/pkg/merkle"
	"github.com/suffix-labs/cardano-mailbox/pkg/message"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
)

func testDatum(owner []byte) *Datum {
	d := &Datum{
		LocalDomain: 2003,
		Owner:       owner,
		Nonce:       4,
	}
	d.DefaultISM[0] = 0x1c
	return d
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

func fixture(t *testing.T) (*Manager, *ledgertest.Fake, *ledger.Utxo) {
	t.Helper()
	ks, err := keystore.New(bytes.Repeat([]byte{4}, 32), keystore.Testnet)
	require.NoError(t, err)
	walletAddr, err := ks.Address()
	require.NoError(t, err)
	id := ks.IdentityHash()

	var policy [28]byte
	policy[0] = 0xab
	marker := ledger.AssetID{Policy: policy}

	subject := &ledger.Utxo{
		Ref:     ledger.UtxoRef{TxID: [32]byte{0x60}, Index: 1},
		Address: testScriptAddress(t),
		Value: ledger.Value{
			Coin:   4_000_000,
			Assets: []ledger.AssetQuantity{{ID: marker, Quantity: 1}},
		},
		InlineDatum: plutus.Encode(testDatum(id[:]).ToData()),
	}

	fake := &ledgertest.Fake{
		Slot:         700,
		TokenHolders: map[string]*ledger.Utxo{marker.Unit(): subject},
		Utxos: map[string][]ledger.Utxo{
			walletAddr: {
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x03}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 25_000_000}},
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x04}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 8_000_000}},
			},
		},
	}

	m := &Manager{
		Exec:    &state.Executor{Client: fake, Keys: ks, Log: zerolog.Nop()},
		Marker:  marker,
		Address: subject.Address,
		Script:  []byte{0x59, 0x01, 0x00},
	}
	return m, fake, subject
}

func TestDatumRoundTrip(t *testing.T) {
	d := testDatum(bytes.Repeat([]byte{7}, 28))
	require.NoError(t, d.Tree.Insert([32]byte{0x01}))

	got, err := DatumFromData(d.ToData())
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDatumFromDataFailsClosed(t *testing.T) {
	owner := plutus.Bytes(bytes.Repeat([]byte{7}, 28))
	ism := plutus.Bytes(bytes.Repeat([]byte{1}, 28))
	tree := (&merkle.Tree{}).ToData()

	bad := []plutus.Data{
		plutus.NewConstr(1),
		plutus.NewConstr(0, plutus.Int(2003), ism, owner, plutus.Int(0)),
		plutus.NewConstr(0, plutus.Int(-1), ism, owner, plutus.Int(0), tree),
		plutus.NewConstr(0, plutus.Int(2003), plutus.Bytes{1}, owner, plutus.Int(0), tree),
		plutus.NewConstr(0, plutus.Int(2003), ism, owner, plutus.Int(1<<33), tree),
		plutus.NewConstr(0, plutus.Int(2003), ism, owner, plutus.Int(0), plutus.Int(9)),
	}
	for _, d := range bad {
		_, err := DatumFromData(d)
		assert.Error(t, err)
	}
}

func TestDispatchAdvancesNonceAndTree(t *testing.T) {
	m, fake, _ := fixture(t)

	var recipient [32]byte
	recipient[31] = 0x99
	var sender [32]byte
	sender[0] = 0x42

	txID, msg, err := m.Dispatch(context.Background(), sender, 1, recipient, []byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, txID)
	require.Len(t, fake.Submitted, 1)

	// The message is stamped from the live state.
	assert.Equal(t, uint32(4), msg.Nonce)
	assert.Equal(t, uint32(2003), msg.Origin)
	assert.Equal(t, uint32(1), msg.Destination)

	// An independent replay of the insert agrees on the new leaf count.
	var replay merkle.Tree
	require.NoError(t, replay.Insert(msg.ID()))
	assert.Equal(t, uint32(1), replay.Count)
	assert.Equal(t, msg.ID(), replay.Branches[0])
}

func TestDispatchRefusesMalformedState(t *testing.T) {
	m, fake, subject := fixture(t)
	subject.InlineDatum = plutus.Encode(plutus.NewConstr(0, plutus.Int(1)))

	_, _, err := m.Dispatch(context.Background(), [32]byte{}, 1, [32]byte{}, []byte("x"))
	var mde *state.MalformedDatumError
	require.ErrorAs(t, err, &mde)
	assert.Empty(t, fake.Submitted)
}

func TestLocateFallsBackToAddressScan(t *testing.T) {
	m, fake, subject := fixture(t)
	// Token index unavailable: no holder recorded, but the script address
	// still carries the state output.
	fake.TokenHolders = nil
	fake.Utxos[m.Address] = []ledger.Utxo{*subject}

	got, err := m.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, subject.Ref, got.Ref)
}

func TestLocateReportsMissingState(t *testing.T) {
	m, fake, _ := fixture(t)
	fake.TokenHolders = nil

	_, err := m.Locate(context.Background())
	assert.True(t, ledger.IsNotFound(err))
}

func TestProcessRedeemerShape(t *testing.T) {
	msg := &message.Message{Version: message.Version, Nonce: 1, Origin: 1, Destination: 2003, Body: []byte("hi")}
	r := ProcessRedeemer(msg, []byte{0xde, 0xad}).(plutus.Constr)
	assert.Equal(t, uint64(redeemerProcess), r.Index)
	require.Len(t, r.Fields, 2)
	assert.Equal(t, plutus.Bytes{0xde, 0xad}, r.Fields[1])
}
