package relayer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/cardano-mailbox/pkg/keystore"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger/ledgertest"
	"github.com/suffix-labs/cardano-mailbox/pkg/mailbox"
	"github.com/suffix-labs/cardano-mailbox/pkg/message"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/registry"
	"github.com/suffix-labs/cardano-mailbox/pkg/state"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

func scriptAddr(t *testing.T, seed byte) string {
	t.Helper()
	raw := make([]byte, 29)
	raw[0] = 0x70
	for i := 1; i < len(raw); i++ {
		raw[i] = seed
	}
	converted, err := bech32.ConvertBits(raw, 8, 5, true)
	require.NoError(t, err)
	addr, err := bech32.Encode("addr_test", converted)
	require.NoError(t, err)
	return addr
}

func marker(b byte, name string) ledger.AssetID {
	var policy [28]byte
	policy[0] = b
	return ledger.AssetID{Policy: policy, Name: []byte(name)}
}

func stateUtxo(t *testing.T, txid byte, addrSeed byte, m ledger.AssetID, datum plutus.Data) *ledger.Utxo {
	t.Helper()
	return &ledger.Utxo{
		Ref:     ledger.UtxoRef{TxID: [32]byte{0: txid}, Index: 0},
		Address: scriptAddr(t, addrSeed),
		Value: ledger.Value{
			Coin:   4_000_000,
			Assets: []ledger.AssetQuantity{{ID: m, Quantity: 1}},
		},
		InlineDatum: plutus.Encode(datum),
	}
}

type fixture struct {
	assembler *Assembler
	fake      *ledgertest.Fake
	msg       *message.Message
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ks, err := keystore.New(bytes.Repeat([]byte{3}, 32), keystore.Testnet)
	require.NoError(t, err)
	walletAddr, err := ks.Address()
	require.NoError(t, err)
	id := ks.IdentityHash()

	mailboxMarker := marker(0x61, "mailbox")
	registryMarker := marker(0x62, "registry")
	recipientMarker := marker(0x63, "recipient")
	ismMarker := marker(0x64, "ism")

	msg := &message.Message{
		Version:     message.Version,
		Nonce:       3,
		Origin:      1,
		Destination: 2003,
		Body:        []byte("payload"),
	}
	msg.Recipient[0] = 0x51

	mailboxDatum := &mailbox.Datum{LocalDomain: 2003, Owner: id[:], Nonce: 9}
	mailboxDatum.DefaultISM[0] = 0x64

	registryDatum := &registry.Datum{
		Registrations: []registry.Registration{{
			Recipient: msg.Recipient,
			Owner:     id[:],
			State:     recipientMarker,
			Kind:      1,
		}},
		Admin: id[:],
	}

	recipientDatum := &RecipientDatum{Inner: plutus.NewConstr(0)}

	mailboxUtxo := stateUtxo(t, 0x61, 0x01, mailboxMarker, mailboxDatum.ToData())
	registryUtxo := stateUtxo(t, 0x62, 0x02, registryMarker, registryDatum.ToData())
	recipientUtxo := stateUtxo(t, 0x63, 0x03, recipientMarker, recipientDatum.ToData())
	ismUtxo := stateUtxo(t, 0x64, 0x04, ismMarker, plutus.NewConstr(0))

	fake := &ledgertest.Fake{
		Slot: 2000,
		TokenHolders: map[string]*ledger.Utxo{
			mailboxMarker.Unit():   mailboxUtxo,
			registryMarker.Unit():  registryUtxo,
			recipientMarker.Unit(): recipientUtxo,
			ismMarker.Unit():       ismUtxo,
		},
		Utxos: map[string][]ledger.Utxo{
			walletAddr: {
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x10}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 60_000_000}},
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x11}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 10_000_000}},
			},
		},
	}

	exec := &state.Executor{Client: fake, Keys: ks, Log: zerolog.Nop()}
	a := &Assembler{
		Client: fake,
		Keys:   ks,
		Log:    zerolog.Nop(),
		Mailbox: &mailbox.Manager{
			Exec:   exec,
			Marker: mailboxMarker,
			Script: []byte{0x59, 0x01, 0x00},
		},
		Registry: &registry.Manager{
			Exec:   exec,
			Marker: registryMarker,
		},
		DefaultISM:      ismMarker,
		MarkerAddress:   scriptAddr(t, 0x0d),
		RecipientScript: []byte{0x59, 0x02, 0x00},
		ConfirmAttempts: 1,
		ConfirmBackoff:  time.Millisecond,
	}
	return &fixture{assembler: a, fake: fake, msg: msg}
}

// confirming wraps the fake so any transaction is known once something
// was submitted.
type confirming struct {
	*ledgertest.Fake
}

func (c *confirming) GetTransactionUtxos(ctx context.Context, txID [32]byte) ([]ledger.Utxo, error) {
	if len(c.Submitted) > 0 {
		return []ledger.Utxo{}, nil
	}
	return c.Fake.GetTransactionUtxos(ctx, txID)
}

func TestRecipientDatumRoundTrip(t *testing.T) {
	override := marker(0x22, "custom")
	nonce := uint32(7)
	d := &RecipientDatum{ISMOverride: &override, Processed: &nonce, Inner: plutus.Bytes("inner")}

	got, err := RecipientFromData(d.ToData())
	require.NoError(t, err)
	assert.Equal(t, d, got)

	empty := &RecipientDatum{Inner: plutus.NewConstr(0)}
	got, err = RecipientFromData(empty.ToData())
	require.NoError(t, err)
	assert.Nil(t, got.ISMOverride)
	assert.Nil(t, got.Processed)
}

func TestHandleRecordsDelivery(t *testing.T) {
	d := &RecipientDatum{Inner: plutus.NewConstr(0)}
	msg := &message.Message{Nonce: 12, Body: []byte("hi")}

	next := d.Handle(msg)
	require.NotNil(t, next.Processed)
	assert.Equal(t, uint32(12), *next.Processed)
	assert.Equal(t, plutus.Bytes("hi"), next.Inner)
	// The consumed datum is untouched.
	assert.Nil(t, d.Processed)
}

func TestDeliverFinalizes(t *testing.T) {
	f := newFixture(t)
	f.assembler.Client = &confirming{f.fake}

	d, err := f.assembler.Deliver(context.Background(), f.msg, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, d.State())
	assert.NotEqual(t, [32]byte{}, d.TxID)
	require.Len(t, f.fake.Submitted, 1)

	// The marker datum rides inside the submitted transaction.
	msgID := f.msg.ID()
	assert.True(t, bytes.Contains(f.fake.Submitted[0], plutus.Encode(plutus.Bytes(msgID[:]))))
	assert.Equal(t, byte(0x84), f.fake.Submitted[0][0])
}

func TestDeliverStallsWithoutConfirmation(t *testing.T) {
	f := newFixture(t)

	d, err := f.assembler.Deliver(context.Background(), f.msg, nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotYetConfirmed, d.State())
	require.Len(t, f.fake.Submitted, 1)
}

func TestDeliverSuppressesResubmission(t *testing.T) {
	// The indexer may hand the marker datum back re-framed; every form
	// that decodes to the message id must suppress the delivery.
	encodings := map[string]func(msgID [32]byte) []byte{
		"canonical": func(msgID [32]byte) []byte {
			return plutus.Encode(plutus.Bytes(msgID[:]))
		},
		"wrapped": func(msgID [32]byte) []byte {
			return plutus.Encode(plutus.NewConstr(0, plutus.Bytes(msgID[:])))
		},
		"chunked indefinite": func(msgID [32]byte) []byte {
			datum := append([]byte{0x5f}, plutus.Encode(plutus.Bytes(msgID[:]))...)
			return append(datum, 0xff)
		},
	}

	for name, encode := range encodings {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			msgID := f.msg.ID()
			f.fake.Utxos[f.assembler.MarkerAddress] = []ledger.Utxo{{
				Ref:         ledger.UtxoRef{TxID: [32]byte{0xdd}, Index: 0},
				Address:     f.assembler.MarkerAddress,
				Value:       ledger.Value{Coin: 1_000_000},
				InlineDatum: encode(msgID),
			}}

			d, err := f.assembler.Deliver(context.Background(), f.msg, nil)
			var ade *AlreadyDeliveredError
			require.ErrorAs(t, err, &ade)
			assert.Equal(t, msgID, ade.MessageID)
			assert.Equal(t, StateDiscovered, d.State())
			assert.Empty(t, f.fake.Submitted)
		})
	}
}

func TestDeliverIgnoresForeignMarkerDatums(t *testing.T) {
	f := newFixture(t)
	f.fake.Utxos[f.assembler.MarkerAddress] = []ledger.Utxo{{
		Ref:         ledger.UtxoRef{TxID: [32]byte{0xde}, Index: 0},
		Address:     f.assembler.MarkerAddress,
		Value:       ledger.Value{Coin: 1_000_000},
		InlineDatum: []byte{0xff, 0xff},
	}}

	d, err := f.assembler.Deliver(context.Background(), f.msg, nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotYetConfirmed, d.State())
	require.Len(t, f.fake.Submitted, 1)
}

func TestDeliverFailsForUnregisteredRecipient(t *testing.T) {
	f := newFixture(t)
	f.msg.Recipient[0] = 0xff

	d, err := f.assembler.Deliver(context.Background(), f.msg, nil)
	var ce *ComponentError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "recipient registration", ce.Component)
	assert.Equal(t, StateDiscovered, d.State())
	assert.Empty(t, f.fake.Submitted)
}

func TestDeliverNamesOrderingConstraint(t *testing.T) {
	f := newFixture(t)
	ks := f.assembler.Keys
	walletAddr, err := ks.Address()
	require.NoError(t, err)
	// Every wallet output sorts after the mailbox input.
	f.fake.Utxos[walletAddr] = []ledger.Utxo{
		{Ref: ledger.UtxoRef{TxID: [32]byte{0xf1}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 60_000_000}},
	}

	_, err = f.assembler.Deliver(context.Background(), f.msg, nil)
	var oce *txbuilder.OrderingConstraintError
	require.ErrorAs(t, err, &oce)
	assert.Empty(t, f.fake.Submitted)
}

func TestDeliverFollowsOnChainDefaultISM(t *testing.T) {
	f := newFixture(t)
	// Point the configured default at a policy no token indexes; the
	// mailbox datum still names the live one, and that value wins.
	f.assembler.DefaultISM = marker(0x99, "ism")

	d, err := f.assembler.Deliver(context.Background(), f.msg, nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotYetConfirmed, d.State())
	require.Len(t, f.fake.Submitted, 1)
}

func TestDeliverFallsBackToConfiguredISM(t *testing.T) {
	f := newFixture(t)
	// A mailbox datum with the module field unset defers to the
	// configured marker.
	id := f.assembler.Keys.IdentityHash()
	blank := &mailbox.Datum{LocalDomain: 2003, Owner: id[:], Nonce: 9}
	mailboxUtxo := f.fake.TokenHolders[f.assembler.Mailbox.Marker.Unit()]
	mailboxUtxo.InlineDatum = plutus.Encode(blank.ToData())

	d, err := f.assembler.Deliver(context.Background(), f.msg, nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotYetConfirmed, d.State())
	require.Len(t, f.fake.Submitted, 1)
}

func TestDeliverResolvesCustomISMAndExtras(t *testing.T) {
	f := newFixture(t)

	custom := marker(0x6a, "custom-ism")
	aux := marker(0x6b, "aux")
	customUtxo := stateUtxo(t, 0x6a, 0x05, custom, plutus.NewConstr(0))
	auxUtxo := stateUtxo(t, 0x6b, 0x06, aux, plutus.NewConstr(0, plutus.Int(1)))
	f.fake.TokenHolders[custom.Unit()] = customUtxo
	f.fake.TokenHolders[aux.Unit()] = auxUtxo

	// Rewrite the registration with the override and a must-spend extra.
	regMarker := f.assembler.Registry.Marker
	regUtxo := f.fake.TokenHolders[regMarker.Unit()]
	ks := f.assembler.Keys
	id := ks.IdentityHash()
	d := &registry.Datum{
		Registrations: []registry.Registration{{
			Recipient: f.msg.Recipient,
			Owner:     id[:],
			State:     marker(0x63, "recipient"),
			Extra:     []registry.ExtraInput{{Locator: aux, MustSpend: true}},
			Kind:      1,
			CustomISM: &custom,
		}},
		Admin: id[:],
	}
	regUtxo.InlineDatum = plutus.Encode(d.ToData())

	delivery, err := f.assembler.Deliver(context.Background(), f.msg, nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotYetConfirmed, delivery.State())
	require.Len(t, f.fake.Submitted, 1)

	// The must-spend extra's datum is reproduced in the outputs.
	assert.True(t, bytes.Contains(f.fake.Submitted[0], auxUtxo.InlineDatum))
}
