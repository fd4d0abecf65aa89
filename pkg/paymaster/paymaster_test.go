package paymaster

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

func sampleDatum(owner, beneficiary []byte) *Datum {
	return &Datum{
		Owner:       owner,
		Beneficiary: beneficiary,
		Quotes: []DomainQuote{
			{Domain: 1, GasPrice: 15_000_000_000, ExchangeRate: 2 * ExchangeScale},
			{Domain: 137, GasPrice: 30_000_000_000, ExchangeRate: ExchangeScale / 2},
			{Domain: 42, GasPrice: 20, ExchangeRate: ExchangeScale},
		},
		DefaultGasLimit: 200_000,
	}
}

func TestQuotePaymentRoundsUp(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28), bytes.Repeat([]byte{2}, 28))

	// 100k gas at 15 gwei, rate 2 destination wei per local unit.
	got, err := d.QuotePayment(1, 100_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(750_000_000_000_000), got)

	// Zero gas limit falls back to the datum default.
	viaDefault, err := d.QuotePayment(1, 0)
	require.NoError(t, err)
	explicit, err := d.QuotePayment(1, d.DefaultGasLimit)
	require.NoError(t, err)
	assert.Equal(t, explicit, viaDefault)

	_, err = d.QuotePayment(999, 1)
	assert.True(t, ledger.IsNotFound(err))
}

func TestQuotePaymentCeiling(t *testing.T) {
	d := &Datum{
		Owner:       bytes.Repeat([]byte{1}, 28),
		Beneficiary: bytes.Repeat([]byte{2}, 28),
		Quotes:      []DomainQuote{{Domain: 5, GasPrice: 1, ExchangeRate: 3}},
	}
	// 1 wei against a rate of 3e-10 per unit must round up, never down.
	got, err := d.QuotePayment(5, 1)
	require.NoError(t, err)
	want := (uint64(1)*ExchangeScale + 2) / 3
	assert.Equal(t, want, got)
}

func TestSetQuoteKeepsOrder(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28), bytes.Repeat([]byte{2}, 28))

	next := d.SetQuote(DomainQuote{Domain: 137, GasPrice: 1, ExchangeRate: 1})
	require.Len(t, next.Quotes, 3)
	assert.Equal(t, uint32(1), next.Quotes[0].Domain)
	assert.Equal(t, uint64(1), next.Quotes[1].GasPrice)
	// Original untouched.
	assert.Equal(t, uint64(30_000_000_000), d.Quotes[1].GasPrice)

	appended := d.SetQuote(DomainQuote{Domain: 10, GasPrice: 9, ExchangeRate: 9})
	require.Len(t, appended.Quotes, 4)
	assert.Equal(t, uint32(10), appended.Quotes[3].Domain)
}

func TestDatumRoundTrip(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28), bytes.Repeat([]byte{2}, 28))
	got, err := DatumFromData(d.ToData())
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestQuoteEntriesEncodeAsLists(t *testing.T) {
	d := sampleDatum(bytes.Repeat([]byte{1}, 28), bytes.Repeat([]byte{2}, 28))
	enc := d.ToData().(plutus.Constr)
	for _, entry := range enc.Fields[2].(plutus.List) {
		pair, isList := entry.(plutus.List)
		require.True(t, isList, "quote entry must be a plain list")
		_, isList = pair[1].(plutus.List)
		assert.True(t, isList, "price and rate must be a plain list")
	}
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

func managerFixture(t *testing.T, owner, beneficiary []byte) (*Manager, *ledgertest.Fake) {
	t.Helper()
	ks, err := keystore.New(bytes.Repeat([]byte{8}, 32), keystore.Testnet)
	require.NoError(t, err)
	walletAddr, err := ks.Address()
	require.NoError(t, err)

	var policy [28]byte
	policy[0] = 0x99
	marker := ledger.AssetID{Policy: policy, Name: []byte("igp")}

	subject := &ledger.Utxo{
		Ref:     ledger.UtxoRef{TxID: [32]byte{0x80}, Index: 0},
		Address: testScriptAddress(t),
		Value: ledger.Value{
			Coin:   50_000_000,
			Assets: []ledger.AssetQuantity{{ID: marker, Quantity: 1}},
		},
		InlineDatum: plutus.Encode(sampleDatum(owner, beneficiary).ToData()),
	}

	fake := &ledgertest.Fake{
		Slot:         1200,
		TokenHolders: map[string]*ledger.Utxo{marker.Unit(): subject},
		Utxos: map[string][]ledger.Utxo{
			walletAddr: {
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x07}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 80_000_000}},
				{Ref: ledger.UtxoRef{TxID: [32]byte{0x08}, Index: 0}, Address: walletAddr, Value: ledger.Value{Coin: 9_000_000}},
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

func TestPayForGasDeposits(t *testing.T) {
	m, fake := managerFixture(t, bytes.Repeat([]byte{1}, 28), bytes.Repeat([]byte{2}, 28))

	var msgID [32]byte
	msgID[0] = 0x5a
	txID, payment, err := m.PayForGas(context.Background(), msgID, 42, 50_000)
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, txID)
	assert.Equal(t, uint64(1_000_000), payment)
	require.Len(t, fake.Submitted, 1)
}

func TestClaimRequiresBeneficiary(t *testing.T) {
	ks, err := keystore.New(bytes.Repeat([]byte{8}, 32), keystore.Testnet)
	require.NoError(t, err)
	id := ks.IdentityHash()

	m, fake := managerFixture(t, bytes.Repeat([]byte{1}, 28), id[:])
	_, err = m.Claim(context.Background(), 10_000_000)
	require.NoError(t, err)
	require.Len(t, fake.Submitted, 1)

	stranger, fake2 := managerFixture(t, bytes.Repeat([]byte{1}, 28), bytes.Repeat([]byte{2}, 28))
	var ae *state.AuthorizationError
	_, err = stranger.Claim(context.Background(), 10_000_000)
	require.ErrorAs(t, err, &ae)
	assert.Empty(t, fake2.Submitted)
}

func TestClaimCannotDrainBelowSubjectValue(t *testing.T) {
	ks, err := keystore.New(bytes.Repeat([]byte{8}, 32), keystore.Testnet)
	require.NoError(t, err)
	id := ks.IdentityHash()

	m, fake := managerFixture(t, bytes.Repeat([]byte{1}, 28), id[:])
	_, err = m.Claim(context.Background(), 60_000_000)
	require.Error(t, err)
	assert.Empty(t, fake.Submitted)
}

func TestSetQuoteRequiresOwner(t *testing.T) {
	ks, err := keystore.New(bytes.Repeat([]byte{8}, 32), keystore.Testnet)
	require.NoError(t, err)
	id := ks.IdentityHash()

	m, fake := managerFixture(t, id[:], bytes.Repeat([]byte{2}, 28))
	_, err = m.SetQuote(context.Background(), DomainQuote{Domain: 1, GasPrice: 5, ExchangeRate: ExchangeScale})
	require.NoError(t, err)
	require.Len(t, fake.Submitted, 1)

	stranger, _ := managerFixture(t, bytes.Repeat([]byte{1}, 28), bytes.Repeat([]byte{2}, 28))
	var ae *state.AuthorizationError
	_, err = stranger.SetQuote(context.Background(), DomainQuote{Domain: 1, GasPrice: 5, ExchangeRate: ExchangeScale})
	require.ErrorAs(t, err, &ae)
}
