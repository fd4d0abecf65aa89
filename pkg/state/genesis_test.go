package state

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/cardano-mailbox/pkg/ledger"
	"github.com/suffix-labs/cardano-mailbox/pkg/ledger/ledgertest"
	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"github.com/suffix-labs/cardano-mailbox/pkg/txbuilder"
)

func testGenesis(t *testing.T) *Genesis {
	t.Helper()
	return &Genesis{
		Marker:       testMarker(),
		Policy:       []byte{0x59, 0x01, 0x00},
		Address:      testScriptAddress(t),
		InitialDatum: plutus.NewConstr(0, plutus.Int(1)),
		MintRedeemer: plutus.NewConstr(0),
		ExUnits:      txbuilder.ExUnits{Mem: 400_000, Steps: 150_000_000},
	}
}

func TestInitializeMintsMarkerState(t *testing.T) {
	ks := testKeys(t)
	addr, err := ks.Address()
	require.NoError(t, err)

	fake := &ledgertest.Fake{
		Slot: 500,
		Utxos: map[string][]ledger.Utxo{
			addr: {{Ref: ref(0x01, 0), Address: addr, Value: ledger.Value{Coin: 40_000_000}}},
		},
	}
	ex := &Executor{Client: fake, Keys: ks, Log: zerolog.Nop()}

	g := testGenesis(t)
	id, err := ex.Initialize(context.Background(), g)
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, id)
	require.Len(t, fake.Submitted, 1)

	raw := fake.Submitted[0]
	assert.Equal(t, byte(0x84), raw[0])
	// The mint map names the policy and the output carries the datum.
	assert.True(t, bytes.Contains(raw, g.Marker.Policy[:]))
	assert.True(t, bytes.Contains(raw, plutus.Encode(g.InitialDatum)))
}

func TestInitializeRefusesLiveMarker(t *testing.T) {
	ks := testKeys(t)
	addr, err := ks.Address()
	require.NoError(t, err)

	held := stateUtxo(t, plutus.NewConstr(0))
	fake := &ledgertest.Fake{
		TokenHolders: map[string]*ledger.Utxo{testMarker().Unit(): &held},
		Utxos: map[string][]ledger.Utxo{
			addr: {{Ref: ref(0x01, 0), Address: addr, Value: ledger.Value{Coin: 40_000_000}}},
		},
	}
	ex := &Executor{Client: fake, Keys: ks, Log: zerolog.Nop()}

	_, err = ex.Initialize(context.Background(), testGenesis(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already held")
	assert.Empty(t, fake.Submitted)
}

func TestInitializeRejectsThinCollateral(t *testing.T) {
	ks := testKeys(t)
	addr, err := ks.Address()
	require.NoError(t, err)

	// The larger output funds the mint but the only distinct collateral
	// candidate sits below the collateral floor.
	fake := &ledgertest.Fake{
		Utxos: map[string][]ledger.Utxo{
			addr: {
				{Ref: ref(0x01, 0), Address: addr, Value: ledger.Value{Coin: 2_000_000}},
				{Ref: ref(0x02, 0), Address: addr, Value: ledger.Value{Coin: 600_000}},
			},
		},
	}
	ex := &Executor{Client: fake, Keys: ks, Log: zerolog.Nop()}

	_, err = ex.Initialize(context.Background(), testGenesis(t))
	var nce *txbuilder.NoCollateralError
	require.ErrorAs(t, err, &nce)
	assert.NotZero(t, nce.Required)
	assert.Empty(t, fake.Submitted)
}
