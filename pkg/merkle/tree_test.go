package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
)

func leaf(b byte) [32]byte {
	var l [32]byte
	l[31] = b
	return l
}

func TestFirstInsertLandsInBranchZero(t *testing.T) {
	var tree Tree
	id := leaf(0x42)

	require.NoError(t, tree.Insert(id))

	assert.Equal(t, uint32(1), tree.Count)
	assert.Equal(t, id, tree.Branches[0])
	for i := 1; i < TreeDepth; i++ {
		assert.Equal(t, [32]byte{}, tree.Branches[i], "branch %d must stay zero", i)
	}
}

func TestInsertIsDeterministic(t *testing.T) {
	var a, b Tree
	for i := 0; i < 100; i++ {
		require.NoError(t, a.Insert(leaf(byte(i))))
		require.NoError(t, b.Insert(leaf(byte(i))))
	}
	assert.Equal(t, a.Branches, b.Branches)
	assert.Equal(t, a.Count, b.Count)
	assert.Equal(t, a.Root(), b.Root())
	assert.Equal(t, uint32(100), a.Count)
}

func TestInsertIsNotIdempotent(t *testing.T) {
	var tree Tree
	require.NoError(t, tree.Insert(leaf(0x01)))
	rootAfterOne := tree.Root()

	require.NoError(t, tree.Insert(leaf(0x01)))
	assert.Equal(t, uint32(2), tree.Count)
	assert.NotEqual(t, rootAfterOne, tree.Root())
}

func TestRootChangesWithEveryLeaf(t *testing.T) {
	var tree Tree
	seen := map[[32]byte]bool{tree.Root(): true}
	for i := 0; i < 33; i++ {
		require.NoError(t, tree.Insert(leaf(byte(i))))
		r := tree.Root()
		assert.False(t, seen[r], "root repeated after %d inserts", i+1)
		seen[r] = true
	}
}

func TestCountTracksInserts(t *testing.T) {
	var tree Tree
	for n := 1; n <= 10; n++ {
		require.NoError(t, tree.Insert(leaf(byte(n))))
		assert.Equal(t, uint32(n), tree.Count)
	}
}

func TestDatumRoundTrip(t *testing.T) {
	var tree Tree
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Insert(leaf(byte(i + 1))))
	}

	back, err := TreeFromData(tree.ToData())
	require.NoError(t, err)
	assert.Equal(t, tree.Branches, back.Branches)
	assert.Equal(t, tree.Count, back.Count)
	assert.Equal(t, tree.Root(), back.Root())
}

func TestTreeFromDataRejectsMalformedState(t *testing.T) {
	cases := []struct {
		name string
		data plutus.Data
	}{
		{"not a constructor", plutus.Int(1)},
		{"wrong field count", plutus.NewConstr(0, plutus.Int(1))},
		{"short branch list", plutus.NewConstr(0, plutus.List{plutus.Bytes(make([]byte, 32))}, plutus.Int(0))},
		{"branch wrong width", func() plutus.Data {
			branches := make(plutus.List, TreeDepth)
			for i := range branches {
				branches[i] = plutus.Bytes(make([]byte, 31))
			}
			return plutus.NewConstr(0, branches, plutus.Int(0))
		}()},
		{"negative count", func() plutus.Data {
			branches := make(plutus.List, TreeDepth)
			for i := range branches {
				branches[i] = plutus.Bytes(make([]byte, 32))
			}
			return plutus.NewConstr(0, branches, plutus.Int(-1))
		}()},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := TreeFromData(c.data)
			assert.Error(t, err)
		})
	}
}
