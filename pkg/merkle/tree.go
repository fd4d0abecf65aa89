// Package merkle implements the incremental append-only hash tree that
// anchors dispatched messages.
//
// The tree is a fixed-depth (32 level) keccak-256 accumulator. Only the
// per-level branch nodes and the leaf count are stored; that is enough to
// append leaves and to recompute the root, and it is exactly the state the
// mailbox datum carries on-chain. The insert algorithm must match the
// on-chain script bit for bit: any deviation desynchronizes relayer-computed
// inclusion proofs from the root the validator checks against, making real
// deliveries unverifiable.
//
// There is no removal operation. The tree is append-only for the lifetime of
// the mailbox.
package merkle

import (
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"golang.org/x/crypto/sha3"
)

// TreeDepth is the fixed height of the accumulator.
const TreeDepth = 32

// MaxLeaves is the capacity of a depth-32 tree.
const MaxLeaves = 1<<TreeDepth - 1

// Tree is the accumulator state embedded in the mailbox datum.
type Tree struct {
	Branches [TreeDepth][32]byte
	Count    uint32
}

// zeroHashes[i] is the root of an empty subtree of height i.
var zeroHashes = func() [TreeDepth][32]byte {
	var z [TreeDepth][32]byte
	for i := 1; i < TreeDepth; i++ {
		z[i] = hashPair(z[i-1], z[i-1])
	}
	return z
}()

func hashPair(left, right [32]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Insert appends a leaf.
//
// The walk maintains a virtual binary counter equal to Count+1 and climbs
// levels from 0 upward: while the current bit is even the node is combined
// with the stored branch and the counter shifts right; the first odd bit
// stores the node at that level and stops.
func (t *Tree) Insert(leaf [32]byte) error {
	if t.Count >= MaxLeaves {
		return fmt.Errorf("merkle: tree full at %d leaves", t.Count)
	}

	size := t.Count + 1
	node := leaf
	for level := 0; level < TreeDepth; level++ {
		if size&1 == 1 {
			t.Branches[level] = node
			t.Count++
			return nil
		}
		node = hashPair(t.Branches[level], node)
		size >>= 1
	}
	// Unreachable: the capacity check guarantees an odd bit within depth.
	return fmt.Errorf("merkle: insert walked past depth %d", TreeDepth)
}

// Root folds the stored branches against empty-subtree hashes to produce the
// current root.
func (t *Tree) Root() [32]byte {
	var current [32]byte
	for i := 0; i < TreeDepth; i++ {
		if (t.Count>>i)&1 == 1 {
			current = hashPair(t.Branches[i], current)
		} else {
			current = hashPair(current, zeroHashes[i])
		}
	}
	return current
}

// ToData encodes the accumulator as it appears inside the mailbox datum:
// a constructor carrying the ordered branch list and the leaf count.
func (t *Tree) ToData() plutus.Data {
	branches := make(plutus.List, TreeDepth)
	for i := range t.Branches {
		b := make([]byte, 32)
		copy(b, t.Branches[i][:])
		branches[i] = plutus.Bytes(b)
	}
	return plutus.NewConstr(0, branches, plutus.Int(t.Count))
}

// TreeFromData parses the accumulator out of a mailbox datum field.
func TreeFromData(d plutus.Data) (*Tree, error) {
	c, ok := d.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 2 {
		return nil, fmt.Errorf("merkle: state is not a two-field constructor")
	}
	branches, ok := c.Fields[0].(plutus.List)
	if !ok || len(branches) != TreeDepth {
		return nil, fmt.Errorf("merkle: expected %d branch nodes", TreeDepth)
	}
	count, ok := c.Fields[1].(plutus.Int)
	if !ok || count < 0 || count > MaxLeaves {
		return nil, fmt.Errorf("merkle: invalid leaf count")
	}

	t := &Tree{Count: uint32(count)}
	for i, b := range branches {
		node, ok := b.(plutus.Bytes)
		if !ok || len(node) != 32 {
			return nil, fmt.Errorf("merkle: branch %d is not a 32-byte hash", i)
		}
		copy(t.Branches[i][:], node)
	}
	return t, nil
}
