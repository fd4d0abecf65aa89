// Package keystore holds the operator's signing key.
//
// The key is a single ed25519 key pair loaded from a file. Three things are
// derived from it: payment signatures over transaction ids, the operator's
// bech32 enterprise address, and the 28-byte key hash the on-chain scripts
// record as owner/beneficiary identity.
package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	blake2b "github.com/minio/blake2b-simd"
)

// IdentityHashSize is the width of a payment key hash.
const IdentityHashSize = 28

// Network identifies which address namespace the store signs for.
type Network uint8

const (
	Testnet Network = 0
	Mainnet Network = 1
)

// KeyStore wraps the operator's ed25519 signing key.
type KeyStore struct {
	priv    ed25519.PrivateKey
	network Network
}

// New creates a store from a 32-byte ed25519 seed.
func New(seed []byte, network Network) (*KeyStore, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keystore: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeyStore{priv: ed25519.NewKeyFromSeed(seed), network: network}, nil
}

// Load reads a hex-encoded 32-byte seed from a file.
func Load(path string, network Network) (*KeyStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: reading %s: %w", path, err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("keystore: %s is not hex: %w", path, err)
	}
	return New(seed, network)
}

// Sign signs a 32-byte hash (a transaction id) and returns the 64-byte
// ed25519 signature.
func (k *KeyStore) Sign(hash [32]byte) []byte {
	return ed25519.Sign(k.priv, hash[:])
}

// PublicKey returns the 32-byte verification key.
func (k *KeyStore) PublicKey() [32]byte {
	var pub [32]byte
	copy(pub[:], k.priv.Public().(ed25519.PublicKey))
	return pub
}

// IdentityHash returns the blake2b-224 hash of the verification key, the
// identity the scripts compare required signers against.
func (k *KeyStore) IdentityHash() [IdentityHashSize]byte {
	var out [IdentityHashSize]byte
	digest, err := blake2b.New(&blake2b.Config{Size: IdentityHashSize})
	if err != nil {
		panic(fmt.Sprintf("keystore: blake2b config: %v", err))
	}
	pub := k.PublicKey()
	digest.Write(pub[:])
	copy(out[:], digest.Sum(nil))
	return out
}

// Address returns the operator's bech32 enterprise address: the key-hash
// payment part with no staking part.
func (k *KeyStore) Address() (string, error) {
	hash := k.IdentityHash()

	// Enterprise key address header: 0b0110_0000 | network id.
	payload := make([]byte, 0, 1+IdentityHashSize)
	payload = append(payload, 0x60|byte(k.network))
	payload = append(payload, hash[:]...)

	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("keystore: converting address bits: %w", err)
	}
	hrp := "addr_test"
	if k.network == Mainnet {
		hrp = "addr"
	}
	addr, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", fmt.Errorf("keystore: encoding address: %w", err)
	}
	return addr, nil
}
