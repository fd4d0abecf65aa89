package ism

import (
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// SignatureSize is the width of one validator attestation: a recoverable
// secp256k1 signature, r then s then the recovery id.
const SignatureSize = 65

// Checkpoint is a validator-signed snapshot of an origin mailbox's
// accumulator.
type Checkpoint struct {
	Origin    uint32
	Mailbox   [32]byte // origin mailbox identity, left-padded
	Root      [32]byte
	Index     uint32
	MessageID [32]byte
}

// domainHash binds attestations to one origin mailbox instance.
func domainHash(origin uint32, mailbox [32]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], origin)
	h.Write(be[:])
	h.Write(mailbox[:])
	h.Write([]byte("HYPERLANE"))
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Digest returns the 32-byte hash validators sign, including the
// signed-message envelope their wallets apply.
func (c *Checkpoint) Digest() [32]byte {
	h := sha3.NewLegacyKeccak256()
	dh := domainHash(c.Origin, c.Mailbox)
	h.Write(dh[:])
	h.Write(c.Root[:])
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], c.Index)
	h.Write(be[:])
	h.Write(c.MessageID[:])
	var inner [32]byte
	h.Sum(inner[:0])

	env := sha3.NewLegacyKeccak256()
	env.Write([]byte("\x19Ethereum Signed Message:\n32"))
	env.Write(inner[:])
	var out [32]byte
	env.Sum(out[:0])
	return out
}

// RecoverValidator recovers the 20-byte validator identity that produced
// the attestation over digest.
func RecoverValidator(digest [32]byte, sig []byte) ([ValidatorSize]byte, error) {
	var id [ValidatorSize]byte
	if len(sig) != SignatureSize {
		return id, fmt.Errorf("ism: attestation is %d bytes, want %d", len(sig), SignatureSize)
	}
	// Wire order is r‖s‖v; the recovery routine wants the id first.
	compact := make([]byte, SignatureSize)
	v := sig[64]
	if v < 27 {
		v += 27
	}
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := secpecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return id, fmt.Errorf("ism: attestation recovery: %w", err)
	}
	copy(id[:], validatorAddress(pub))
	return id, nil
}

func validatorAddress(pub *secp256k1.PublicKey) []byte {
	ser := pub.SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(ser[1:])
	return h.Sum(nil)[12:]
}

// Verify checks that the attestations meet the configured threshold for
// the checkpoint's origin domain. Duplicate signers count once; unknown
// signers are ignored rather than fatal, matching on-chain semantics.
func (c *MultisigConfig) Verify(cp *Checkpoint, signatures [][]byte) error {
	threshold := c.ThresholdFor(cp.Origin)
	validators := c.ValidatorsFor(cp.Origin)
	if threshold == 0 || len(validators) == 0 {
		return &InvariantError{Message: fmt.Sprintf("domain %d has no multisig configuration", cp.Origin)}
	}

	known := make(map[[ValidatorSize]byte]bool, len(validators))
	for _, v := range validators {
		known[v] = true
	}

	digest := cp.Digest()
	seen := make(map[[ValidatorSize]byte]bool)
	for _, sig := range signatures {
		id, err := RecoverValidator(digest, sig)
		if err != nil {
			return err
		}
		if known[id] {
			seen[id] = true
		}
	}
	if uint32(len(seen)) < threshold {
		return &VerificationError{Domain: cp.Origin, Got: len(seen), Threshold: threshold}
	}
	return nil
}
