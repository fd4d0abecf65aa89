// Package message defines the cross-chain message and its identity.
//
// A message is immutable once dispatched. Its identity is the keccak-256
// hash of the canonical big-endian concatenation of its fields, which is the
// same preimage every chain in the protocol hashes, so the identity computed
// here matches the leaf the origin mailbox inserted into its accumulator and
// the id the destination validator checks a delivery against.
package message

import (
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/plutus"
	"golang.org/x/crypto/sha3"
)

// Version is the wire version of the message format.
const Version uint8 = 0

// Message is one cross-chain message.
type Message struct {
	Version     uint8
	Nonce       uint32
	Origin      uint32
	Sender      [32]byte
	Destination uint32
	Recipient   [32]byte
	Body        []byte
}

// ID returns the message identity: keccak-256 over
// version ‖ nonce ‖ origin ‖ sender ‖ destination ‖ recipient ‖ body,
// all multi-byte integers big-endian.
func (m *Message) ID() [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{m.Version})
	h.Write(beUint32(m.Nonce))
	h.Write(beUint32(m.Origin))
	h.Write(m.Sender[:])
	h.Write(beUint32(m.Destination))
	h.Write(m.Recipient[:])
	h.Write(m.Body)
	var id [32]byte
	copy(id[:], h.Sum(nil))
	return id
}

func beUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// ToData encodes the message as the script-data record both the Process
// redeemer and the dispatch flow carry.
func (m *Message) ToData() plutus.Data {
	sender := make([]byte, 32)
	copy(sender, m.Sender[:])
	recipient := make([]byte, 32)
	copy(recipient, m.Recipient[:])
	body := make([]byte, len(m.Body))
	copy(body, m.Body)
	return plutus.NewConstr(0,
		plutus.Int(m.Version),
		plutus.Int(m.Nonce),
		plutus.Int(m.Origin),
		plutus.Bytes(sender),
		plutus.Int(m.Destination),
		plutus.Bytes(recipient),
		plutus.Bytes(body),
	)
}

// FromData parses a message out of script data, failing closed on any
// structural mismatch.
func FromData(d plutus.Data) (*Message, error) {
	c, ok := d.(plutus.Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 7 {
		return nil, fmt.Errorf("message: datum is not a seven-field constructor")
	}

	version, err := intField(c.Fields[0], 0, 255, "version")
	if err != nil {
		return nil, err
	}
	nonce, err := intField(c.Fields[1], 0, 1<<32-1, "nonce")
	if err != nil {
		return nil, err
	}
	origin, err := intField(c.Fields[2], 0, 1<<32-1, "origin domain")
	if err != nil {
		return nil, err
	}
	sender, err := hashField(c.Fields[3], "sender")
	if err != nil {
		return nil, err
	}
	destination, err := intField(c.Fields[4], 0, 1<<32-1, "destination domain")
	if err != nil {
		return nil, err
	}
	recipient, err := hashField(c.Fields[5], "recipient")
	if err != nil {
		return nil, err
	}
	body, ok := c.Fields[6].(plutus.Bytes)
	if !ok {
		return nil, fmt.Errorf("message: body is not a byte string")
	}

	m := &Message{
		Version:     uint8(version),
		Nonce:       uint32(nonce),
		Origin:      uint32(origin),
		Destination: uint32(destination),
		Body:        append([]byte(nil), body...),
	}
	copy(m.Sender[:], sender)
	copy(m.Recipient[:], recipient)
	return m, nil
}

// wireHeaderSize is the fixed-width prefix before the body.
const wireHeaderSize = 1 + 4 + 4 + 32 + 4 + 32

// Pack serializes the message in its canonical wire layout, the same
// byte sequence the identity hashes.
func (m *Message) Pack() []byte {
	out := make([]byte, 0, wireHeaderSize+len(m.Body))
	out = append(out, m.Version)
	out = append(out, beUint32(m.Nonce)...)
	out = append(out, beUint32(m.Origin)...)
	out = append(out, m.Sender[:]...)
	out = append(out, beUint32(m.Destination)...)
	out = append(out, m.Recipient[:]...)
	out = append(out, m.Body...)
	return out
}

// FromWire parses a canonically packed message.
func FromWire(raw []byte) (*Message, error) {
	if len(raw) < wireHeaderSize {
		return nil, fmt.Errorf("message: wire form is %d bytes, need at least %d", len(raw), wireHeaderSize)
	}
	m := &Message{Version: raw[0]}
	m.Nonce = uint32(raw[1])<<24 | uint32(raw[2])<<16 | uint32(raw[3])<<8 | uint32(raw[4])
	m.Origin = uint32(raw[5])<<24 | uint32(raw[6])<<16 | uint32(raw[7])<<8 | uint32(raw[8])
	copy(m.Sender[:], raw[9:41])
	m.Destination = uint32(raw[41])<<24 | uint32(raw[42])<<16 | uint32(raw[43])<<8 | uint32(raw[44])
	copy(m.Recipient[:], raw[45:77])
	m.Body = append([]byte(nil), raw[wireHeaderSize:]...)
	return m, nil
}

func intField(d plutus.Data, min, max int64, name string) (int64, error) {
	v, ok := d.(plutus.Int)
	if !ok {
		return 0, fmt.Errorf("message: %s is not an integer", name)
	}
	if int64(v) < min || int64(v) > max {
		return 0, fmt.Errorf("message: %s %d out of range", name, int64(v))
	}
	return int64(v), nil
}

func hashField(d plutus.Data, name string) ([]byte, error) {
	b, ok := d.(plutus.Bytes)
	if !ok || len(b) != 32 {
		return nil, fmt.Errorf("message: %s is not a 32-byte value", name)
	}
	return b, nil
}
