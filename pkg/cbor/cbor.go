// Package cbor implements the subset of CBOR (RFC 8949) used by the
// Cardano ledger: minimal-width integer heads, definite byte strings,
// definite- and indefinite-length arrays and maps, and semantic tags.
//
// This is deliberately not a general-purpose CBOR library. Everything the
// on-chain scripts read is encoded through a small, fixed set of helpers so
// the byte layout stays auditable. Higher layers build on these primitives:
//   - pkg/plutus: tagged-constructor script data (datums and redeemers)
//   - pkg/txbuilder: the transaction wire format
//
// Encoding always uses the canonical minimal-width head for integers and
// lengths. Decoding is more permissive where the ledger is: array and map
// framing may be definite or indefinite, because indexers re-serialize
// script data with either.
package cbor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// CBOR major types.
const (
	MajorUnsigned = 0
	MajorNegative = 1
	MajorBytes    = 2
	MajorText     = 3
	MajorArray    = 4
	MajorMap      = 5
	MajorTag      = 6
	MajorSimple   = 7
)

const breakByte = 0xff

// Writer serializes CBOR items into an in-memory buffer.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the serialized output.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// WriteHead writes a major-type head with the canonical minimal-width
// argument encoding.
func (w *Writer) WriteHead(major byte, n uint64) {
	mt := major << 5
	switch {
	case n < 24:
		w.buf.WriteByte(mt | byte(n))
	case n <= 0xff:
		w.buf.WriteByte(mt | 24)
		w.buf.WriteByte(byte(n))
	case n <= 0xffff:
		w.buf.WriteByte(mt | 25)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		w.buf.Write(b[:])
	case n <= 0xffffffff:
		w.buf.WriteByte(mt | 26)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		w.buf.Write(b[:])
	default:
		w.buf.WriteByte(mt | 27)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		w.buf.Write(b[:])
	}
}

// WriteUint writes an unsigned integer.
func (w *Writer) WriteUint(n uint64) {
	w.WriteHead(MajorUnsigned, n)
}

// WriteInt writes a signed integer. Negative values use major type 1 with
// the argument -1-n per RFC 8949.
func (w *Writer) WriteInt(n int64) {
	if n >= 0 {
		w.WriteHead(MajorUnsigned, uint64(n))
	} else {
		w.WriteHead(MajorNegative, uint64(-1-n))
	}
}

// WriteBytes writes a definite-length byte string.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteHead(MajorBytes, uint64(len(b)))
	w.buf.Write(b)
}

// WriteText writes a definite-length text string.
func (w *Writer) WriteText(s string) {
	w.WriteHead(MajorText, uint64(len(s)))
	w.buf.WriteString(s)
}

// BeginArray writes a definite-length array head; the caller must follow
// with exactly n items.
func (w *Writer) BeginArray(n int) {
	w.WriteHead(MajorArray, uint64(n))
}

// BeginIndefArray opens an indefinite-length array; close with EndIndefinite.
func (w *Writer) BeginIndefArray() {
	w.buf.WriteByte(MajorArray<<5 | 31)
}

// BeginMap writes a definite-length map head; the caller must follow with
// exactly n key/value pairs.
func (w *Writer) BeginMap(n int) {
	w.WriteHead(MajorMap, uint64(n))
}

// WriteTag writes a semantic tag head; the caller must follow with the
// tagged item.
func (w *Writer) WriteTag(tag uint64) {
	w.WriteHead(MajorTag, tag)
}

// WriteBool writes a CBOR boolean simple value.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(MajorSimple<<5 | 21)
	} else {
		w.buf.WriteByte(MajorSimple<<5 | 20)
	}
}

// WriteNull writes the CBOR null simple value.
func (w *Writer) WriteNull() {
	w.buf.WriteByte(MajorSimple<<5 | 22)
}

// EndIndefinite writes the break byte closing an indefinite-length item.
func (w *Writer) EndIndefinite() {
	w.buf.WriteByte(breakByte)
}

// WriteRaw appends pre-encoded CBOR bytes verbatim.
func (w *Writer) WriteRaw(b []byte) {
	w.buf.Write(b)
}

// Head is a decoded item head.
type Head struct {
	Major      byte
	Value      uint64 // length, integer argument, or tag number
	Indefinite bool   // true for indefinite-length strings/arrays/maps
}

// Reader decodes CBOR items from a byte slice. All read failures are hard
// errors; there is no recovery or skipping of malformed items.
type Reader struct {
	r *bytes.Reader
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{r: bytes.NewReader(data)}
}

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int {
	return r.r.Len()
}

// ReadHead reads the next item head.
func (r *Reader) ReadHead() (Head, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return Head{}, io.ErrUnexpectedEOF
	}
	major := b >> 5
	info := b & 0x1f

	switch {
	case info < 24:
		return Head{Major: major, Value: uint64(info)}, nil
	case info == 24:
		v, err := r.r.ReadByte()
		if err != nil {
			return Head{}, io.ErrUnexpectedEOF
		}
		return Head{Major: major, Value: uint64(v)}, nil
	case info == 25:
		var b [2]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return Head{}, io.ErrUnexpectedEOF
		}
		return Head{Major: major, Value: uint64(binary.BigEndian.Uint16(b[:]))}, nil
	case info == 26:
		var b [4]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return Head{}, io.ErrUnexpectedEOF
		}
		return Head{Major: major, Value: uint64(binary.BigEndian.Uint32(b[:]))}, nil
	case info == 27:
		var b [8]byte
		if _, err := io.ReadFull(r.r, b[:]); err != nil {
			return Head{}, io.ErrUnexpectedEOF
		}
		return Head{Major: major, Value: binary.BigEndian.Uint64(b[:])}, nil
	case info == 31:
		if major == MajorBytes || major == MajorText || major == MajorArray || major == MajorMap {
			return Head{Major: major, Indefinite: true}, nil
		}
		if major == MajorSimple {
			// Break is surfaced as a simple-type head; callers inside
			// indefinite items check for it via PeekBreak.
			return Head{Major: major, Value: 31}, nil
		}
		return Head{}, fmt.Errorf("cbor: indefinite length not valid for major type %d", major)
	default:
		return Head{}, fmt.Errorf("cbor: reserved additional info %d", info)
	}
}

// PeekBreak reports whether the next byte is the break marker, consuming it
// if so.
func (r *Reader) PeekBreak() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, io.ErrUnexpectedEOF
	}
	if b == breakByte {
		return true, nil
	}
	if err := r.r.UnreadByte(); err != nil {
		return false, err
	}
	return false, nil
}

// ReadExact reads exactly n bytes of payload.
func (r *Reader) ReadExact(n uint64) ([]byte, error) {
	if n > uint64(r.r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

// ReadUint reads an unsigned integer item.
func (r *Reader) ReadUint() (uint64, error) {
	h, err := r.ReadHead()
	if err != nil {
		return 0, err
	}
	if h.Major != MajorUnsigned {
		return 0, fmt.Errorf("cbor: expected unsigned integer, got major type %d", h.Major)
	}
	return h.Value, nil
}

// ReadBytes reads a byte string item. Indefinite-length strings are
// reassembled from their chunks; each chunk must itself be definite.
func (r *Reader) ReadBytes() ([]byte, error) {
	h, err := r.ReadHead()
	if err != nil {
		return nil, err
	}
	if h.Major != MajorBytes {
		return nil, fmt.Errorf("cbor: expected byte string, got major type %d", h.Major)
	}
	if !h.Indefinite {
		return r.ReadExact(h.Value)
	}
	var out []byte
	for {
		brk, err := r.PeekBreak()
		if err != nil {
			return nil, err
		}
		if brk {
			return out, nil
		}
		ch, err := r.ReadHead()
		if err != nil {
			return nil, err
		}
		if ch.Major != MajorBytes || ch.Indefinite {
			return nil, fmt.Errorf("cbor: invalid chunk inside indefinite byte string")
		}
		chunk, err := r.ReadExact(ch.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}
