// Package plutus implements the tagged-constructor script-data encoding used
// for every on-chain datum and redeemer.
//
// The value grammar is the one the validator bytecode evaluates:
//   - Int: signed integer (arbitrary precision on-chain; this implementation
//     is bounded to int64, which covers every field in the protocol state,
//     and fails closed on big-integer encodings)
//   - Bytes: byte string
//   - List: ordered heterogeneous list
//   - Map: ordered key/value association
//   - Constr: an integer constructor index plus an ordered field list
//
// The wire form is CBOR with the constructor-index tag ranges fixed by the
// ledger: indices 0..6 map to tags 121..127, indices 7..127 map to tags
// 1280..1400, and anything larger uses the general tag 102 with an explicit
// [index, fields] pair.
//
// One distinction is load-bearing everywhere association lists appear: a
// two-element tuple inside an assoc list is a plain List, never a Constr.
// The on-chain scripts compare produced datums by strict structural
// equality, so conflating the two shapes makes a state UTXO unspendable.
//
// Decoding accepts both definite- and indefinite-length framing (indexers
// return either) and fails closed on any structural mismatch; a misparsed
// ownership or balance field must surface as an error, never as a default.
package plutus

import (
	"bytes"
	"fmt"

	"github.com/suffix-labs/cardano-mailbox/pkg/cbor"
)

// Constructor tag ranges fixed by the ledger's script-data encoding.
const (
	compactTagBase   = 121  // indices 0..6
	extendedTagBase  = 1280 // indices 7..127, offset by 7
	generalConstrTag = 102  // all larger indices
	bytesChunkSize   = 64   // max definite byte-string length inside script data
)

// Data is a script-data value.
type Data interface {
	isData()
}

// Int is a script-data integer.
type Int int64

// Bytes is a script-data byte string.
type Bytes []byte

// List is a plain ordered list. Two-element Lists double as tuples inside
// association lists.
type List []Data

// Pair is one entry of a Map.
type Pair struct {
	Key   Data
	Value Data
}

// Map is an ordered key/value association.
type Map []Pair

// Constr is a tagged constructor: an index identifying the variant of an
// on-chain sum type, plus its ordered fields.
type Constr struct {
	Index  uint64
	Fields []Data
}

func (Int) isData()    {}
func (Bytes) isData()  {}
func (List) isData()   {}
func (Map) isData()    {}
func (Constr) isData() {}

// NewConstr builds a Constr from its fields.
func NewConstr(index uint64, fields ...Data) Constr {
	return Constr{Index: index, Fields: fields}
}

// Tuple builds the two-element plain-list form used inside assoc lists.
func Tuple(key, value Data) List {
	return List{key, value}
}

// Encode serializes d to its canonical wire form.
func Encode(d Data) []byte {
	w := cbor.NewWriter()
	encode(w, d)
	return w.Bytes()
}

func encode(w *cbor.Writer, d Data) {
	switch v := d.(type) {
	case Int:
		w.WriteInt(int64(v))
	case Bytes:
		encodeBytes(w, v)
	case List:
		encodeList(w, v)
	case Map:
		w.BeginMap(len(v))
		for _, p := range v {
			encode(w, p.Key)
			encode(w, p.Value)
		}
	case Constr:
		encodeConstr(w, v)
	default:
		panic(fmt.Sprintf("plutus: unknown Data variant %T", d))
	}
}

// encodeBytes writes a byte string, chunking beyond 64 bytes the way the
// ledger's bounded-bytes rule requires.
func encodeBytes(w *cbor.Writer, b []byte) {
	if len(b) <= bytesChunkSize {
		w.WriteBytes(b)
		return
	}
	w.WriteRaw([]byte{cbor.MajorBytes<<5 | 31})
	for len(b) > 0 {
		n := bytesChunkSize
		if len(b) < n {
			n = len(b)
		}
		w.WriteBytes(b[:n])
		b = b[n:]
	}
	w.EndIndefinite()
}

// encodeList writes the canonical list framing: empty lists are definite,
// non-empty lists are indefinite.
func encodeList(w *cbor.Writer, l List) {
	if len(l) == 0 {
		w.BeginArray(0)
		return
	}
	w.BeginIndefArray()
	for _, item := range l {
		encode(w, item)
	}
	w.EndIndefinite()
}

func encodeConstr(w *cbor.Writer, c Constr) {
	switch {
	case c.Index <= 6:
		w.WriteTag(compactTagBase + c.Index)
		encodeList(w, c.Fields)
	case c.Index <= 127:
		w.WriteTag(extendedTagBase + c.Index - 7)
		encodeList(w, c.Fields)
	default:
		w.WriteTag(generalConstrTag)
		w.BeginArray(2)
		w.WriteUint(c.Index)
		encodeList(w, c.Fields)
	}
}

// Decode parses a single script-data value and rejects trailing bytes.
func Decode(data []byte) (Data, error) {
	r := cbor.NewReader(data)
	d, err := decode(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, &DecodeError{Code: ErrTrailingData,
			Message: fmt.Sprintf("%d trailing bytes after value", r.Remaining())}
	}
	return d, nil
}

func decode(r *cbor.Reader) (Data, error) {
	h, err := r.ReadHead()
	if err != nil {
		return nil, &DecodeError{Code: ErrTruncated, Message: "truncated input", Cause: err}
	}

	switch h.Major {
	case cbor.MajorUnsigned:
		if h.Value > 1<<63-1 {
			return nil, &DecodeError{Code: ErrIntegerRange,
				Message: fmt.Sprintf("integer %d exceeds int64 range", h.Value)}
		}
		return Int(h.Value), nil

	case cbor.MajorNegative:
		if h.Value > 1<<63-1 {
			return nil, &DecodeError{Code: ErrIntegerRange,
				Message: fmt.Sprintf("negative integer -%d-1 exceeds int64 range", h.Value)}
		}
		return Int(-1 - int64(h.Value)), nil

	case cbor.MajorBytes:
		b, err := readBytesFromHead(r, h)
		if err != nil {
			return nil, err
		}
		return Bytes(b), nil

	case cbor.MajorArray:
		items, err := decodeItems(r, h)
		if err != nil {
			return nil, err
		}
		return List(items), nil

	case cbor.MajorMap:
		return decodeMap(r, h)

	case cbor.MajorTag:
		return decodeTagged(r, h.Value)

	default:
		return nil, &DecodeError{Code: ErrUnexpectedType,
			Message: fmt.Sprintf("major type %d is not script data", h.Major)}
	}
}

func readBytesFromHead(r *cbor.Reader, h cbor.Head) ([]byte, error) {
	if !h.Indefinite {
		b, err := r.ReadExact(h.Value)
		if err != nil {
			return nil, &DecodeError{Code: ErrTruncated, Message: "truncated byte string", Cause: err}
		}
		return b, nil
	}
	var out []byte
	for {
		brk, err := r.PeekBreak()
		if err != nil {
			return nil, &DecodeError{Code: ErrTruncated, Message: "unterminated byte string", Cause: err}
		}
		if brk {
			return out, nil
		}
		ch, err := r.ReadHead()
		if err != nil {
			return nil, &DecodeError{Code: ErrTruncated, Message: "truncated byte string chunk", Cause: err}
		}
		if ch.Major != cbor.MajorBytes || ch.Indefinite {
			return nil, &DecodeError{Code: ErrUnexpectedType,
				Message: "invalid chunk inside indefinite byte string"}
		}
		chunk, err := r.ReadExact(ch.Value)
		if err != nil {
			return nil, &DecodeError{Code: ErrTruncated, Message: "truncated byte string chunk", Cause: err}
		}
		out = append(out, chunk...)
	}
}

// decodeItems reads array elements under either framing.
func decodeItems(r *cbor.Reader, h cbor.Head) ([]Data, error) {
	var items []Data
	if h.Indefinite {
		for {
			brk, err := r.PeekBreak()
			if err != nil {
				return nil, &DecodeError{Code: ErrTruncated, Message: "unterminated list", Cause: err}
			}
			if brk {
				return items, nil
			}
			item, err := decode(r)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	for i := uint64(0); i < h.Value; i++ {
		item, err := decode(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeMap(r *cbor.Reader, h cbor.Head) (Data, error) {
	var m Map
	readPair := func() error {
		k, err := decode(r)
		if err != nil {
			return err
		}
		v, err := decode(r)
		if err != nil {
			return err
		}
		m = append(m, Pair{Key: k, Value: v})
		return nil
	}

	if h.Indefinite {
		for {
			brk, err := r.PeekBreak()
			if err != nil {
				return nil, &DecodeError{Code: ErrTruncated, Message: "unterminated map", Cause: err}
			}
			if brk {
				return m, nil
			}
			if err := readPair(); err != nil {
				return nil, err
			}
		}
	}
	for i := uint64(0); i < h.Value; i++ {
		if err := readPair(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeTagged(r *cbor.Reader, tag uint64) (Data, error) {
	switch {
	case tag >= compactTagBase && tag <= compactTagBase+6:
		fields, err := decodeFieldList(r)
		if err != nil {
			return nil, err
		}
		return Constr{Index: tag - compactTagBase, Fields: fields}, nil

	case tag >= extendedTagBase && tag <= extendedTagBase+120:
		fields, err := decodeFieldList(r)
		if err != nil {
			return nil, err
		}
		return Constr{Index: tag - extendedTagBase + 7, Fields: fields}, nil

	case tag == generalConstrTag:
		h, err := r.ReadHead()
		if err != nil {
			return nil, &DecodeError{Code: ErrTruncated, Message: "truncated constructor", Cause: err}
		}
		if h.Major != cbor.MajorArray {
			return nil, &DecodeError{Code: ErrUnexpectedType,
				Message: "general constructor tag must carry an array"}
		}
		items, err := decodeItems(r, h)
		if err != nil {
			return nil, err
		}
		if len(items) != 2 {
			return nil, &DecodeError{Code: ErrUnexpectedType,
				Message: fmt.Sprintf("general constructor needs [index, fields], got %d items", len(items))}
		}
		idx, ok := items[0].(Int)
		if !ok || idx < 0 {
			return nil, &DecodeError{Code: ErrUnexpectedType,
				Message: "general constructor index must be a non-negative integer"}
		}
		fields, ok := items[1].(List)
		if !ok {
			return nil, &DecodeError{Code: ErrUnexpectedType,
				Message: "general constructor fields must be a list"}
		}
		return Constr{Index: uint64(idx), Fields: fields}, nil

	case tag == 2 || tag == 3:
		// Big-integer encodings never appear in protocol state; a value that
		// needs one is out of range for every field we read.
		return nil, &DecodeError{Code: ErrIntegerRange,
			Message: "big-integer encoding not supported"}

	default:
		return nil, &DecodeError{Code: ErrUnexpectedType,
			Message: fmt.Sprintf("unexpected tag %d", tag)}
	}
}

func decodeFieldList(r *cbor.Reader) ([]Data, error) {
	h, err := r.ReadHead()
	if err != nil {
		return nil, &DecodeError{Code: ErrTruncated, Message: "truncated constructor fields", Cause: err}
	}
	if h.Major != cbor.MajorArray {
		return nil, &DecodeError{Code: ErrUnexpectedType,
			Message: fmt.Sprintf("constructor fields must be a list, got major type %d", h.Major)}
	}
	return decodeItems(r, h)
}

// Unwrapped strips the extra single-field constructor-0 wrapper some
// decoders apply around a whole datum. Callers retry a failed structural
// parse against the unwrapped value; Unwrapped never recurses, so a datum
// that legitimately is a single-field constructor stays intact on the first
// attempt.
func Unwrapped(d Data) (Data, bool) {
	c, ok := d.(Constr)
	if !ok || c.Index != 0 || len(c.Fields) != 1 {
		return d, false
	}
	return c.Fields[0], true
}

// Equal reports strict structural equality, the same relation the on-chain
// scripts use to compare produced datums.
func Equal(a, b Data) bool {
	switch av := a.(type) {
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i].Key, bv[i].Key) || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case Constr:
		bv, ok := b.(Constr)
		if !ok || av.Index != bv.Index || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if !Equal(av.Fields[i], bv.Fields[i]) {
				return false
			}
		}
		return true
	}
	return false
}
