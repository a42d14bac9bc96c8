// Package wire implements the tag-length-value binary format used for
// every frame and RPC argument object exchanged by this runtime: field
// headers carrying a delta-encoded field id plus a wire type, start/end
// object markers naming the object's type through a per-session type
// cache, and a reference table so cyclic or shared object graphs
// round-trip without a larger schema.
package wire

import (
	"encoding/binary"
	"math"
)

// WireType identifies how a field's value is laid out on the wire.
type WireType byte

const (
	WireTagDelimited WireType = iota // nested object, delimited by Start/End markers
	WireReference                    // value is an integer handle into the reference table
	WireFixed                        // fixed-width primitive (int32/int64/float32/float64/bool)
	WireLengthPrefixed               // varint-length-prefixed bytes/UTF-8 string
	WireVarInt                       // variable-length integer
)

// Limits bounds the resources a single decode operation may consume.
// The zero value is not valid; use DefaultLimits.
type Limits struct {
	MaxDepth          int
	MaxCollection     int
	MaxStringBytes    int
	MaxMessageBytes   int
}

// DefaultLimits matches the wire format's documented defaults.
var DefaultLimits = Limits{
	MaxDepth:        100,
	MaxCollection:   10_000,
	MaxStringBytes:  1 << 20,
	MaxMessageBytes: 10 << 20,
}

const (
	markerStartObject byte = 0xA1
	markerEndObject   byte = 0xA2
	markerNull        byte = 0xA3
)

// Encoder serializes a single message. A fresh Encoder should be used
// per outbound frame; its type cache and reference table are scoped to
// that one message, matching the per-session reference semantics at
// the granularity this runtime actually needs (one message = one
// logical object graph).
type Encoder struct {
	buf       []byte
	typeCache map[string]uint32
	nextType  uint32
	refCache  map[any]uint32
	nextRef   uint32
	depth     int
	limits    Limits
}

func NewEncoder() *Encoder {
	return &Encoder{
		typeCache: make(map[string]uint32),
		refCache:  make(map[any]uint32),
		limits:    DefaultLimits,
	}
}

func (e *Encoder) Bytes() []byte { return e.buf }

// writeFieldHeader writes a field header from an already computed
// field-id delta and a wire type; WriteField computes the delta from
// the Frame's lastFieldID.
func (e *Encoder) writeFieldHeader(deltaID uint32, wt WireType) {
	e.buf = appendVarint(e.buf, uint64(deltaID)<<3|uint64(wt))
}

// fieldState tracks delta-encoding of field ids within one object.
type fieldState struct{ lastID uint32 }

// objFrame is pushed/popped as the encoder enters/leaves nested objects.
type objFrame struct {
	fs fieldState
}

var _ = binary.LittleEndian // referenced by primitive helpers below

// WriteField writes a field header for fieldID (an absolute, ascending
// id within the enclosing object) with the given wire type, delta-
// encoded against the last field id written in the current frame.
func (e *Encoder) WriteField(fr *Frame, fieldID uint32, wt WireType) {
	delta := fieldID - fr.lastFieldID
	fr.lastFieldID = fieldID
	e.writeFieldHeader(delta, wt)
}

// Frame is the caller-held cursor for one object's field sequence.
// StartObject returns one; fields must be written with
// strictly ascending fieldID.
type Frame struct {
	lastFieldID uint32
}

// StartObject writes the start-object marker and a type token for
// typeName, installing it in the encoder's type cache on first use so
// later repeats of the same type cost only a small integer. It returns
// a Frame for writing the object's fields and bumps the depth counter.
func (e *Encoder) StartObject(typeName string) (*Frame, error) {
	if e.depth >= e.limits.MaxDepth {
		return nil, errDepthExceeded()
	}
	e.depth++
	e.buf = append(e.buf, markerStartObject)
	if id, ok := e.typeCache[typeName]; ok {
		e.buf = appendVarint(e.buf, uint64(id)<<1|1) // bit0=1: cached ref
	} else {
		id = e.nextType
		e.nextType++
		e.typeCache[typeName] = id
		e.buf = appendVarint(e.buf, uint64(0)<<1|0) // bit0=0: literal name follows
		e.WriteString(typeName)
	}
	return &Frame{}, nil
}

// EndObject writes the end-object marker and decrements the depth
// counter. Must be paired with a prior StartObject.
func (e *Encoder) EndObject() {
	e.buf = append(e.buf, markerEndObject)
	e.depth--
}

// RefFor returns the stable integer handle for ptr, and whether it was
// already present (in which case the caller should emit a WireReference
// field instead of re-encoding the full value, preserving shared and
// cyclic substructure).
func (e *Encoder) RefFor(ptr any) (id uint32, seen bool) {
	if id, ok := e.refCache[ptr]; ok {
		return id, true
	}
	id = e.nextRef
	e.nextRef++
	e.refCache[ptr] = id
	return id, false
}

// WriteReference emits a standalone reference-kind value (for an
// already-registered field wire type of WireReference).
func (e *Encoder) WriteReference(id uint32) {
	e.buf = appendVarint(e.buf, uint64(id))
}

// WriteNull emits the explicit null-reference marker used for
// nullable fields.
func (e *Encoder) WriteNull() {
	e.buf = append(e.buf, markerNull)
}

// --- primitives ---

func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) WriteInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) WriteInt64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) WriteFloat32(v float32) {
	e.WriteUint32(math.Float32bits(v))
}

func (e *Encoder) WriteFloat64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) WriteVarInt(v uint64) {
	e.buf = appendVarint(e.buf, v)
}

func (e *Encoder) WriteBytes(b []byte) {
	e.buf = appendVarint(e.buf, uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) WriteString(s string) {
	e.WriteBytes([]byte(s))
}
