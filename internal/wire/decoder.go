package wire

import (
	"encoding/binary"
	"math"
)

// Decoder reads a single message produced by Encoder. Like Encoder, a
// fresh Decoder is scoped to one message.
type Decoder struct {
	buf       []byte
	pos       int
	typeCache map[uint32]string
	nextType  uint32
	refCache  map[uint32]any
	depth     int
	limits    Limits
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{
		buf:       data,
		typeCache: make(map[uint32]string),
		refCache:  make(map[uint32]any),
		limits:    DefaultLimits,
	}
}

func (d *Decoder) remaining() []byte { return d.buf[d.pos:] }

func (d *Decoder) need(n int) error {
	if len(d.buf)-d.pos < n {
		return errTruncated()
	}
	return nil
}

// ReadField reads the next field header, returning the absolute field
// id (reconstructed from the delta against fr.lastFieldID) and wire
// type.
func (d *Decoder) ReadField(fr *Frame) (fieldID uint32, wt WireType, err error) {
	v, n, ok := decodeVarint(d.remaining())
	if !ok {
		return 0, 0, errTruncated()
	}
	d.pos += n
	delta := uint32(v >> 3)
	wt = WireType(v & 0x7)
	fieldID = fr.lastFieldID + delta
	fr.lastFieldID = fieldID
	return fieldID, wt, nil
}

// PeekIsEndObject reports whether the next byte is the end-object marker,
// without consuming it.
func (d *Decoder) PeekIsEndObject() bool {
	if d.pos >= len(d.buf) {
		return false
	}
	return d.buf[d.pos] == markerEndObject
}

// PeekIsNull reports whether the next byte is the explicit null marker.
func (d *Decoder) PeekIsNull() bool {
	if d.pos >= len(d.buf) {
		return false
	}
	return d.buf[d.pos] == markerNull
}

func (d *Decoder) ReadNull() error {
	if err := d.need(1); err != nil {
		return err
	}
	if d.buf[d.pos] != markerNull {
		return &CodecError{Code: CodeTruncatedFrame}
	}
	d.pos++
	return nil
}

// StartObject reads the start-object marker and type token, returning
// the type name (resolved through the decoder's type cache) and a
// Frame for reading fields. Bumps and depth-checks the nesting counter.
func (d *Decoder) StartObject() (typeName string, fr *Frame, err error) {
	if d.depth >= d.limits.MaxDepth {
		return "", nil, errDepthExceeded()
	}
	if err := d.need(1); err != nil {
		return "", nil, err
	}
	if d.buf[d.pos] != markerStartObject {
		return "", nil, &CodecError{Code: CodeTruncatedFrame}
	}
	d.pos++
	d.depth++

	v, n, ok := decodeVarint(d.remaining())
	if !ok {
		return "", nil, errTruncated()
	}
	d.pos += n

	if v&1 == 1 {
		id := uint32(v >> 1)
		name, ok := d.typeCache[id]
		if !ok {
			return "", nil, errUnknownType("<cached-id>")
		}
		return name, &Frame{}, nil
	}

	name, err := d.ReadString()
	if err != nil {
		return "", nil, err
	}
	id := d.nextType
	d.nextType++
	d.typeCache[id] = name
	return name, &Frame{}, nil
}

// EndObject consumes the end-object marker and decrements the nesting
// counter.
func (d *Decoder) EndObject() error {
	if err := d.need(1); err != nil {
		return err
	}
	if d.buf[d.pos] != markerEndObject {
		return &CodecError{Code: CodeTruncatedFrame}
	}
	d.pos++
	d.depth--
	return nil
}

// RegisterRef associates id (as observed via a prior StartObject call
// site) with the fully-decoded value, so a later WireReference field
// pointing at id can be resolved to the same Go value, preserving
// shared/cyclic structure.
func (d *Decoder) RegisterRef(id uint32, v any) { d.refCache[id] = v }

// ResolveRef looks up a previously registered reference.
func (d *Decoder) ResolveRef(id uint32) (any, bool) {
	v, ok := d.refCache[id]
	return v, ok
}

// --- primitives ---

func (d *Decoder) ReadBool() (bool, error) {
	if err := d.need(1); err != nil {
		return false, err
	}
	v := d.buf[d.pos] != 0
	d.pos++
	return v, nil
}

func (d *Decoder) ReadInt32() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(d.buf[d.pos:]))
	d.pos += 4
	return v, nil
}

func (d *Decoder) ReadInt64() (int64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

func (d *Decoder) ReadUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *Decoder) ReadFloat32() (float32, error) {
	v, err := d.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (d *Decoder) ReadFloat64() (float64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

func (d *Decoder) ReadVarInt() (uint64, error) {
	v, n, ok := decodeVarint(d.remaining())
	if !ok {
		return 0, errTruncated()
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if int(n) > d.limits.MaxStringBytes {
		return nil, errCollectionTooLarge(int(n), d.limits.MaxStringBytes)
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckCollectionSize validates a declared element count against the
// configured limit before the caller loops over it, surfacing
// CodecError(CollectionTooLarge) up front rather than after partial
// decoding.
func (d *Decoder) CheckCollectionSize(n int) error {
	if n > d.limits.MaxCollection {
		return errCollectionTooLarge(n, d.limits.MaxCollection)
	}
	return nil
}
