package grain

import "github.com/zoneward/rpcrt/internal/wire"

// Vector2 is a 2D world position.
type Vector2 struct {
	X, Y float32
}

func (v Vector2) encode(e *wire.Encoder) {
	fr, _ := e.StartObject("Demo.Vector2")
	e.WriteField(fr, 0, wire.WireFixed)
	e.WriteFloat32(v.X)
	e.WriteField(fr, 1, wire.WireFixed)
	e.WriteFloat32(v.Y)
	e.EndObject()
}

func decodeVector2(d *wire.Decoder) (Vector2, error) {
	_, fr, err := d.StartObject()
	if err != nil {
		return Vector2{}, err
	}
	var v Vector2
	for !d.PeekIsEndObject() {
		id, wt, err := d.ReadField(fr)
		if err != nil {
			return v, err
		}
		switch {
		case id == 0 && wt == wire.WireFixed:
			v.X, err = d.ReadFloat32()
		case id == 1 && wt == wire.WireFixed:
			v.Y, err = d.ReadFloat32()
		default:
			err = skipField(d, wt)
		}
		if err != nil {
			return v, err
		}
	}
	return v, d.EndObject()
}

// Entity is one opaque world-state entity record. AttachedTo names
// another entity in the same snapshot this one rides or is mounted on
// (a player standing on a moving platform, a turret bolted to a
// vehicle); several entities may point at the same parent, and the
// parent's own AttachedTo may in turn point back into the group, so
// the wire form carries it as a reference into the snapshot's entity
// table rather than a nested copy.
type Entity struct {
	EntityID   string
	Position   Vector2
	TypeTag    string
	AttachedTo *Entity
}

// encode writes one entity, registering its own identity in the
// encoder's reference table first so any entity attached to this one
// -- encoded earlier or later in the same snapshot -- can refer back
// to it by id instead of duplicating it.
func (ent *Entity) encode(e *wire.Encoder) {
	selfID, _ := e.RefFor(ent)
	fr, _ := e.StartObject("Demo.Entity")
	e.WriteField(fr, 0, wire.WireVarInt)
	e.WriteVarInt(uint64(selfID))
	e.WriteField(fr, 1, wire.WireLengthPrefixed)
	e.WriteString(ent.EntityID)
	e.WriteField(fr, 2, wire.WireTagDelimited)
	ent.Position.encode(e)
	e.WriteField(fr, 3, wire.WireLengthPrefixed)
	e.WriteString(ent.TypeTag)
	e.WriteField(fr, 4, wire.WireReference)
	if ent.AttachedTo != nil {
		parentID, _ := e.RefFor(ent.AttachedTo)
		e.WriteReference(parentID)
	} else {
		e.WriteNull()
	}
	e.EndObject()
}

// decodeEntity reads one entity along with its own reference id and
// its raw (not yet resolved) attachment id, deferring pointer
// resolution to the caller once every entity in the snapshot has been
// registered.
func decodeEntity(d *wire.Decoder) (ent Entity, selfID uint32, attachedToID int64, err error) {
	_, fr, err := d.StartObject()
	if err != nil {
		return Entity{}, 0, -1, err
	}
	attachedToID = -1
	for !d.PeekIsEndObject() {
		var id uint32
		var wt wire.WireType
		id, wt, err = d.ReadField(fr)
		if err != nil {
			return ent, selfID, attachedToID, err
		}
		switch {
		case id == 0 && wt == wire.WireVarInt:
			var v uint64
			v, err = d.ReadVarInt()
			selfID = uint32(v)
		case id == 1 && wt == wire.WireLengthPrefixed:
			ent.EntityID, err = d.ReadString()
		case id == 2 && wt == wire.WireTagDelimited:
			ent.Position, err = decodeVector2(d)
		case id == 3 && wt == wire.WireLengthPrefixed:
			ent.TypeTag, err = d.ReadString()
		case id == 4 && wt == wire.WireReference:
			if d.PeekIsNull() {
				err = d.ReadNull()
			} else {
				var v uint64
				v, err = d.ReadVarInt()
				attachedToID = int64(v)
			}
		default:
			err = skipField(d, wt)
		}
		if err != nil {
			return ent, selfID, attachedToID, err
		}
	}
	return ent, selfID, attachedToID, d.EndObject()
}

// WorldState is the decoded result of GameGrain.GetWorldState: a
// monotone-per-server sequenceNumber plus the snapshot's entities.
type WorldState struct {
	SequenceNumber int64
	Entities       []Entity
}

// EncodeWorldState serializes a WorldState through the wire codec,
// used server-side when answering GetWorldState. Every entity is
// registered in the encoder's reference table before any entity body
// is written, so an AttachedTo pointing forward or backward within
// the same snapshot -- including a cycle -- always has a live id to
// reference. An AttachedTo is matched to the snapshot entity with the
// same EntityID, so a parent pointer that is a copy of a listed entity
// still references that entity.
func EncodeWorldState(ws WorldState) []byte {
	e := wire.NewEncoder()
	ents := make([]Entity, len(ws.Entities))
	copy(ents, ws.Entities)
	byID := make(map[string]*Entity, len(ents))
	for i := range ents {
		byID[ents[i].EntityID] = &ents[i]
	}
	for i := range ents {
		if p := ents[i].AttachedTo; p != nil {
			if q, ok := byID[p.EntityID]; ok {
				ents[i].AttachedTo = q
			}
		}
	}
	ws.Entities = ents
	for i := range ws.Entities {
		e.RefFor(&ws.Entities[i])
	}

	fr, _ := e.StartObject("Demo.WorldState")
	e.WriteField(fr, 0, wire.WireFixed)
	e.WriteInt64(ws.SequenceNumber)
	e.WriteField(fr, 1, wire.WireVarInt)
	e.WriteVarInt(uint64(len(ws.Entities)))
	for i := range ws.Entities {
		ws.Entities[i].encode(e)
	}
	e.EndObject()
	return e.Bytes()
}

// DecodeWorldState reverses EncodeWorldState, used client-side to
// interpret a GetWorldState response body. Attachment pointers are
// resolved in a second pass once every entity has been decoded and
// registered, so a reference to an entity appearing later in the list
// -- or a cycle between two entities -- resolves correctly.
func DecodeWorldState(body []byte) (WorldState, error) {
	d := wire.NewDecoder(body)
	_, fr, err := d.StartObject()
	if err != nil {
		return WorldState{}, err
	}

	type attachment struct {
		entityIdx int
		parentID  uint32
	}
	var pending []attachment

	var ws WorldState
	for !d.PeekIsEndObject() {
		id, wt, err := d.ReadField(fr)
		if err != nil {
			return ws, err
		}
		switch {
		case id == 0 && wt == wire.WireFixed:
			ws.SequenceNumber, err = d.ReadInt64()
		case id == 1 && wt == wire.WireVarInt:
			var n uint64
			n, err = d.ReadVarInt()
			if err == nil {
				if err = d.CheckCollectionSize(int(n)); err == nil {
					ws.Entities = make([]Entity, n)
					for i := 0; i < int(n); i++ {
						var ent Entity
						var selfID uint32
						var attachedToID int64
						ent, selfID, attachedToID, err = decodeEntity(d)
						if err != nil {
							break
						}
						ws.Entities[i] = ent
						d.RegisterRef(selfID, &ws.Entities[i])
						if attachedToID >= 0 {
							pending = append(pending, attachment{entityIdx: i, parentID: uint32(attachedToID)})
						}
					}
				}
			}
		default:
			err = skipField(d, wt)
		}
		if err != nil {
			return ws, err
		}
	}
	if err := d.EndObject(); err != nil {
		return ws, err
	}

	for _, a := range pending {
		v, ok := d.ResolveRef(a.parentID)
		if !ok {
			return ws, &wire.CodecError{Code: wire.CodeTruncatedFrame}
		}
		parent, ok := v.(*Entity)
		if !ok {
			return ws, &wire.CodecError{Code: wire.CodeTruncatedFrame}
		}
		ws.Entities[a.entityIdx].AttachedTo = parent
	}

	return ws, nil
}

// skipField discards one field's value using only its wire type,
// implementing the codec's forward-compatible unknown-field skipping.
func skipField(d *wire.Decoder, wt wire.WireType) error {
	switch wt {
	case wire.WireFixed:
		_, err := d.ReadInt64()
		return err
	case wire.WireVarInt:
		_, err := d.ReadVarInt()
		return err
	case wire.WireLengthPrefixed:
		_, err := d.ReadBytes()
		return err
	case wire.WireReference:
		if d.PeekIsNull() {
			return d.ReadNull()
		}
		_, err := d.ReadVarInt()
		return err
	case wire.WireTagDelimited:
		_, _, err := d.StartObject()
		if err != nil {
			return err
		}
		for !d.PeekIsEndObject() {
			fr := &wire.Frame{}
			_, innerWT, err := d.ReadField(fr)
			if err != nil {
				return err
			}
			if err := skipField(d, innerWT); err != nil {
				return err
			}
		}
		return d.EndObject()
	default:
		return nil
	}
}
