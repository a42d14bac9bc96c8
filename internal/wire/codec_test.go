package wire

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1 << 29, 1<<30 - 1, 1 << 30, 1 << 40, varint8Max}
	for _, v := range cases {
		buf := appendVarint(nil, v)
		got, n, ok := decodeVarint(buf)
		if !ok {
			t.Fatalf("decodeVarint(%d): not ok", v)
		}
		if n != len(buf) {
			t.Fatalf("decodeVarint(%d): consumed %d, want %d", v, n, len(buf))
		}
		if got != v {
			t.Fatalf("decodeVarint(%d): got %d", v, got)
		}
	}
}

func TestPrimitiveRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.WriteBool(true)
	e.WriteBool(false)
	e.WriteInt32(-12345)
	e.WriteInt64(-123456789012345)
	e.WriteUint32(0xDEADBEEF)
	e.WriteFloat32(3.5)
	e.WriteFloat64(2.71828)
	e.WriteString("hello, world")
	e.WriteBytes([]byte{1, 2, 3, 4})

	d := NewDecoder(e.Bytes())
	if b, err := d.ReadBool(); err != nil || b != true {
		t.Fatalf("bool1: %v %v", b, err)
	}
	if b, err := d.ReadBool(); err != nil || b != false {
		t.Fatalf("bool2: %v %v", b, err)
	}
	if v, err := d.ReadInt32(); err != nil || v != -12345 {
		t.Fatalf("int32: %v %v", v, err)
	}
	if v, err := d.ReadInt64(); err != nil || v != -123456789012345 {
		t.Fatalf("int64: %v %v", v, err)
	}
	if v, err := d.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("uint32: %v %v", v, err)
	}
	if v, err := d.ReadFloat32(); err != nil || v != 3.5 {
		t.Fatalf("float32: %v %v", v, err)
	}
	if v, err := d.ReadFloat64(); err != nil || v != 2.71828 {
		t.Fatalf("float64: %v %v", v, err)
	}
	if s, err := d.ReadString(); err != nil || s != "hello, world" {
		t.Fatalf("string: %v %v", s, err)
	}
	if b, err := d.ReadBytes(); err != nil || len(b) != 4 {
		t.Fatalf("bytes: %v %v", b, err)
	}
}

func TestObjectRoundTripWithCachedType(t *testing.T) {
	e := NewEncoder()

	fr1, err := e.StartObject("Demo.Vector2")
	if err != nil {
		t.Fatal(err)
	}
	e.WriteField(fr1, 0, WireFixed)
	e.WriteFloat32(1.5)
	e.WriteField(fr1, 1, WireFixed)
	e.WriteFloat32(2.5)
	e.EndObject()

	// Second object of the same type should reuse the cached type id.
	fr2, err := e.StartObject("Demo.Vector2")
	if err != nil {
		t.Fatal(err)
	}
	e.WriteField(fr2, 0, WireFixed)
	e.WriteFloat32(9.5)
	e.WriteField(fr2, 1, WireFixed)
	e.WriteFloat32(8.5)
	e.EndObject()

	d := NewDecoder(e.Bytes())

	name, dfr, err := d.StartObject()
	if err != nil || name != "Demo.Vector2" {
		t.Fatalf("start1: %v %v", name, err)
	}
	if _, _, err := d.ReadField(dfr); err != nil {
		t.Fatal(err)
	}
	if x, err := d.ReadFloat32(); err != nil || x != 1.5 {
		t.Fatalf("x: %v %v", x, err)
	}
	if _, _, err := d.ReadField(dfr); err != nil {
		t.Fatal(err)
	}
	if y, err := d.ReadFloat32(); err != nil || y != 2.5 {
		t.Fatalf("y: %v %v", y, err)
	}
	if err := d.EndObject(); err != nil {
		t.Fatal(err)
	}

	name2, dfr2, err := d.StartObject()
	if err != nil || name2 != "Demo.Vector2" {
		t.Fatalf("start2: %v %v", name2, err)
	}
	if _, _, err := d.ReadField(dfr2); err != nil {
		t.Fatal(err)
	}
	if x, err := d.ReadFloat32(); err != nil || x != 9.5 {
		t.Fatalf("x2: %v %v", x, err)
	}
	if _, _, err := d.ReadField(dfr2); err != nil {
		t.Fatal(err)
	}
	if y, err := d.ReadFloat32(); err != nil || y != 8.5 {
		t.Fatalf("y2: %v %v", y, err)
	}
	if err := d.EndObject(); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownFieldSkipping(t *testing.T) {
	e := NewEncoder()
	fr, _ := e.StartObject("Demo.Extended")
	e.WriteField(fr, 0, WireFixed)
	e.WriteInt32(42)
	e.WriteField(fr, 5, WireLengthPrefixed) // field unknown to an older reader
	e.WriteString("extra data")
	e.WriteField(fr, 6, WireFixed)
	e.WriteInt32(99)
	e.EndObject()

	d := NewDecoder(e.Bytes())
	_, dfr, err := d.StartObject()
	if err != nil {
		t.Fatal(err)
	}

	id, wt, err := d.ReadField(dfr)
	if err != nil || id != 0 {
		t.Fatalf("field0: %v %v %v", id, wt, err)
	}
	if v, err := d.ReadInt32(); err != nil || v != 42 {
		t.Fatalf("v0: %v %v", v, err)
	}

	// Reader doesn't know field 5; skip using only the wire type.
	id, wt, err = d.ReadField(dfr)
	if err != nil || id != 5 || wt != WireLengthPrefixed {
		t.Fatalf("field5: %v %v %v", id, wt, err)
	}
	if _, err := d.ReadBytes(); err != nil {
		t.Fatal(err)
	}

	id, wt, err = d.ReadField(dfr)
	if err != nil || id != 6 {
		t.Fatalf("field6: %v %v %v", id, wt, err)
	}
	if v, err := d.ReadInt32(); err != nil || v != 99 {
		t.Fatalf("v6: %v %v", v, err)
	}

	if err := d.EndObject(); err != nil {
		t.Fatal(err)
	}
}

func TestTruncatedFrame(t *testing.T) {
	e := NewEncoder()
	e.WriteInt32(7)
	truncated := e.Bytes()[:2]
	d := NewDecoder(truncated)
	if _, err := d.ReadInt32(); err == nil {
		t.Fatal("expected truncated frame error")
	}
}

func TestMethodHash8Deterministic(t *testing.T) {
	h1 := MethodHash8("GetWorldState")
	h2 := MethodHash8("GetWorldState")
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 8 {
		t.Fatalf("expected 8 hex chars, got %q", h1)
	}
	h3 := MethodHash8("ConnectPlayer", "System.String")
	if h3 == h1 {
		t.Fatal("different signatures hashed identically")
	}
}

func TestInvokableAliasString(t *testing.T) {
	a := NewInvokableAlias("IGameGrain", "GetWorldState")
	want := "inv:GrainReference:IGameGrain:" + MethodHash8("GetWorldState")
	if a.String() != want {
		t.Fatalf("got %q want %q", a.String(), want)
	}
}
