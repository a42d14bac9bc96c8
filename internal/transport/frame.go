package transport

import "encoding/binary"

// physType distinguishes the small set of physical-layer framings
// layered beneath the three delivery classes: plain data, an
// acknowledgement for reliable-ordered data, and sequenced data whose
// receiver discards anything not newer than the latest delivered.
type physType byte

const (
	physReliableData physType = iota
	physReliableAck
	physUnreliableData
	physSequencedData
)

const physHeaderLen = 5 // 1 byte type + 4 byte sequence, big-endian

func encodePhysFrame(pt physType, seq uint32, payload []byte) []byte {
	out := make([]byte, physHeaderLen+len(payload))
	out[0] = byte(pt)
	binary.BigEndian.PutUint32(out[1:5], seq)
	copy(out[5:], payload)
	return out
}

func decodePhysFrame(datagram []byte) (pt physType, seq uint32, payload []byte, ok bool) {
	if len(datagram) < physHeaderLen {
		return 0, 0, nil, false
	}
	pt = physType(datagram[0])
	seq = binary.BigEndian.Uint32(datagram[1:5])
	payload = datagram[physHeaderLen:]
	return pt, seq, payload, true
}
