// Package security implements the PSK-based handshake, key derivation,
// AEAD frame protection, and replay window for the transport security
// layer: a pre-shared-key challenge/response establishes a pair of
// session keys, which are then used to authenticate and encrypt every
// datagram with AES-256-GCM.
package security

// FrameType is the single leading byte of every UDP datagram exchanged
// by this runtime, on or off the security layer.
type FrameType byte

const (
	FrameHello     FrameType = 0x01
	FrameChallenge FrameType = 0x02
	FrameResponse  FrameType = 0x03
	FrameAck       FrameType = 0x04
	FrameEncrypted FrameType = 0x10
	FramePlaintext FrameType = 0xFE
)

const (
	challengeLen = 16
	hmacLen      = 32
	keyLen       = 32
	noncePrefixLen = 4
	nonceLen     = 12
	tagLen       = 16
)
