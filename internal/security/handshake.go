package security

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/zoneward/rpcrt/internal/rpcerrors"
)

// HandshakeState enumerates the client-visible states of the PSK
// handshake state machine.
type HandshakeState int

const (
	StateStart HandshakeState = iota
	StateAwaitChallenge
	StateComputing
	StateAwaitAck
	StateAwaitResponse // server-only
	StateLive
	StateFailed
)

func (s HandshakeState) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateAwaitChallenge:
		return "AwaitChallenge"
	case StateComputing:
		return "Computing"
	case StateAwaitAck:
		return "AwaitAck"
	case StateAwaitResponse:
		return "AwaitResponse"
	case StateLive:
		return "Live"
	default:
		return "Failed"
	}
}

// PSKSource resolves a player's pre-shared key, used by the server
// side of the handshake on receipt of HELLO. Backed in practice by
// directory.Client.SessionKey (see cmd/rpcserver/psksource.go).
type PSKSource interface {
	LookupPSK(ctx context.Context, playerID string) ([]byte, error)
}

// --- wire framing for the four plaintext handshake messages ---

func EncodeHello(playerID string) []byte {
	b := []byte(playerID)
	out := make([]byte, 0, 3+len(b))
	out = append(out, byte(FrameHello))
	var ln [2]byte
	binary.BigEndian.PutUint16(ln[:], uint16(len(b)))
	out = append(out, ln[:]...)
	out = append(out, b...)
	return out
}

func DecodeHello(frame []byte) (string, error) {
	if len(frame) < 3 || FrameType(frame[0]) != FrameHello {
		return "", fmt.Errorf("security: malformed HELLO")
	}
	n := binary.BigEndian.Uint16(frame[1:3])
	if len(frame) < 3+int(n) {
		return "", fmt.Errorf("security: truncated HELLO")
	}
	return string(frame[3 : 3+int(n)]), nil
}

func EncodeChallenge(nonce [challengeLen]byte) []byte {
	out := make([]byte, 1+challengeLen)
	out[0] = byte(FrameChallenge)
	copy(out[1:], nonce[:])
	return out
}

func DecodeChallenge(frame []byte) ([challengeLen]byte, error) {
	var nonce [challengeLen]byte
	if len(frame) != 1+challengeLen || FrameType(frame[0]) != FrameChallenge {
		return nonce, fmt.Errorf("security: malformed CHALLENGE")
	}
	copy(nonce[:], frame[1:])
	return nonce, nil
}

func EncodeResponse(mac [hmacLen]byte) []byte {
	out := make([]byte, 1+hmacLen)
	out[0] = byte(FrameResponse)
	copy(out[1:], mac[:])
	return out
}

func DecodeResponse(frame []byte) ([hmacLen]byte, error) {
	var mac [hmacLen]byte
	if len(frame) != 1+hmacLen || FrameType(frame[0]) != FrameResponse {
		return mac, fmt.Errorf("security: malformed RESPONSE")
	}
	copy(mac[:], frame[1:])
	return mac, nil
}

// EncodeAck/DecodeAck frame the server's handshake-complete signal. It
// carries no payload: the client's OnAck only cares that it arrived.
func EncodeAck() []byte {
	return []byte{byte(FrameAck)}
}

func DecodeAck(frame []byte) error {
	if len(frame) != 1 || FrameType(frame[0]) != FrameAck {
		return fmt.Errorf("security: malformed ACK")
	}
	return nil
}

func computeHMAC(psk, challenge []byte) [hmacLen]byte {
	mac := hmac.New(sha256.New, psk)
	mac.Write(challenge)
	var out [hmacLen]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ClientHandshake drives the client side of the state machine in
// Start -> AwaitChallenge -> Computing -> AwaitAck -> Live.
type ClientHandshake struct {
	state     HandshakeState
	playerID  string
	psk       []byte
	challenge [challengeLen]byte
	Keys      SessionKeys
}

func NewClientHandshake(playerID string, psk []byte) *ClientHandshake {
	return &ClientHandshake{state: StateStart, playerID: playerID, psk: psk}
}

func (c *ClientHandshake) State() HandshakeState { return c.state }

// Start produces the CLIENT_HELLO frame and transitions to
// AwaitChallenge.
func (c *ClientHandshake) Start() []byte {
	c.state = StateAwaitChallenge
	return EncodeHello(c.playerID)
}

// OnChallenge consumes SERVER_CHALLENGE, computes the HMAC response,
// derives session keys, and returns the RESPONSE frame to send.
func (c *ClientHandshake) OnChallenge(frame []byte) ([]byte, error) {
	if c.state != StateAwaitChallenge {
		return nil, &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: fmt.Errorf("unexpected CHALLENGE in state %s", c.state)}
	}
	nonce, err := DecodeChallenge(frame)
	if err != nil {
		return nil, &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: err}
	}
	c.challenge = nonce
	c.state = StateComputing

	keys, err := DeriveSessionKeys(c.psk, c.challenge[:])
	if err != nil {
		c.state = StateFailed
		return nil, &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: err}
	}
	c.Keys = keys

	mac := computeHMAC(c.psk, c.challenge[:])
	c.state = StateAwaitAck
	return EncodeResponse(mac), nil
}

// OnAck records receipt of the server's ACK and transitions to Live.
// The argument is not inspected. The ACK arrives as the plaintext
// one-byte FrameAck datagram (EncodeAck/DecodeAck); it is not an
// ENCRYPTED frame and carries no AEAD protection.
func (c *ClientHandshake) OnAck(plaintext []byte) error {
	if c.state != StateAwaitAck {
		return &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: fmt.Errorf("unexpected ACK in state %s", c.state)}
	}
	c.state = StateLive
	return nil
}

// ServerHandshake drives the server side of the state machine.
type ServerHandshake struct {
	state     HandshakeState
	playerID  string
	psk       []byte
	challenge [challengeLen]byte
	Keys      SessionKeys
}

func NewServerHandshake() *ServerHandshake {
	return &ServerHandshake{state: StateStart}
}

func (s *ServerHandshake) State() HandshakeState { return s.state }

// OnHello looks up the PSK via src, generates a fresh random challenge,
// and returns the CHALLENGE frame to send.
func (s *ServerHandshake) OnHello(ctx context.Context, frame []byte, src PSKSource) ([]byte, error) {
	playerID, err := DecodeHello(frame)
	if err != nil {
		return nil, &rpcerrors.ProtocolError{Code: rpcerrors.ProtocolMalformed, Err: err}
	}
	psk, err := src.LookupPSK(ctx, playerID)
	if err != nil {
		return nil, &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: fmt.Errorf("psk lookup for %s: %w", playerID, err)}
	}
	s.playerID = playerID
	s.psk = psk

	if _, err := rand.Read(s.challenge[:]); err != nil {
		return nil, err
	}
	s.state = StateAwaitResponse
	return EncodeChallenge(s.challenge), nil
}

// OnResponse verifies the client's HMAC in constant time, derives
// session keys, and transitions to Live.
func (s *ServerHandshake) OnResponse(frame []byte) error {
	if s.state != StateAwaitResponse {
		return &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: fmt.Errorf("unexpected RESPONSE in state %s", s.state)}
	}
	mac, err := DecodeResponse(frame)
	if err != nil {
		return &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: err}
	}
	expected := computeHMAC(s.psk, s.challenge[:])
	if !hmac.Equal(mac[:], expected[:]) {
		return &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch}
	}

	keys, err := DeriveSessionKeys(s.psk, s.challenge[:])
	if err != nil {
		return &rpcerrors.SecurityError{Code: rpcerrors.SecurityHMACMismatch, Err: err}
	}
	s.Keys = keys
	s.state = StateLive
	return nil
}

// PlayerID returns the player id observed in HELLO, valid after OnHello.
func (s *ServerHandshake) PlayerID() string { return s.playerID }
