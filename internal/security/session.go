package security

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Mode selects whether a Session enforces PSK encryption or runs in
// the zero-security development mode.
type Mode int

const (
	ModePSK Mode = iota
	ModeNone
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "psk", "":
		return ModePSK, nil
	case "none":
		return ModeNone, nil
	default:
		return ModePSK, fmt.Errorf("security: unknown mode %q", s)
	}
}

// Session is the live, post-handshake SecuritySession described in the
// session's data model: per-connection direction keys, an
// outgoing sequence counter, and an inbound replay window. It wraps
// outbound application frames for transmission and unwraps inbound
// ones, enforcing the replay window and a consecutive-failure circuit
// breaker.
type Session struct {
	mode Mode

	outgoing *Protector
	incoming *Protector
	prefix   ConnPrefix
	outSeq   uint64

	replay *ReplayWindow

	consecutiveFailures uint32
	failureThreshold    uint32

	logger *slog.Logger
}

// NewSession builds a live Session from derived keys (sent-direction
// key first). failureThreshold is the number of consecutive decrypt
// failures (default 16) that tears the connection
// down; 0 selects the default.
func NewSession(sendKey, recvKey [keyLen]byte, failureThreshold uint32, logger *slog.Logger) (*Session, error) {
	out, err := NewProtector(sendKey)
	if err != nil {
		return nil, err
	}
	in, err := NewProtector(recvKey)
	if err != nil {
		return nil, err
	}
	prefix, err := NewConnPrefix()
	if err != nil {
		return nil, err
	}
	if failureThreshold == 0 {
		failureThreshold = 16
	}
	return &Session{
		mode:             ModePSK,
		outgoing:         out,
		incoming:         in,
		prefix:           prefix,
		replay:           &ReplayWindow{},
		failureThreshold: failureThreshold,
		logger:           logger,
	}, nil
}

// NewPlaintextSession builds a zero-security Session for local
// development. A prominent warning is logged, as mandated by the
// design.
func NewPlaintextSession(logger *slog.Logger) *Session {
	if logger != nil {
		logger.Warn("security.mode=none: connection is UNENCRYPTED, do not use in production")
	}
	return &Session{mode: ModeNone, logger: logger}
}

// Wrap serializes an outbound application frame into its wire form: an
// AES-256-GCM encrypted body in PSK mode, or a bare PLAINTEXT-tagged
// payload in none mode.
func (s *Session) Wrap(appFrame []byte) []byte {
	if s.mode == ModeNone {
		out := make([]byte, 0, 1+len(appFrame))
		out = append(out, byte(FramePlaintext))
		return append(out, appFrame...)
	}
	seq := atomic.AddUint64(&s.outSeq, 1) - 1
	body := s.outgoing.Seal(seq, s.prefix, appFrame)
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(FrameEncrypted))
	return append(out, body...)
}

// Unwrap reverses Wrap. Returns the recovered application frame, or an
// error. A replay/decrypt failure is not necessarily fatal: the caller
// should check IsFatal() after an error to decide whether to tear the
// connection down (consecutive failures reached the threshold).
func (s *Session) Unwrap(datagram []byte) ([]byte, error) {
	if len(datagram) == 0 {
		return nil, fmt.Errorf("security: empty datagram")
	}
	ft := FrameType(datagram[0])
	body := datagram[1:]

	if s.mode == ModeNone {
		if ft != FramePlaintext {
			return nil, fmt.Errorf("security: expected PLAINTEXT frame, got %#x", ft)
		}
		return body, nil
	}

	if ft != FrameEncrypted {
		return nil, fmt.Errorf("security: expected ENCRYPTED frame, got %#x", ft)
	}

	seq, plaintext, err := s.incoming.Open(body)
	if err != nil {
		atomic.AddUint32(&s.consecutiveFailures, 1)
		return nil, err
	}
	if !s.replay.Accept(seq) {
		atomic.AddUint32(&s.consecutiveFailures, 1)
		return nil, fmt.Errorf("security: replay or stale sequence %d rejected", seq)
	}
	atomic.StoreUint32(&s.consecutiveFailures, 0)
	return plaintext, nil
}

// IsFatal reports whether the consecutive-decrypt-failure count has
// reached the configured threshold, at which point the owning
// Connection must be torn down.
func (s *Session) IsFatal() bool {
	return atomic.LoadUint32(&s.consecutiveFailures) >= s.failureThreshold
}

// Zeroize overwrites key material. Called during Connection teardown.
func (s *Session) Zeroize() {
	// The underlying cipher.AEAD does not expose its key material for
	// explicit wiping; dropping the Protector references is the best
	// this runtime can do without reimplementing AES-GCM by hand.
	s.outgoing = nil
	s.incoming = nil
}

func (s *Session) DroppedFrames() uint64 {
	if s.replay == nil {
		return 0
	}
	return s.replay.DroppedCount()
}
