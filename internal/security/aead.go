package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// ConnPrefix is the 4-byte per-connection random value mixed into every
// outbound nonce alongside the sequence counter, so that two
// connections that happen to restart their sequence counters at the
// same value never reuse a nonce under the same key.
type ConnPrefix [noncePrefixLen]byte

func NewConnPrefix() (ConnPrefix, error) {
	var p ConnPrefix
	if _, err := rand.Read(p[:]); err != nil {
		return ConnPrefix{}, err
	}
	return p, nil
}

// Protector wraps one direction's AES-256-GCM cipher and seals/opens
// ENCRYPTED frame bodies using the nonce construction mandated by the
// specification: an 8-byte big-endian outgoing sequence counter
// followed by the 4-byte per-connection random prefix.
type Protector struct {
	aead cipher.AEAD
}

func NewProtector(key [keyLen]byte) (*Protector, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	if aead.NonceSize() != nonceLen {
		return nil, fmt.Errorf("unexpected gcm nonce size %d", aead.NonceSize())
	}
	return &Protector{aead: aead}, nil
}

func buildNonce(seq uint64, prefix ConnPrefix) [nonceLen]byte {
	var n [nonceLen]byte
	binary.BigEndian.PutUint64(n[:8], seq)
	copy(n[8:], prefix[:])
	return n
}

// Seal produces the full ENCRYPTED frame body: nonce || ciphertext || tag.
// The frame type byte (0x10) is the caller's responsibility to prepend.
func (p *Protector) Seal(seq uint64, prefix ConnPrefix, plaintext []byte) []byte {
	nonce := buildNonce(seq, prefix)
	out := make([]byte, 0, nonceLen+len(plaintext)+tagLen)
	out = append(out, nonce[:]...)
	out = p.aead.Seal(out, nonce[:], plaintext, nil)
	return out
}

// Open reverses Seal given the frame body (nonce || ciphertext || tag,
// without the leading frame-type byte). It returns the recovered
// sequence number (decoded from the nonce) and plaintext.
func (p *Protector) Open(body []byte) (seq uint64, plaintext []byte, err error) {
	if len(body) < nonceLen+tagLen {
		return 0, nil, fmt.Errorf("security: encrypted body too short")
	}
	nonce := body[:nonceLen]
	seq = binary.BigEndian.Uint64(nonce[:8])
	ciphertext := body[nonceLen:]
	plaintext, err = p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return seq, nil, fmt.Errorf("security: decrypt failed: %w", err)
	}
	return seq, plaintext, nil
}
