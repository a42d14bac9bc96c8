package security

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeys holds the two direction keys derived for one connection.
type SessionKeys struct {
	ClientToServer [keyLen]byte
	ServerToClient [keyLen]byte
}

// DeriveSessionKeys computes:
//
//	c2s_key = HKDF-Extract-and-Expand(salt=challenge, ikm=psk, info="client_to_server", L=32)
//	s2c_key = HKDF-Extract-and-Expand(salt=challenge, ikm=psk, info="server_to_client", L=32)
func DeriveSessionKeys(psk, challenge []byte) (SessionKeys, error) {
	var keys SessionKeys

	c2s := hkdf.New(sha256.New, psk, challenge, []byte("client_to_server"))
	if _, err := io.ReadFull(c2s, keys.ClientToServer[:]); err != nil {
		return SessionKeys{}, err
	}

	s2c := hkdf.New(sha256.New, psk, challenge, []byte("server_to_client"))
	if _, err := io.ReadFull(s2c, keys.ServerToClient[:]); err != nil {
		return SessionKeys{}, err
	}

	return keys, nil
}
