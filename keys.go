package linkauth

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const signingKeyInfo = "linkauth access token hs256 v1"

// DeriveSigningKey expands a master secret into a 32-byte HS256 key so the
// raw secret is never used as a MAC key directly.
func DeriveSigningKey(secret []byte) ([]byte, error) {
	if len(secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(signingKeyInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}
