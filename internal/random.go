package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

type SessionID [16]byte

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32
	linkTokenRawSize    = 48
	linkSecretSize      = 32
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs the session id and secret into one opaque string.
func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}

// NewLinkToken returns a magic-link token and the id under which its record
// is stored. Only the hash of the secret half is ever persisted.
func NewLinkToken() (token string, linkID string, secretHash [32]byte, err error) {
	id, err := NewSessionID()
	if err != nil {
		return "", "", secretHash, err
	}

	var secret [linkSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", "", secretHash, err
	}

	var raw [linkTokenRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), id.String(), sha256.Sum256(secret[:]), nil
}

// DecodeLinkToken splits a magic-link token into its record id and secret hash.
func DecodeLinkToken(token string) (string, [32]byte, error) {
	var hash [32]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", hash, err
	}
	if len(raw) != linkTokenRawSize {
		return "", hash, errors.New("invalid link token size")
	}

	var id SessionID
	copy(id[:], raw[:len(id)])

	return id.String(), sha256.Sum256(raw[len(id):]), nil
}
