package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	magicLinkRecordVersionV1 = 1
)

var (
	ErrMagicLinkNotFound         = errors.New("magic link not found")
	ErrMagicLinkExpired          = errors.New("magic link expired")
	ErrMagicLinkSecretMismatch   = errors.New("magic link secret mismatch")
	ErrMagicLinkRedisUnavailable = errors.New("magic link redis unavailable")
)

// consumeMagicLinkLua atomically performs GET→validate→DEL on a link record.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = current unix timestamp (int string)
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "expired", "secret_mismatch"
var consumeMagicLinkLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local nowUnix = tonumber(ARGV[2])

-- version(1) expiresAt(8 big-endian) secretHash(32) ...
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 2, 9)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local storedHash = string.sub(data, 10, 41)
if storedHash ~= ARGV[1] then
  return {err='secret_mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// MagicLinkRecord is the stored half of a magic link.
type MagicLinkRecord struct {
	Email      string
	SecretHash [32]byte
	ExpiresAt  int64
}

// MagicLinkStore keeps single-use link records in Redis.
type MagicLinkStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewMagicLinkStore returns a store keyed under prefix.
func NewMagicLinkStore(redisClient redis.UniversalClient, prefix string) *MagicLinkStore {
	if prefix == "" {
		prefix = "aml"
	}
	return &MagicLinkStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *MagicLinkStore) key(linkID string) string {
	return s.prefix + ":" + linkID
}

func (s *MagicLinkStore) Save(ctx context.Context, linkID string, record *MagicLinkRecord, ttl time.Duration) error {
	encoded, err := encodeMagicLinkRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(linkID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMagicLinkRedisUnavailable, err)
	}

	return nil
}

// Consume redeems the link if the hash matches. A mismatched secret leaves
// the record in place for the legitimate holder.
func (s *MagicLinkStore) Consume(ctx context.Context, linkID string, providedHash [32]byte) (*MagicLinkRecord, error) {
	result, err := consumeMagicLinkLua.Run(ctx, s.redis,
		[]string{s.key(linkID)},
		string(providedHash[:]),
		time.Now().Unix(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrMagicLinkNotFound
		case "expired":
			return nil, ErrMagicLinkExpired
		case "secret_mismatch":
			return nil, ErrMagicLinkSecretMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrMagicLinkRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrMagicLinkRedisUnavailable)
	}

	record, decErr := decodeMagicLinkRecord([]byte(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMagicLinkRedisUnavailable, decErr)
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrMagicLinkSecretMismatch
	}

	return record, nil
}

func encodeMagicLinkRecord(record *MagicLinkRecord) ([]byte, error) {
	if len(record.Email) > 65535 {
		return nil, errors.New("magic link record email too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(magicLinkRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.SecretHash[:])

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)

	return buf.Bytes(), nil
}

func decodeMagicLinkRecord(data []byte) (*MagicLinkRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != magicLinkRecordVersionV1 {
		return nil, errors.New("invalid magic link record version")
	}

	record := &MagicLinkRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}
	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	record.Email = string(email)

	return record, nil
}
