package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

// Layout (v1):
//
//	version(1) refreshHash(32) createdAt(8) expiresAt(8) userLen(1) user emailLen(2) email
const fixedHeaderSize = 49

// Encode serialises s into the versioned binary layout stored in Redis.
func Encode(s *Session) ([]byte, error) {
	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	if len(s.Email) > 65535 {
		return nil, errors.New("email too long")
	}

	var buf bytes.Buffer
	buf.Grow(fixedHeaderSize + 3 + len(s.UserID) + len(s.Email))

	buf.WriteByte(sessionFormatVersionCurrent)
	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(s.Email)

	return buf.Bytes(), nil
}

// Decode parses a record written by Encode. SessionID is not part of the
// record and is left empty.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	userLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	s.UserID = string(userID)

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}
	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	s.Email = string(email)

	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}
