package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const entryFormatVersion = 1

// The trailing 24 bytes are always createdAt|expiresAt|revokedAt in
// big-endian order. The rotate and revoke Lua scripts depend on that
// fixed tail layout; bump the version if it ever changes.
const minEncodedLen = 1 + 1 + 1 + 24

// Encode serializes an entry to the compact binary blob stored in Redis.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(entryFormatVersion)

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	if len(s.Role) > 255 {
		return nil, errors.New("role too long")
	}
	buf.WriteByte(byte(len(s.Role)))
	buf.WriteString(s.Role)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.RevokedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. SessionID is not part of
// the blob; callers set it from the Redis key.
func Decode(data []byte) (*Session, error) {
	if len(data) < minEncodedLen {
		return nil, errors.New("session entry truncated")
	}

	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != entryFormatVersion {
		return nil, errors.New("invalid session entry version")
	}

	s := &Session{}

	userLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	s.UserID = string(userID)

	roleLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	role := make([]byte, roleLen)
	if _, err := io.ReadFull(reader, role); err != nil {
		return nil, err
	}
	s.Role = string(role)

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.RevokedAt); err != nil {
		return nil, err
	}

	if reader.Len() != 0 {
		return nil, errors.New("session entry has trailing bytes")
	}

	return s, nil
}
