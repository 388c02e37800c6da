package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	bundleFormatVersionCurrent = 2
	bundleFormatVersionV1      = 1

	maxTokenLength = 1<<16 - 1
)

// ErrCorruptBundle is returned when a stored blob cannot be decoded.
var ErrCorruptBundle = errors.New("corrupt credential bundle")

// Encode serializes b into the versioned binary layout:
//
//	version(1) | u16 access | u16 refresh | i64 expires | u8 principal id | u8 email
func Encode(b Bundle) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(bundleFormatVersionCurrent)

	if err := writeLong(&buf, b.AccessToken, "access token"); err != nil {
		return nil, err
	}
	if err := writeLong(&buf, b.RefreshToken, "refresh token"); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, b.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, b.Principal.ID, "principal id"); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, b.Principal.Email, "principal email"); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. Version 1 blobs carry no email field.
func Decode(data []byte) (Bundle, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Bundle{}, ErrCorruptBundle
	}
	if version != bundleFormatVersionCurrent && version != bundleFormatVersionV1 {
		return Bundle{}, ErrCorruptBundle
	}

	var b Bundle
	if b.AccessToken, err = readLong(reader); err != nil {
		return Bundle{}, ErrCorruptBundle
	}
	if b.RefreshToken, err = readLong(reader); err != nil {
		return Bundle{}, ErrCorruptBundle
	}
	if err := binary.Read(reader, binary.BigEndian, &b.ExpiresAt); err != nil {
		return Bundle{}, ErrCorruptBundle
	}
	if b.Principal.ID, err = readShort(reader); err != nil {
		return Bundle{}, ErrCorruptBundle
	}
	if version == bundleFormatVersionCurrent {
		if b.Principal.Email, err = readShort(reader); err != nil {
			return Bundle{}, ErrCorruptBundle
		}
	}
	if reader.Len() != 0 {
		return Bundle{}, ErrCorruptBundle
	}

	return b, nil
}

func writeLong(buf *bytes.Buffer, value, field string) error {
	if len(value) > maxTokenLength {
		return errors.New(field + " too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.WriteString(value)
	return nil
}

func writeShort(buf *bytes.Buffer, value, field string) error {
	if len(value) > 255 {
		return errors.New(field + " too long")
	}
	buf.WriteByte(byte(len(value)))
	buf.WriteString(value)
	return nil
}

func readLong(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}

func readShort(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}
