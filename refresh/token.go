package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	familySize = 16
	secretSize = 32
	rawSize    = familySize + secretSize
)

// ErrMalformed is returned when a presented token cannot be decoded.
var ErrMalformed = errors.New("malformed opaque token")

// Family groups every rotation of one token.
type Family [familySize]byte

func (f Family) String() string {
	return base64.RawURLEncoding.EncodeToString(f[:])
}

// ParseFamily decodes the String form of a family.
func ParseFamily(s string) (Family, error) {
	var f Family
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != familySize {
		return f, ErrMalformed
	}
	copy(f[:], raw)
	return f, nil
}

// Token is a decoded opaque token.
type Token struct {
	Family Family
	Secret [secretSize]byte
}

// New returns a token in a fresh family.
func New() (Token, error) {
	var t Token
	if _, err := rand.Read(t.Family[:]); err != nil {
		return Token{}, err
	}
	if _, err := rand.Read(t.Secret[:]); err != nil {
		return Token{}, err
	}
	return t, nil
}

// Rotate returns a token in the same family with a new secret.
func (t Token) Rotate() (Token, error) {
	next := Token{Family: t.Family}
	if _, err := rand.Read(next.Secret[:]); err != nil {
		return Token{}, err
	}
	return next, nil
}

// Hash is the storage form of the secret, hex encoded.
func (t Token) Hash() string {
	sum := sha256.Sum256(t.Secret[:])
	return hex.EncodeToString(sum[:])
}

// Encode returns the presentable form of t.
func (t Token) Encode() string {
	var raw [rawSize]byte
	copy(raw[:familySize], t.Family[:])
	copy(raw[familySize:], t.Secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// Decode parses a presented token.
func Decode(s string) (Token, error) {
	var t Token
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return t, ErrMalformed
	}
	if len(raw) != rawSize {
		return t, ErrMalformed
	}
	copy(t.Family[:], raw[:familySize])
	copy(t.Secret[:], raw[familySize:])
	return t, nil
}
