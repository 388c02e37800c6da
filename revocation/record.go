package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is how long a revocation record is kept.
const DefaultTTL = 24 * time.Hour

// ReasonLogout tags revocations issued by a regular logout.
const ReasonLogout = "logout"

var (
	// ErrInvalidRecord is returned when a record lacks its hash or expiry.
	ErrInvalidRecord = errors.New("invalid revocation record")
	// ErrUnavailable is returned when the revocation backend cannot be queried.
	ErrUnavailable = errors.New("revocation backend unavailable")
)

// Record marks one credential as revoked.
type Record struct {
	TokenID   string    `json:"token_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
}

// Expired reports whether the record may be purged at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r Record) validate() error {
	if strings.TrimSpace(r.TokenHash) == "" || r.ExpiresAt.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

// HashToken returns the lookup key for a raw bearer token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewRecord builds a record for raw expiring ttl after now. An empty reason becomes
// [ReasonLogout].
func NewRecord(raw, tokenID, reason string, now time.Time, ttl time.Duration) Record {
	if reason == "" {
		reason = ReasonLogout
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Record{
		TokenID:   tokenID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(ttl),
		Reason:    reason,
	}
}

// Checker answers revocation queries.
type Checker interface {
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// Store records and answers revocations.
type Store interface {
	Checker
	Revoke(ctx context.Context, record Record) error
	// Purge deletes records expired at now and returns how many were removed.
	Purge(ctx context.Context, now time.Time) (int, error)
}
