package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process revocation store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemory creates an empty [Memory] store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) Revoke(_ context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.records[record.TokenHash] = record
	m.mu.Unlock()
	return nil
}

func (m *Memory) IsRevoked(_ context.Context, tokenHash string) (bool, error) {
	m.mu.RLock()
	record, ok := m.records[tokenHash]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return !record.Expired(m.now()), nil
}

// Lookup returns the stored record for tokenHash, expired or not.
func (m *Memory) Lookup(tokenHash string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[tokenHash]
	return record, ok
}

func (m *Memory) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for hash, record := range m.records {
		if record.Expired(now) {
			delete(m.records, hash)
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*Memory)(nil)
