package session

import (
	"context"
	"errors"
	"sync"
)

// ErrStorageUnavailable is returned when the underlying storage cannot be reached.
var ErrStorageUnavailable = errors.New("credential storage unavailable")

// Storage persists at most one [Bundle]. Implementations must make Save and Delete
// atomic with respect to Load.
type Storage interface {
	// Load returns the stored bundle. ok is false when nothing is stored.
	Load(ctx context.Context) (b Bundle, ok bool, err error)
	// Save replaces any stored bundle.
	Save(ctx context.Context, b Bundle) error
	// Delete removes the stored bundle. Deleting an empty storage is not an error.
	Delete(ctx context.Context) error
}

// MemoryStorage keeps the bundle for the lifetime of the owning process.
// It is the per-tab storage; sibling contexts that must share a bundle use
// [RedisStorage] instead.
type MemoryStorage struct {
	mu   sync.RWMutex
	blob []byte
}

// NewMemoryStorage returns an empty [MemoryStorage].
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(_ context.Context) (Bundle, bool, error) {
	m.mu.RLock()
	blob := m.blob
	m.mu.RUnlock()

	if blob == nil {
		return Bundle{}, false, nil
	}
	b, err := Decode(blob)
	if err != nil {
		return Bundle{}, false, err
	}
	return b, true, nil
}

func (m *MemoryStorage) Save(_ context.Context, b Bundle) error {
	blob, err := Encode(b)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.blob = blob
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context) error {
	m.mu.Lock()
	m.blob = nil
	m.mu.Unlock()
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
