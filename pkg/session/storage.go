package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// ArtifactPrefix marks every key the guard persists for a tab.
	ArtifactPrefix = "hireflow-admin."

	// DefaultProvider names the password identity provider in token keys.
	DefaultProvider = "password"
)

// Storage is tab-scoped key/value storage for session artifacts.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

func activityKey() string {
	return ArtifactPrefix + "activity_at"
}

func tokenKey(provider string) string {
	return ArtifactPrefix + "auth." + provider + ".token"
}

// purge deletes every artifact under ArtifactPrefix. Purging an empty
// storage is a no-op.
func purge(ctx context.Context, s Storage) error {
	keys, err := s.Keys(ctx, ArtifactPrefix)
	if err != nil {
		return fmt.Errorf("listing session artifacts: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := s.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("deleting session artifacts: %w", err)
	}

	return nil
}

// Compile-time interface check.
var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps artifacts in process memory. They do not survive a
// restart.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string, 2)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]

	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

func (m *MemoryStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values))

	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

func (m *MemoryStorage) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.values, k)
	}

	return nil
}
