// Package kv defines the byte store that holds whole serialized collections under fixed keys.
package kv

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrUnchanged is returned by an UpdateFunc to leave the stored value as it is. Update then returns nil.
	ErrUnchanged = errors.New("value unchanged")
)

// UpdateFunc receives the current value of a key, nil when it is missing, and returns the value to store.
// It may run more than once when a concurrent writer wins the race.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a durable key-value medium. Each key holds one opaque blob that is read and written atomically.
// Update is the only safe way to change a blob that other processes may be writing at the same time.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = append([]byte(nil), value...)

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}

func (m *Memory) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if v, ok := m.values[key]; ok {
		current = append([]byte(nil), v...)
	}

	next, err := fn(current)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	m.values[key] = append([]byte(nil), next...)

	return nil
}
