package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryRepository is an in-memory Repository used in tests. It round-trips
// values through JSON so test behaviour matches the file implementation.
type MemoryRepository struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string][]byte)}
}

// Get loads the value stored under key into target.
func (r *MemoryRepository) Get(key string, target interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.data[key]
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Put stores value under key.
func (r *MemoryRepository) Put(key string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	r.data[key] = data
	return nil
}

// Delete removes the value stored under key.
func (r *MemoryRepository) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.data, key)
	return nil
}

// List returns all stored keys.
func (r *MemoryRepository) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.data))
	for k := range r.data {
		keys = append(keys, k)
	}
	return keys, nil
}
