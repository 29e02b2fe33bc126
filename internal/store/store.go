// Package store provides the persistence abstraction used by account
// metadata and the learning engines.
//
// A Repository is a flat keyed document store. Callers own the schema of the
// values they persist; the repository only guarantees durable JSON round
// trips. Two implementations exist: FileRepository for production use and
// MemoryRepository as a test double.
package store

import "errors"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// Repository is a minimal keyed document store. Values are marshalled to
// JSON on Put and unmarshalled into the caller-provided target on Get.
type Repository interface {
	// Get loads the value stored under key into target.
	// Returns ErrNotFound if the key has never been written.
	Get(key string, target interface{}) error

	// Put stores value under key, replacing any previous value.
	// The write is durable before Put returns.
	Put(key string, value interface{}) error

	// Delete removes the value stored under key. Deleting a missing key
	// is not an error.
	Delete(key string) error

	// List returns all stored keys in unspecified order.
	List() ([]string, error)
}
