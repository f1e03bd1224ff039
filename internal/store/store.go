package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrKeyNotFound is returned when a key has no stored value.
var ErrKeyNotFound = errors.New("store: key not found")

// Store is a durable key-value store for restart-survivable client state
// (notification snapshots, time-range selection, filter sets). Values are
// opaque JSON documents.
type Store interface {
	// Get retrieves the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the value for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any underlying resources.
	Close() error
}

// GetJSON decodes the stored value for key into v. A missing key or a corrupt
// entry both report found=false; corruption is never a hard failure.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Corrupt entries read as absent.
		return false, nil
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data)
}
