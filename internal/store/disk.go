package store

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DiskStore implements Store using one JSON file per key under a base
// directory. Keys are sanitized so they are always safe as file names.
type DiskStore struct {
	logger  *zap.Logger
	baseDir string
	mu      sync.RWMutex
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates a new disk-backed store rooted at baseDir.
func NewDiskStore(logger *zap.Logger, baseDir string) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}

	return &DiskStore{
		logger:  logger.Named("store.disk"),
		baseDir: baseDir,
	}, nil
}

// Get implements Store.Get
func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set implements Store.Set
func (s *DiskStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete implements Store.Delete
func (s *DiskStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close implements Store.Close
func (s *DiskStore) Close() error {
	return nil
}

func (s *DiskStore) path(key string) string {
	return filepath.Join(s.baseDir, sanitize(key)+".json")
}

// sanitize keeps alphanumerics, dash and underscore; anything else is
// hex-escaped so distinct keys never collide on disk.
func sanitize(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteString(hex.EncodeToString([]byte{c}))
		}
	}
	return b.String()
}
