package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// entry is the gorm model backing the sqlite store.
type entry struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte
	UpdatedAt time.Time
}

func (entry) TableName() string { return "state_entries" }

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at path.
func NewSQLiteStore(logger *zap.Logger, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{
		logger: logger.Named("store.sqlite"),
		db:     db,
	}, nil
}

// Get implements Store.Get
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e entry
	err := s.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Set implements Store.Set
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	e := entry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&e).Error
}

// Delete implements Store.Delete
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&entry{}, "key = ?", key).Error
}

// Close implements Store.Close
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
