package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// kvRecord is the single-table schema behind SQLiteKV.
type kvRecord struct {
	Key       string `gorm:"column:key;primaryKey;size:190;not null"`
	ValueJSON string `gorm:"column:value_json;type:text;not null"`
	UpdatedAt int64  `gorm:"column:updated_at_ms;not null;autoUpdateTime:milli"`
}

// TableName provides the explicit table binding for GORM.
func (kvRecord) TableName() string {
	return "kv_records"
}

// SQLiteKV persists key-value documents in a SQLite file.
type SQLiteKV struct {
	db  *gorm.DB
	hub *watchHub
}

// OpenSQLite establishes a SQLite connection, performs schema migration and
// returns a KV bound to it. The connection is limited to a single writer so
// that every Set is a serialized full-document replacement.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteKV, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return &SQLiteKV{db: db, hub: newWatchHub()}, nil
}

// Get returns the document stored under key, or found=false when absent.
func (s *SQLiteKV) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var record kvRecord
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(record.ValueJSON), true, nil
}

// Set replaces the full document stored under key.
func (s *SQLiteKV) Set(ctx context.Context, key string, value json.RawMessage) error {
	record := kvRecord{Key: key, ValueJSON: string(value)}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return err
	}
	s.hub.publish(Change{Key: key, Value: append(json.RawMessage(nil), value...)})
	return nil
}

// Remove deletes the document stored under key. Removing an absent key is
// not an error.
func (s *SQLiteKV) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&kvRecord{}).Error; err != nil {
		return err
	}
	s.hub.publish(Change{Key: key})
	return nil
}

// Watch implements KV.
func (s *SQLiteKV) Watch() (<-chan Change, func()) {
	return s.hub.subscribe()
}

// Close releases the underlying database connection.
func (s *SQLiteKV) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
