// Package history keeps a durable journal of check outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// CheckRecord is one journaled check outcome.
type CheckRecord struct {
	ID           uint      `gorm:"primaryKey"`
	BatchID      string    `gorm:"index"`
	SiteName     string    `gorm:"not null;index:idx_site_created;index:idx_site_created_status"`
	URL          string    `gorm:"not null"`
	Status       string    `gorm:"not null;index:idx_site_created_status"`
	StatusCode   int       `gorm:"default:0"`
	ResponseTime int64     `gorm:"default:0"`
	Error        string
	CreatedAt    time.Time `gorm:"index:idx_site_created;index:idx_site_created_status"`
}

// Journal is safe for concurrent use; SQLite access goes through a single connection.
type Journal struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the journal database at path and migrates it.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Err(err).Str("directory", dir).Msg("[History] Could not create database directory")
		}
	}

	// WAL lets readers proceed while the batch writer appends.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := db.AutoMigrate(&CheckRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	log.Info().Str("path", path).Msg("[History] Database initialized")
	return &Journal{db: db, sqlDB: sqlDB, logger: log}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.sqlDB.Close()
}

// Append stores records in one transaction.
func (j *Journal) Append(ctx context.Context, records []CheckRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		records[i].CreatedAt = records[i].CreatedAt.UTC()
	}
	if err := j.db.WithContext(ctx).CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("failed to append check history: %w", err)
	}
	j.logger.Debug().Int("records", len(records)).Msg("[History] Appended check history")
	return nil
}

// Prune deletes records created before cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	j.logger.Info().Time("cutoff", cutoff).Msg("[Cleanup] Starting cleanup of check history")

	result := j.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&CheckRecord{})
	if result.Error != nil {
		j.logger.Error().Err(result.Error).Msg("[Cleanup] Failed to clean old check history")
		return 0, result.Error
	}

	j.logger.Info().Int64("deleted", result.RowsAffected).Msg("[Cleanup] Deleted check history records")
	return result.RowsAffected, nil
}

// Recent returns the latest records for site, newest first.
func (j *Journal) Recent(ctx context.Context, site string, limit int) ([]CheckRecord, error) {
	var out []CheckRecord
	err := j.db.WithContext(ctx).
		Where("site_name = ?", site).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
