package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"voicenote-ingest-go/internal/platform/storage/migrations"
)

// TranscriptionRecord is one row of the transcription audit log.
type TranscriptionRecord struct {
	ID              string         `gorm:"primaryKey;size:64"`
	AudioPath       string         `gorm:"index;not null"`
	NotePath        string         `gorm:"not null"`
	Provider        string         `gorm:"size:32"`
	Chunks          int            `gorm:"not null;default:0"`
	DurationSeconds float64        `gorm:"not null;default:0"`
	Status          string         `gorm:"size:16;index;not null"`
	Error           string         `gorm:"type:text"`
	Polished        bool           `gorm:"not null;default:false"`
	Metadata        datatypes.JSON `gorm:"type:json"`
	CreatedAt       time.Time      `gorm:"index;not null"`
}

func (TranscriptionRecord) TableName() string {
	return "transcription_history"
}

// OpenSQLite opens (creating parent directories) the sqlite database at path
// and applies pending migrations. path may also be a "file:" DSN.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if !isDSN(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies every registered migration to db.
func Migrate(db *gorm.DB) error {
	manager := NewMigrationManager(db,
		&migrations.Migration001TranscriptionHistory{},
	)
	return manager.RunMigrations()
}

// Close releases the underlying sql.DB.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDSN(path string) bool {
	return len(path) >= 5 && path[:5] == "file:"
}
