package migrations

import (
	"gorm.io/gorm"
)

// Migration001TranscriptionHistory 创建转写历史表
type Migration001TranscriptionHistory struct{}

func (m *Migration001TranscriptionHistory) Version() string {
	return "001_transcription_history"
}

func (m *Migration001TranscriptionHistory) Description() string {
	return "Create transcription history table"
}

func (m *Migration001TranscriptionHistory) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcription_history (
			id VARCHAR(64) PRIMARY KEY,
			audio_path VARCHAR(1024) NOT NULL,
			note_path VARCHAR(1024) NOT NULL,
			provider VARCHAR(32),
			chunks INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			error TEXT,
			polished BOOLEAN NOT NULL DEFAULT 0,
			metadata JSON,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_transcription_history_audio_path ON transcription_history(audio_path)`,
		`CREATE INDEX IF NOT EXISTS idx_transcription_history_status ON transcription_history(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transcription_history_created_at ON transcription_history(created_at)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration001TranscriptionHistory) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS transcription_history`).Error
}
