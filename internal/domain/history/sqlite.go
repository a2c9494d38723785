package history

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"voicenote-ingest-go/internal/platform/storage"
)

type sqliteStore struct {
	db    *gorm.DB
	limit int
}

// NewSQLite builds a SQLite-backed history store on an already migrated database.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db, limit: cfg.limit()}, nil
}

func (s *sqliteStore) Append(ctx context.Context, rec Record) error {
	rec = rec.withDefaults()
	var meta []byte
	if len(rec.Metadata) > 0 {
		var err error
		if meta, err = sonic.Marshal(rec.Metadata); err != nil {
			return err
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &storage.TranscriptionRecord{
			ID:              rec.ID,
			AudioPath:       rec.AudioPath,
			NotePath:        rec.NotePath,
			Provider:        rec.Provider,
			Chunks:          rec.Chunks,
			DurationSeconds: rec.DurationSeconds,
			Status:          string(rec.Status),
			Error:           rec.Error,
			Polished:        rec.Polished,
			Metadata:        meta,
			CreatedAt:       rec.CreatedAt,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		// 只保留最近 limit 条
		keep := tx.Session(&gorm.Session{NewDB: true}).Model(&storage.TranscriptionRecord{}).
			Select("id").Order("created_at DESC").Limit(s.limit)
		return tx.Where("id NOT IN (?)", keep).Delete(&storage.TranscriptionRecord{}).Error
	})
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	var rows []storage.TranscriptionRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit, s.limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			ID:              row.ID,
			AudioPath:       row.AudioPath,
			NotePath:        row.NotePath,
			Provider:        row.Provider,
			Chunks:          row.Chunks,
			DurationSeconds: row.DurationSeconds,
			Status:          Status(row.Status),
			Error:           row.Error,
			Polished:        row.Polished,
			CreatedAt:       row.CreatedAt,
		}
		if len(row.Metadata) > 0 {
			_ = sonic.Unmarshal(row.Metadata, &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	type bucket struct {
		Status string
		Count  int64
	}
	var buckets []bucket
	err := s.db.WithContext(ctx).
		Model(&storage.TranscriptionRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}

	stats := map[string]any{"type": DriverSQLite, "success": int64(0), "failed": int64(0)}
	var total int64
	for _, b := range buckets {
		stats[b.Status] = b.Count
		total += b.Count
	}
	stats["total"] = total
	return stats, nil
}

func (s *sqliteStore) Close(context.Context) error {
	// 数据库句柄由调用方持有并关闭
	return nil
}
