package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// DefaultLimit 默认保留的记录条数
const DefaultLimit = 500

// Record 一次转写运行的审计记录。笔记是否存在才是幂等依据，这里只做记录。
type Record struct {
	ID              string         `json:"id"`
	AudioPath       string         `json:"audio_path"`
	NotePath        string         `json:"note_path,omitempty"`
	Provider        string         `json:"provider"`
	Chunks          int            `json:"chunks"`
	DurationSeconds float64        `json:"duration_seconds"`
	Status          Status         `json:"status"`
	Error           string         `json:"error,omitempty"`
	Polished        bool           `json:"polished"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// withDefaults 补齐 ID 与时间
func (r Record) withDefaults() Record {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	return r
}

// Store 转写历史存储
type Store interface {
	Append(ctx context.Context, rec Record) error
	// Recent 按时间倒序返回最近的记录，limit <= 0 时使用存储上限
	Recent(ctx context.Context, limit int) ([]Record, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the store selection parameters.
type Config struct {
	Driver string
	Limit  int
	Redis  *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

func (c Config) limit() int {
	if c.Limit <= 0 {
		return DefaultLimit
	}
	return c.Limit
}

func clampLimit(requested, max int) int {
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}
