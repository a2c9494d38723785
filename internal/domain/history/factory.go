package history

import (
	"fmt"

	"gorm.io/gorm"

	"voicenote-ingest-go/internal/platform/config"
)

// Driver identifiers supported by the history store.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a history store based on the provided configuration.
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB, cfg)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported history store driver: %s", driver)
	}
}

// ConfigFrom maps the application history section onto store options.
func ConfigFrom(cfg config.HistoryConfig) Config {
	out := Config{Driver: cfg.Driver, Limit: cfg.Limit}
	if cfg.Redis.Addr != "" {
		out.Redis = &RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}
	return out
}
