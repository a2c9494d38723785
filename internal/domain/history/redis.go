package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
	limit  int
}

// NewRedis creates a Redis-backed history store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis driver requires address")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.Redis.Prefix, ":")
	if prefix == "" {
		prefix = "voicenote:history"
	}

	return &redisStore{client: client, prefix: prefix, limit: cfg.limit()}, nil
}

func (s *redisStore) recordsKey() string { return s.prefix + ":records" }
func (s *redisStore) statsKey() string   { return s.prefix + ":stats" }

// Append 新记录压到列表头部并裁剪到上限，计数单独放在 hash 里
func (s *redisStore) Append(ctx context.Context, rec Record) error {
	rec = rec.withDefaults()
	payload, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.recordsKey(), payload)
		pipe.LTrim(ctx, s.recordsKey(), 0, int64(s.limit-1))
		pipe.HIncrBy(ctx, s.statsKey(), string(rec.Status), 1)
		return nil
	})
	return err
}

func (s *redisStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	n := clampLimit(limit, s.limit)
	raw, err := s.client.LRange(ctx, s.recordsKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := sonic.UnmarshalString(item, &rec); err != nil {
			return nil, fmt.Errorf("decode history record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	total, err := s.client.LLen(ctx, s.recordsKey()).Result()
	if err != nil {
		return nil, err
	}
	counts, err := s.client.HGetAll(ctx, s.statsKey()).Result()
	if err != nil {
		return nil, err
	}

	stats := map[string]any{"type": DriverRedis, "total": total, "success": int64(0), "failed": int64(0)}
	for status, v := range counts {
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			stats[status] = n
		}
	}
	return stats, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
