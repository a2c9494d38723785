package asr

import (
	"context"
	"time"

	"voicenote-ingest-go/internal/platform/logging"
)

// DefaultBackoffBase is the unit of the 2^attempt backoff.
const DefaultBackoffBase = time.Second

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy retries retriable errors up to Retries times after the first
// attempt, waiting Base * 2^n before retry n.
type RetryPolicy struct {
	Retries int
	Base    time.Duration
	Sleep   SleepFunc
}

// Backoff returns the delay before retry n (0-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	return base * time.Duration(1<<uint(n))
}

// Do runs op until it succeeds, fails with a non-retriable error or the
// retries are exhausted. op receives the 0-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, logger *logging.Logger, name string, op func(attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(attempt)
		if err == nil || !IsRetriable(err) || attempt >= p.Retries {
			return err
		}
		delay := p.Backoff(attempt)
		logger.WarnTag("ASR", "%s 第 %d 次请求失败，%v 后重试: %v", name, attempt+1, delay, err)
		if serr := sleep(ctx, delay); serr != nil {
			return FromTransport(serr)
		}
	}
}
