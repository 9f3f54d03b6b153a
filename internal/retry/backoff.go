// Package retry re-runs idempotent reads with exponential backoff.
// Writes must never go through here: a retried append or request could
// duplicate its side effect.
package retry

import (
	"alumnet/backend/internal/storage"
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on any single delay
	Multiplier float64       // growth factor between retries
	Jitter     bool          // randomize delays into [delay/2, delay]
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Retryable reports whether err is worth another attempt. Domain failures and
// context cancellation are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !storage.IsDomainError(err)
}

// Do runs op until it succeeds, returns a non-retryable error, the retries are
// exhausted or ctx is done. It returns the last error from op.
func Do(ctx context.Context, cfg Config, log *zap.Logger, name string, op func(ctx context.Context) error) error {
	if log == nil {
		log = zap.NewNop()
	}

	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = op(ctx); err == nil || !Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.delay(attempt)
		log.Warn("retrying read",
			zap.String("op", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	log.Error("read failed after retries", zap.String("op", name), zap.Int("attempts", cfg.MaxRetries+1), zap.Error(err))
	return err
}

func (c Config) delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter && d > 0 {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}
