package workflow

import (
	"context"
	"math/rand/v2"
	"time"

	"recipes/internal/domain"
)

// RetryConfig bounds how often a transient provider failure is retried.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// backoff doubles BaseDelay per attempt, caps it at MaxDelay and applies
// +/-25% jitter.
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 1; i < attempt && delay < c.MaxDelay; i++ {
		delay *= 2
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	jitter := float64(delay) * 0.25 * (rand.Float64()*2 - 1)
	return delay + time.Duration(jitter)
}

// retry runs op until it succeeds, fails with a non-transient error, the
// attempts are exhausted or ctx is done. onFailure sees every failed attempt.
func retry(ctx context.Context, cfg RetryConfig, onFailure func(attempt int, err error), op func(ctx context.Context) error) error {
	cfg = cfg.normalized()
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if !domain.IsTransient(err) || attempt == cfg.MaxAttempts {
			return err
		}
		timer := time.NewTimer(cfg.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
