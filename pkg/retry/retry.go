package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Fixed waits InitialDelay between every attempt instead of backing off.
	Fixed bool
	// RetryIf limits retries to errors it accepts. Nil retries every error.
	RetryIf func(error) bool
	// OnRetry is called after failed attempts accepted by RetryIf.
	OnRetry func(attempt uint, err error)
}

// DefaultConfig returns default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// FixedConfig returns a configuration making attempts tries spaced by delay.
func FixedConfig(attempts uint, delay time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1,
		Fixed:        true,
	}
}

func (c Config) options(ctx context.Context) []retry.Option {
	attempts := c.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.InitialDelay),
		retry.LastErrorOnly(true),
	}
	if c.Fixed {
		opts = append(opts, retry.DelayType(retry.FixedDelay))
	} else {
		opts = append(opts, retry.MaxDelay(c.MaxDelay), retry.DelayType(retry.BackOffDelay))
	}
	if c.RetryIf != nil {
		opts = append(opts, retry.RetryIf(c.RetryIf))
	}
	if c.OnRetry != nil {
		opts = append(opts, retry.OnRetry(c.OnRetry))
	}
	return opts
}

// Do executes fn until it succeeds, the attempts run out, RetryIf rejects
// the error, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return retry.Do(fn, cfg.options(ctx)...)
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn, cfg.options(ctx)...)
}
