package queue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffConfig shapes the retry delay after a failed delivery.
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// DefaultBackoff returns 30s doubling up to 30m.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    30 * time.Second,
		Max:        30 * time.Minute,
		Multiplier: 2,
	}
}

// Delay returns the wait before the next attempt once attempts deliveries
// have failed. There is no jitter, so equal inputs give equal delays.
func (b BackoffConfig) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.MaxInterval = b.Max
	eb.Multiplier = b.Multiplier
	eb.RandomizationFactor = 0
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = eb.NextBackOff()
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	return b
}
