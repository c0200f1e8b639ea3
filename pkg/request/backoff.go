package request

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds and paces retries of retryable outcomes.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1"`
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	// MaxDelay caps the exponential delay before jitter.
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	// Multiplier grows the delay per retry.
	Multiplier float64 `mapstructure:"multiplier" validate:"gte=1"`
	// JitterFactor adds a random 0..JitterFactor share of the delay.
	JitterFactor float64 `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// DefaultRetryPolicy returns default retry configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  6,
		BaseDelay:    1 * time.Second,
		MaxDelay:     64 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.25,
	}
}

// Validate checks the policy is usable.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be >= 1, not %d", p.MaxAttempts)
	case p.BaseDelay <= 0:
		return fmt.Errorf("base delay must be > 0, not %s", p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("multiplier must be >= 1, not %v", p.Multiplier)
	case p.JitterFactor < 0 || p.JitterFactor > 1:
		return fmt.Errorf("jitter must be within [0, 1], not %v", p.JitterFactor)
	}
	return nil
}

// Delay returns the wait before retry number retry (1 for the first retry).
func (p RetryPolicy) Delay(retry int) time.Duration {
	return p.delay(retry, rand.Float64)
}

func (p RetryPolicy) delay(retry int, random func() float64) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		delay += random() * p.JitterFactor * delay
	}
	return time.Duration(delay)
}
