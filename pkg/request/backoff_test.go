package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:  5,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		JitterFactor: 0.5,
	}
	noJitter := func() float64 { return 0 }
	fullJitter := func() float64 { return 1 }

	tests := []struct {
		name   string
		retry  int
		random func() float64
		want   time.Duration
	}{
		{name: "first retry", retry: 1, random: noJitter, want: 100 * time.Millisecond},
		{name: "second retry doubles", retry: 2, random: noJitter, want: 200 * time.Millisecond},
		{name: "third retry", retry: 3, random: noJitter, want: 400 * time.Millisecond},
		{name: "capped", retry: 10, random: noJitter, want: time.Second},
		{name: "zero treated as first", retry: 0, random: noJitter, want: 100 * time.Millisecond},
		{name: "jitter is additive", retry: 2, random: fullJitter, want: 300 * time.Millisecond},
		{name: "jitter applies after cap", retry: 10, random: fullJitter, want: 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.delay(tt.retry, tt.random))
		})
	}
}

func TestRetryPolicyDelayStrictlyIncreasingBelowCap(t *testing.T) {
	p := DefaultRetryPolicy()
	prev := time.Duration(0)
	for retry := 1; retry <= 6; retry++ {
		d := p.Delay(retry)
		assert.Greater(t, d, prev, "retry %d", retry)
		prev = d
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	valid := DefaultRetryPolicy()

	tests := []struct {
		name    string
		mutate  func(p *RetryPolicy)
		wantErr bool
	}{
		{name: "default", mutate: func(*RetryPolicy) {}},
		{name: "single attempt", mutate: func(p *RetryPolicy) { p.MaxAttempts = 1 }},
		{name: "no attempts", mutate: func(p *RetryPolicy) { p.MaxAttempts = 0 }, wantErr: true},
		{name: "zero base delay", mutate: func(p *RetryPolicy) { p.BaseDelay = 0 }, wantErr: true},
		{name: "max below base", mutate: func(p *RetryPolicy) { p.MaxDelay = p.BaseDelay / 2 }, wantErr: true},
		{name: "shrinking multiplier", mutate: func(p *RetryPolicy) { p.Multiplier = 0.5 }, wantErr: true},
		{name: "negative jitter", mutate: func(p *RetryPolicy) { p.JitterFactor = -0.1 }, wantErr: true},
		{name: "jitter above one", mutate: func(p *RetryPolicy) { p.JitterFactor = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
