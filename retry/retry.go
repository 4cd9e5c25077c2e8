package retry

import (
	"context"
	"time"

	"github.com/firasabs/medSmartContract/log"
)

// Config for a bounded exponential retry
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	MaxAttempts  int
}

// Defaults
var Defaults = Config{
	InitialDelay: 1 * time.Second,
	MaxDelay:     10 * time.Second,
	Factor:       2.0,
	MaxAttempts:  3,
}

type Retry struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	maxAttempts  int
}

// New builds a Retry, falling back to Defaults for unset values.
// MaxAttempts is always bounded.
func New(conf Config) *Retry {
	r := &Retry{
		initialDelay: conf.InitialDelay,
		maxDelay:     conf.MaxDelay,
		factor:       conf.Factor,
		maxAttempts:  conf.MaxAttempts,
	}
	if r.initialDelay <= 0 {
		r.initialDelay = Defaults.InitialDelay
	}
	if r.maxDelay <= 0 {
		r.maxDelay = Defaults.MaxDelay
	}
	if r.factor < 1.0 {
		r.factor = Defaults.Factor
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = Defaults.MaxAttempts
	}
	return r
}

// MaxAttempts returns the attempt bound
func (r *Retry) MaxAttempts() int {
	return r.maxAttempts
}

// Do invokes the function until it succeeds, returns retryable=false, or the
// attempts are exhausted. The last error is returned.
func (r *Retry) Do(ctx context.Context, do func(attempt int) (retryable bool, err error)) error {
	attempt := 0
	for {
		attempt++
		retry, err := do(attempt)
		if err != nil {
			log.L(ctx).Errorf("%s (attempt=%d/%d)", err, attempt, r.maxAttempts)
		}
		if !retry || err == nil || attempt >= r.maxAttempts {
			return err
		}
		if waitErr := r.WaitDelay(ctx, attempt); waitErr != nil {
			return err
		}
	}
}

// Delay returns the backoff before the retry that follows failureCount failures
func (r *Retry) Delay(failureCount int) time.Duration {
	if failureCount <= 0 {
		return 0
	}
	delay := r.initialDelay
	for i := 0; i < failureCount-1; i++ {
		delay = time.Duration(float64(delay) * r.factor)
		if delay > r.maxDelay {
			return r.maxDelay
		}
	}
	return delay
}

func (r *Retry) WaitDelay(ctx context.Context, failureCount int) error {
	delay := r.Delay(failureCount)
	if delay <= 0 {
		return ctx.Err()
	}
	log.L(ctx).Debugf("Retrying after %.2fs (failures=%d)", delay.Seconds(), failureCount)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
