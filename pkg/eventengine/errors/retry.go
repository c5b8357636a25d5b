package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is a producer-side retry policy. The bus never retries on its
// own; producers that would rather wait than drop an event wrap Publish in
// Backoff.Retry.
type Backoff struct {
	Attempts int // total tries including the first; <1 means 1
	Initial  time.Duration
	Max      time.Duration // 0 disables the cap
	Factor   float64       // <1 means a constant delay
	Jitter   float64       // fraction of the delay, 0..1

	// Retryable overrides IsRetryable.
	Retryable func(error) bool
}

// DefaultBackoff absorbs a queue that is full for a few milliseconds.
var DefaultBackoff = Backoff{
	Attempts: 5,
	Initial:  10 * time.Millisecond,
	Max:      time.Second,
	Factor:   2,
	Jitter:   0.1,
}

// NoBackoff tries exactly once.
var NoBackoff = Backoff{Attempts: 1}

// BackoffOption adjusts a Backoff built by NewBackoff.
type BackoffOption func(*Backoff)

// NewBackoff starts from DefaultBackoff and applies opts.
func NewBackoff(opts ...BackoffOption) Backoff {
	b := DefaultBackoff
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Attempts sets the total number of tries.
func Attempts(n int) BackoffOption {
	return func(b *Backoff) { b.Attempts = n }
}

// InitialDelay sets the wait after the first failure.
func InitialDelay(d time.Duration) BackoffOption {
	return func(b *Backoff) { b.Initial = d }
}

// MaxDelay caps the wait between tries.
func MaxDelay(d time.Duration) BackoffOption {
	return func(b *Backoff) { b.Max = d }
}

// Jitter sets the random spread applied to each wait.
func Jitter(f float64) BackoffOption {
	return func(b *Backoff) { b.Jitter = f }
}

// RetryIf replaces the retryability check.
func RetryIf(fn func(error) bool) BackoffOption {
	return func(b *Backoff) { b.Retryable = fn }
}

// Retry calls op until it succeeds, fails with a non-retryable error, or
// the attempts run out. It returns how many times op ran. Failures come
// back as *CategorizedError carrying that count.
func (b Backoff) Retry(ctx context.Context, op func(context.Context) error) (int, error) {
	retryable := b.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	limit := max(b.Attempts, 1)

	var err error
	for n := 1; n <= limit; n++ {
		if cerr := ctx.Err(); cerr != nil {
			return n - 1, &CategorizedError{Err: cerr, Category: CategoryPermanent, Retries: n - 1, Context: "cancelled"}
		}

		if err = op(ctx); err == nil {
			return n, nil
		}
		if !retryable(err) {
			return n, &CategorizedError{Err: err, Category: Categorize(err), Retries: n}
		}
		if n == limit {
			break
		}

		t := time.NewTimer(b.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return n, &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Retries: n, Context: "cancelled"}
		case <-t.C:
		}
	}
	return limit, &CategorizedError{Err: err, Category: Categorize(err), Retries: limit, Context: "gave up"}
}

// delay returns the wait after the n-th failed attempt.
func (b Backoff) delay(n int) time.Duration {
	d := float64(b.Initial)
	if b.Factor > 1 {
		for i := 1; i < n; i++ {
			d *= b.Factor
			if b.Max > 0 && d >= float64(b.Max) {
				break
			}
		}
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return jittered(time.Duration(d), b.Jitter)
}

// jittered spreads d uniformly over d ± d*f.
func jittered(d time.Duration, f float64) time.Duration {
	if f <= 0 || d <= 0 {
		return d
	}
	f = min(f, 1)
	return d + time.Duration(float64(d)*f*(rand.Float64()*2-1))
}
