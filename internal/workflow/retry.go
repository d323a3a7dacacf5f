package workflow

import "time"

// BackoffStrategy computes the wait between attempts. Attempt numbering starts
// at 1 for the wait that follows the first failure.
type BackoffStrategy interface {
	Delay(attempt int, base time.Duration) time.Duration
}

// FixedBackoff waits the step's base delay between every attempt. It is the
// default strategy.
type FixedBackoff struct{}

// Delay returns the base delay regardless of attempt count.
func (FixedBackoff) Delay(_ int, base time.Duration) time.Duration {
	return base
}

// ExponentialBackoff doubles (or multiplies by Factor) the base delay on every
// failed attempt, capped at Max when Max is positive.
type ExponentialBackoff struct {
	Factor float64
	Max    time.Duration
}

// Delay grows the base delay geometrically with the attempt count.
func (b ExponentialBackoff) Delay(attempt int, base time.Duration) time.Duration {
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}
	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= factor
	}
	result := time.Duration(delay)
	if b.Max > 0 && result > b.Max {
		return b.Max
	}
	return result
}

// RetryPolicy bounds attempts for one step. Strategy is pluggable; a nil
// Strategy means fixed-delay.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Strategy    BackoffStrategy
}

// Attempts returns the attempt budget, treating zero as a single attempt.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Wait returns the delay before the next attempt.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	strategy := p.Strategy
	if strategy == nil {
		strategy = FixedBackoff{}
	}
	return strategy.Delay(attempt, p.Backoff)
}

// OnError selects what happens when a step exhausts its attempts.
type OnError string

const (
	// OnErrorAbort stops the whole execution. It is the default policy.
	OnErrorAbort OnError = "abort"
	// OnErrorContinue stores an error marker as the step's result and lets
	// later layers run.
	OnErrorContinue OnError = "continue"
)

func (p OnError) normalized() OnError {
	if p == OnErrorContinue {
		return OnErrorContinue
	}
	return OnErrorAbort
}
