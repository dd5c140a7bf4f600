package resilience

import (
	"math/rand/v2"
	"time"

	"github.com/use-agent/casefinder/models"
)

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Stop is the zero Decision.
var Stop = Decision{}

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. It holds no mutable state and is safe for concurrent use.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// jitter returns a value in [0, n]. Nil uses math/rand/v2.
	jitter func(n int64) int64
}

// NewRetryPolicy returns a policy with sane floors applied.
func NewRetryPolicy(maxAttempts int, base, maxDelay time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if base < 0 {
		base = 0
	}
	if maxDelay < base {
		maxDelay = base
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: maxDelay}
}

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func Retryable(kind models.ErrorKind) bool {
	switch kind {
	case models.KindTimeout, models.KindBlocked, models.KindConnectionReset, models.KindNavigation:
		return true
	default:
		return false
	}
}

// Decide is called after attempt number `attempt` (1-based) failed with kind.
// Whether to retry depends only on its arguments; the delay is drawn
// uniformly from [0, Ceiling(attempt)].
func (p RetryPolicy) Decide(attempt int, kind models.ErrorKind) Decision {
	if attempt < 1 || attempt >= p.MaxAttempts || !Retryable(kind) {
		return Stop
	}
	return Decision{Retry: true, Delay: p.jittered(p.Ceiling(attempt))}
}

// Ceiling is base * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Ceiling(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) jittered(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	if p.jitter != nil {
		return time.Duration(p.jitter(int64(ceiling)))
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
