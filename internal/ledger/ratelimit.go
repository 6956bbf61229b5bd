package ledger

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is the single shared gate in front of ledger submission. All
// submission paths acquire through it before calling the client.
type RateLimiter struct {
	limiter      *rate.Limiter
	maxBatchSize int
}

func NewRateLimiter(tps float64, maxBatchSize int) *RateLimiter {
	if tps <= 0 {
		tps = 1
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 10
	}
	burst := maxBatchSize
	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(tps), burst),
		maxBatchSize: maxBatchSize,
	}
}

// TryAdmit consumes one token when available. It never waits; a false return
// routes the item to the batch aggregator instead.
func (l *RateLimiter) TryAdmit() bool {
	return l.limiter.Allow()
}

// Admit reserves cost tokens and returns the wait required before the
// reservation is usable. The caller suspends for the returned duration; the
// limiter itself never blocks.
func (l *RateLimiter) Admit(cost int) (time.Duration, error) {
	if cost <= 0 {
		cost = 1
	}
	if cost > l.maxBatchSize {
		return 0, fmt.Errorf("rate limiter: cost %d exceeds max batch size %d", cost, l.maxBatchSize)
	}
	res := l.limiter.ReserveN(time.Now(), cost)
	if !res.OK() {
		return 0, fmt.Errorf("rate limiter: cannot reserve %d tokens", cost)
	}
	return res.Delay(), nil
}

func (l *RateLimiter) MaxBatchSize() int {
	return l.maxBatchSize
}
