package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits step*n before retry n and stops after maxRetries.
// It is not safe for concurrent use; build one per logical request.
type linearBackOff struct {
	step       time.Duration
	maxRetries int
	retries    int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(step time.Duration, attempts int) *linearBackOff {
	return &linearBackOff{step: step, maxRetries: attempts - 1}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.retries >= b.maxRetries {
		return backoff.Stop
	}
	b.retries++
	return b.step * time.Duration(b.retries)
}

func (b *linearBackOff) Reset() {
	b.retries = 0
}
