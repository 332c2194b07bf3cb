package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// TimingDelay pads failed authentication responses to a randomized minimum
// duration so that failure causes are indistinguishable by latency.
type TimingDelay struct {
	base   time.Duration
	jitter time.Duration
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(base, jitter time.Duration) *TimingDelay {
	return &TimingDelay{base: base, jitter: jitter}
}

func cryptoRandIntn(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func (td *TimingDelay) target() time.Duration {
	d := td.base
	if td.jitter > 0 {
		if n, err := cryptoRandIntn(int(td.jitter / time.Millisecond)); err == nil {
			d += time.Duration(n) * time.Millisecond
		}
	}
	return d
}

// WaitFrom sleeps until at least the target delay has elapsed since start,
// or ctx is done.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time) {
	if td == nil {
		return
	}
	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
