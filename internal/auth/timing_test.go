package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestTimingDelay_WaitFrom_PadsToBase(t *testing.T) {
	td := auth.NewTimingDelay(50*time.Millisecond, 0)
	start := time.Now()

	td.WaitFrom(context.Background(), start)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTimingDelay_WaitFrom_NoExtraWhenElapsed(t *testing.T) {
	td := auth.NewTimingDelay(20*time.Millisecond, 0)
	start := time.Now().Add(-time.Second)

	before := time.Now()
	td.WaitFrom(context.Background(), start)

	assert.Less(t, time.Since(before), 10*time.Millisecond)
}

func TestTimingDelay_WaitFrom_RespectsContext(t *testing.T) {
	td := auth.NewTimingDelay(5*time.Second, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	td.WaitFrom(ctx, start)

	assert.Less(t, time.Since(start), time.Second)
}

func TestTimingDelay_NilIsNoop(t *testing.T) {
	var td *auth.TimingDelay
	start := time.Now()
	td.WaitFrom(context.Background(), start)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
