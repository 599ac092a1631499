package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls int32
	err   error
}

func (c *countingSweeper) SweepShippedFollowups(context.Context) (*BatchResult, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return &BatchResult{Trigger: triggerFollowup}, nil
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	sw := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(sw, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&sw.calls) >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_KeepsGoingAfterFailure(t *testing.T) {
	sw := &countingSweeper{err: errors.New("scan failed")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewScheduler(sw, 5*time.Millisecond).Run(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&sw.calls) >= 2 }, time.Second, time.Millisecond)
}
