package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/settlement"
)

type countingRunner struct {
	runs atomic.Int32
	err  error
}

func (c *countingRunner) RunCycle(ctx context.Context) (settlement.Report, error) {
	c.runs.Add(1)
	return settlement.Report{}, c.err
}

func TestRunLoop_RunsImmediatelyAndOnEachTick(t *testing.T) {
	r := &countingRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runLoop(ctx, r, 10*time.Millisecond, logging.Discard())
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runLoop did not stop after cancel")
	}
}

func TestRunLoop_KeepsGoingWhenWindowIsHeld(t *testing.T) {
	r := &countingRunner{err: settlement.ErrCycleInProgress}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runLoop(ctx, r, 5*time.Millisecond, logging.Discard())

	assert.Eventually(t, func() bool { return r.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}
