package scheduled

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingProcessor struct {
	calls atomic.Int32
	err   error
}

func (p *countingProcessor) Process(context.Context) (*Result, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Result{Processed: 0, Timestamp: time.Now()}, nil
}

func TestWorker_RunsSweepsOnInterval(t *testing.T) {
	p := &countingProcessor{}
	w := NewWorker(p, 10*time.Millisecond)

	w.Start(context.Background())
	assert.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	w.Stop()

	stopped := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, p.calls.Load())
}

func TestWorker_KeepsRunningAfterFailedSweep(t *testing.T) {
	p := &countingProcessor{err: errors.New("scan failed")}
	w := NewWorker(p, 10*time.Millisecond)

	w.Start(context.Background())
	defer w.Stop()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestWorker_StopsWhenContextCancelled(t *testing.T) {
	p := &countingProcessor{}
	w := NewWorker(p, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	w := NewWorker(&countingProcessor{}, time.Hour)
	w.Start(context.Background())

	w.Stop()
	assert.NotPanics(t, w.Stop)
}
