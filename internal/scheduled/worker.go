package scheduled

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Processor runs a single sweep.
type Processor interface {
	Process(ctx context.Context) (*Result, error)
}

// Worker triggers a sweep on a fixed interval. Sweeps never overlap within one worker.
type Worker struct {
	processor Processor
	interval  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new sweep worker.
func NewWorker(processor Processor, interval time.Duration) *Worker {
	return &Worker{
		processor: processor,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting scheduled message worker", "interval", w.interval)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop waits for the running sweep, if any, and stops the worker.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("scheduled message worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	result, err := w.processor.Process(ctx)
	if err != nil {
		slog.Error("scheduled message sweep failed", "error", err)
		return
	}
	slog.Debug("scheduled message sweep finished", "processed", result.Processed)
}
