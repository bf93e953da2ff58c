package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/chess-relay/internal/obslog"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("archive: queue closed")

// Sink stores or forwards a finished game.
type Sink interface {
	Save(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Save(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Multi calls every sink and joins their errors.
type Multi []Sink

func (m Multi) Save(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async runs a Sink on a single background worker so archiving never
// blocks message dispatch. Records offered while the queue is full are dropped.
type Async struct {
	sink    Sink
	queue   chan Record
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(sink Sink, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = 128
	}
	if logger == nil {
		logger = obslog.L()
	}
	a := &Async{
		sink:    sink,
		queue:   make(chan Record, size),
		timeout: 10 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Submit enqueues rec without blocking.
func (a *Async) Submit(rec Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- rec:
		return nil
	default:
		a.logger.Warn("archive_queue_full", zap.String("game_id", rec.GameID))
		return errors.New("archive: queue full")
	}
}

func (a *Async) run() {
	defer close(a.done)
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.sink.Save(ctx, rec)
		cancel()
		if err != nil {
			a.logger.Error("archive_save_failed", zap.String("game_id", rec.GameID), zap.Error(err))
			continue
		}
		a.logger.Debug("archive_saved", zap.String("game_id", rec.GameID), zap.String("result", rec.Result))
	}
}

// Close stops intake and waits for queued records until ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
