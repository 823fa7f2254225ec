// Package background runs side effects that must not hold up the response,
// such as notifying admins, and lets shutdown wait for them.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const taskTimeout = 30 * time.Second

var ErrShuttingDown = errors.New("background: shutting down")

type Background struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

func New(log logrus.FieldLogger) *Background {
	return &Background{log: log}
}

// Go runs fn on its own goroutine. The task context outlives the request
// that scheduled it but keeps its values. Errors and panics are logged.
func (b *Background) Go(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrShuttingDown
	}
	b.inFlight.Add(1)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), taskTimeout)

	go func() {
		defer b.inFlight.Done()
		defer cancel()

		if err := b.run(ctx, fn); err != nil {
			b.log.WithError(err).WithField("task", name).Error("background task failed")
		}
	}()
	return nil
}

func (b *Background) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Shutdown refuses new tasks and waits for running ones until ctx is done.
func (b *Background) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
