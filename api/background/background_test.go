package background

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestShutdownWaitsForTasks(t *testing.T) {
	bg := New(quietLogger())

	var done atomic.Int32
	for i := 0; i < 3; i++ {
		err := bg.Go(context.Background(), "sleep", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bg.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := done.Load(); got != 3 {
		t.Fatalf("expected 3 finished tasks, got %d", got)
	}

	if err := bg.Go(context.Background(), "late", func(context.Context) error { return nil }); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestTaskOutlivesRequestContext(t *testing.T) {
	bg := New(quietLogger())

	reqCtx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	_ = bg.Go(reqCtx, "notify", func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		result <- ctx.Err()
		return nil
	})
	cancel()

	if err := <-result; err != nil {
		t.Fatalf("task context was cancelled with the request: %v", err)
	}
}

func TestPanicIsContained(t *testing.T) {
	bg := New(quietLogger())
	_ = bg.Go(context.Background(), "boom", func(context.Context) error { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bg.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown after panic: %v", err)
	}
}
