package dispatcher_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/transcription-service/internal/dispatcher"
)

func TestInProcessDispatchesEachJob(t *testing.T) {
	var processed int32

	var wg sync.WaitGroup

	wg.Add(3)

	work := func(_ context.Context, jobID string) {
		atomic.AddInt32(&processed, 1)
		wg.Done()
	}

	d := dispatcher.NewInProcess(dispatcher.InProcessConfig{Workers: 2, QueueSize: 10}, work, slog.Default())
	defer d.Stop()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if err := d.Enqueue(context.Background(), id); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitTimeout(t, &wg, time.Second)

	if atomic.LoadInt32(&processed) != 3 {
		t.Fatalf("expected 3 jobs processed, got %d", processed)
	}
}

func TestInProcessDeduplicatesInFlightJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var calls int32

	work := func(_ context.Context, jobID string) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
	}

	d := dispatcher.NewInProcess(dispatcher.InProcessConfig{Workers: 1, QueueSize: 10}, work, slog.Default())
	defer func() {
		close(release)
		d.Stop()
	}()

	if err := d.Enqueue(context.Background(), "dup"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	<-started

	if err := d.Enqueue(context.Background(), "dup"); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call while job in flight, got %d", calls)
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for jobs to process")
	}
}
