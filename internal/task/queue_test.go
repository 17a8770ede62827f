package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"copy-relay/internal/config"
)

func TestQueue_ExecutesEnqueuedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(config.QueueConfig{Workers: 2, BufferSize: 8}, nil)
	q.Start(ctx)

	var wg sync.WaitGroup
	var count int64
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := q.Enqueue("count", func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
		if !ok {
			t.Fatalf("Enqueue returned false")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("tasks did not finish in time")
	}

	if got := atomic.LoadInt64(&count); got != 5 {
		t.Fatalf("executed %d tasks, want 5", got)
	}

	cancel()
	if err := q.Wait(); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(config.QueueConfig{Workers: 1, BufferSize: 1}, nil)
	// 未启动 worker，缓冲区只有一个位置。
	if ok := q.Enqueue("first", func(ctx context.Context) {}); !ok {
		t.Fatalf("first Enqueue should succeed")
	}
	if ok := q.Enqueue("second", func(ctx context.Context) {}); ok {
		t.Fatalf("second Enqueue should be dropped")
	}
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(config.QueueConfig{Workers: 1, BufferSize: 4}, nil)
	q.Start(ctx)

	ran := make(chan struct{})
	q.Enqueue("boom", func(ctx context.Context) { panic("boom") })
	q.Enqueue("after", func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive panicking task")
	}
}

func TestQueue_SchedulePeriodic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(config.QueueConfig{Workers: 1, BufferSize: 8}, nil)

	if err := q.SchedulePeriodic(ctx, "tick", 10*time.Millisecond, func(ctx context.Context) {}); err == nil {
		t.Fatalf("SchedulePeriodic before Start should fail")
	}

	q.Start(ctx)

	var ticks int64
	if err := q.SchedulePeriodic(ctx, "tick", 10*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt64(&ticks, 1)
	}); err != nil {
		t.Fatalf("SchedulePeriodic returned error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&ticks) < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 ticks, got %d", atomic.LoadInt64(&ticks))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
