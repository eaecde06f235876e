package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func job(id string) Job {
	return Job{ID: id, Partition: "u1/movie", Run: func(context.Context) {}}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithName("u1/movie"))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, job("job1")); err != nil {
		t.Errorf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	j := <-q.Dequeue(ctx)
	if j.ID != "job1" {
		t.Errorf("expected job1, got %v", j.ID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("job1")); err != nil {
		t.Errorf("expected enqueue to succeed, got %v", err)
	}
	if err := q.Enqueue(ctx, job("job2")); err != nil {
		t.Errorf("expected enqueue to succeed, got %v", err)
	}
	if err := q.Enqueue(ctx, job("job3")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_FIFO(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, job(fmt.Sprintf("job%d", i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	_ = q.Close()

	i := 0
	for j := range q.Dequeue(ctx) {
		if want := fmt.Sprintf("job%d", i); j.ID != want {
			t.Errorf("expected %s, got %s", want, j.ID)
		}
		i++
	}
	if i != 5 {
		t.Errorf("expected 5 jobs drained after close, got %d", i)
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const producers, perProducer = 10, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for q.Enqueue(ctx, job(fmt.Sprintf("job%d_%d", p, i))) != nil {
					time.Sleep(time.Millisecond)
				}
			}
		}(p)
	}

	consumed := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range q.Dequeue(ctx) {
			consumed++
		}
	}()

	wg.Wait()
	_ = q.Close()
	<-done

	if consumed != producers*perProducer {
		t.Errorf("expected %d jobs, got %d", producers*perProducer, consumed)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.Enqueue(ctx, job("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	select {
	case _, ok := <-q.Dequeue(ctx):
		if ok {
			t.Error("expected no jobs from a closed empty queue")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("expected dequeue channel to be closed within timeout")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}

func TestInMemoryQueue_CancelledEnqueue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A full queue with a cancelled context reports one of the two reasons.
	_ = q.Enqueue(context.Background(), job("fill"))
	err := q.Enqueue(ctx, job("late"))
	if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrFull) {
		t.Errorf("expected cancellation or ErrFull, got %v", err)
	}
}
