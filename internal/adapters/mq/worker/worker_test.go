package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/reelrank/internal/adapters/mq/queue"
	worker "github.com/okian/reelrank/internal/adapters/mq/worker"
	"github.com/smartystreets/goconvey/convey"
)

// recorder collects the order in which jobs ran.
type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) job(id string, d time.Duration) queue.Job {
	return queue.Job{ID: id, Run: func(context.Context) {
		time.Sleep(d)
		r.mu.Lock()
		r.ran = append(r.ran, id)
		r.mu.Unlock()
	}}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker draining a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		w := worker.NewInMemoryWorker(q, worker.WithName("test-worker"))
		rec := &recorder{}
		go w.Run(context.Background())

		convey.Convey("When jobs are queued and the queue is closed", func() {
			for i := 0; i < 3; i++ {
				convey.So(q.Enqueue(context.Background(), rec.job(fmt.Sprintf("j%d", i), time.Millisecond)), convey.ShouldBeNil)
			}
			_ = q.Close()
			err := w.Shutdown(context.Background())

			convey.Convey("Then every job ran in order before shutdown returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.snapshot(), convey.ShouldResemble, []string{"j0", "j1", "j2"})
			})
		})

		convey.Convey("When a job panics", func() {
			_ = q.Enqueue(context.Background(), queue.Job{ID: "bad", Run: func(context.Context) { panic("boom") }})
			_ = q.Enqueue(context.Background(), rec.job("good", 0))
			_ = q.Close()
			_ = w.Shutdown(context.Background())

			convey.Convey("Then the worker keeps going", func() {
				convey.So(rec.snapshot(), convey.ShouldResemble, []string{"good"})
			})
		})

		convey.Convey("When shutdown outlives its context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := w.Shutdown(ctx)
			_ = q.Close()

			convey.Convey("Then it reports the timeout", func() {
				convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool", t, func() {
		p := worker.NewPool(worker.WithQueueCapacity(8))
		rec := &recorder{}
		ctx := context.Background()

		convey.Convey("When jobs for one key are submitted", func() {
			convey.So(p.Submit(ctx, "u1/movie", rec.job("slow", 20*time.Millisecond)), convey.ShouldBeNil)
			convey.So(p.Submit(ctx, "u1/movie", rec.job("fast", 0)), convey.ShouldBeNil)
			convey.So(p.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then they run serially in submission order", func() {
				convey.So(rec.snapshot(), convey.ShouldResemble, []string{"slow", "fast"})
				convey.So(p.Workers(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When jobs for two keys are submitted", func() {
			convey.So(p.Submit(ctx, "u1/movie", rec.job("movie", 30*time.Millisecond)), convey.ShouldBeNil)
			convey.So(p.Submit(ctx, "u1/tv", rec.job("tv", 0)), convey.ShouldBeNil)
			convey.So(p.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then the keys do not wait for each other", func() {
				convey.So(rec.snapshot(), convey.ShouldResemble, []string{"tv", "movie"})
				convey.So(p.Workers(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a key's queue is full", func() {
			block := make(chan struct{})
			small := worker.NewPool(worker.WithQueueCapacity(1))
			_ = small.Submit(ctx, "k", queue.Job{ID: "hold", Run: func(context.Context) { <-block }})
			time.Sleep(10 * time.Millisecond)
			// One job waits in the dequeue hand-off, the next one fills the buffer.
			_ = small.Submit(ctx, "k", rec.job("queued-1", 0))
			time.Sleep(10 * time.Millisecond)
			_ = small.Submit(ctx, "k", rec.job("queued-2", 0))
			err := small.Submit(ctx, "k", rec.job("overflow", 0))
			close(block)
			_ = small.Shutdown(ctx)
			_ = p.Shutdown(ctx)

			convey.Convey("Then submit reports it", func() {
				convey.So(errors.Is(err, queue.ErrFull), convey.ShouldBeTrue)
				convey.So(rec.snapshot(), convey.ShouldResemble, []string{"queued-1", "queued-2"})
			})
		})

		convey.Convey("When the pool is shut down", func() {
			convey.So(p.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then new jobs are refused and a second shutdown is harmless", func() {
				convey.So(errors.Is(p.Submit(ctx, "k", rec.job("late", 0)), worker.ErrStopped), convey.ShouldBeTrue)
				convey.So(p.Shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPoolIdleWorkers(t *testing.T) {
	convey.Convey("Given a pool with a short idle timeout", t, func() {
		ctx := context.Background()
		p := worker.NewPool(worker.WithIdleTimeout(40 * time.Millisecond))
		defer func() { _ = p.Shutdown(ctx) }()
		rec := &recorder{}

		convey.Convey("When many partitions each run one job and then go quiet", func() {
			for i := range 50 {
				convey.So(p.Submit(ctx, fmt.Sprintf("u%d/movie", i), rec.job(fmt.Sprint(i), 0)), convey.ShouldBeNil)
			}
			convey.So(p.Workers(), convey.ShouldEqual, 50)
			time.Sleep(300 * time.Millisecond)

			convey.Convey("Then their workers are stopped", func() {
				convey.So(p.Workers(), convey.ShouldEqual, 0)
				convey.So(len(rec.snapshot()), convey.ShouldEqual, 50)
			})

			convey.Convey("Then a returning partition gets a fresh worker", func() {
				done := make(chan struct{})
				convey.So(p.Submit(ctx, "u1/movie", queue.Job{ID: "again", Run: func(context.Context) { close(done) }}), convey.ShouldBeNil)
				select {
				case <-done:
				case <-time.After(time.Second):
				}
				convey.So(p.Workers(), convey.ShouldBeGreaterThanOrEqualTo, 1)
				convey.So(rec.snapshot(), convey.ShouldHaveLength, 50)
			})
		})

		convey.Convey("When a partition has a job still running", func() {
			release := make(chan struct{})
			convey.So(p.Submit(ctx, "busy", queue.Job{ID: "hold", Run: func(context.Context) { <-release }}), convey.ShouldBeNil)
			time.Sleep(150 * time.Millisecond)

			convey.Convey("Then its worker is kept", func() {
				n := p.Workers()
				close(release)
				convey.So(n, convey.ShouldEqual, 1)
			})
		})
	})
}
