package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/runout/internal/adapters/mq/queue"
	worker "github.com/okian/runout/internal/adapters/mq/worker"
	logging "github.com/okian/runout/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	jobs chan queue.Job
	once sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan queue.Job, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Job {
	return mq.jobs
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.jobs) })
	return nil
}

func (mq *mockQueue) add(id string) {
	mq.jobs <- queue.Job{RunID: id}
}

type mockRunner struct {
	mu     sync.Mutex
	ran    []string
	errors map[string]error
	delay  time.Duration
}

func newMockRunner() *mockRunner {
	return &mockRunner{errors: make(map[string]error)}
}

func (mr *mockRunner) Execute(ctx context.Context, job queue.Job) error {
	if mr.delay > 0 {
		time.Sleep(mr.delay)
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.ran = append(mr.ran, job.RunID)
	return mr.errors[job.RunID]
}

func (mr *mockRunner) count() int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return len(mr.ran)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		runner := newMockRunner()

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, runner, worker.WithName("test-worker"), worker.WithLogger(logging.Nop()))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, runner)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And when jobs arrive", func() {
				q.add("run-1")
				q.add("run-2")

				convey.Convey("Then each job is executed once", func() {
					convey.So(eventually(func() bool { return runner.count() == 2 }), convey.ShouldBeTrue)
				})
			})

			convey.Convey("And when a job fails", func() {
				runner.errors["run-bad"] = errors.New("engine exited")
				q.add("run-bad")
				q.add("run-good")

				convey.Convey("Then the worker keeps going", func() {
					convey.So(eventually(func() bool { return runner.count() == 2 }), convey.ShouldBeTrue)
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer shutdownCancel()

				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerJobTimeout(t *testing.T) {
	convey.Convey("Given a worker with a job timeout", t, func() {
		q := newMockQueue()
		errs := make(chan error, 1)
		runner := worker.RunnerFunc(func(ctx context.Context, _ queue.Job) error {
			<-ctx.Done()
			errs <- ctx.Err()
			return ctx.Err()
		})
		w := worker.NewInMemoryWorker(q, runner, worker.WithLogger(logging.Nop()), worker.WithJobTimeout(20*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a job outlives the timeout", func() {
			q.add("slow")

			convey.Convey("Then the job context expires", func() {
				select {
				case err := <-errs:
					convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
				case <-time.After(time.Second):
					t.Fatal("job was not cancelled")
				}
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		runner := newMockRunner()

		convey.Convey("When created with a non-positive count", func() {
			pool := worker.NewPool(0, q, runner)
			convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
		})

		convey.Convey("When started with queued jobs and shut down", func() {
			runner.delay = 5 * time.Millisecond
			pool := worker.NewPool(3, q, runner)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			for _, id := range []string{"a", "b", "c", "d", "e"} {
				q.add(id)
			}
			pool.Start(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then the queue is drained before workers exit", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(runner.count(), convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When a RunnerFunc is used", func() {
			var calls int
			var mu sync.Mutex
			pool := worker.NewPool(1, q, worker.RunnerFunc(func(context.Context, queue.Job) error {
				mu.Lock()
				calls++
				mu.Unlock()
				return nil
			}))
			q.add("x")
			pool.Start(context.Background())
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			mu.Lock()
			convey.So(calls, convey.ShouldEqual, 1)
			mu.Unlock()
		})
	})
}
