package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdering(t *testing.T) {
	q := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	for _, id := range []string{"a", "b", "c"} {
		id := id
		pos := q.Enqueue(&Job{ID: id, UserName: "user", Do: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, id)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
			return nil
		}})
		assert.GreaterOrEqual(t, pos, 1)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order, "jobs complete in submission order")
}

func TestSingleConsumer(t *testing.T) {
	q := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var mu sync.Mutex
	inflight, maxInflight, completed := 0, 0, 0
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		q.Enqueue(&Job{ID: "j", UserName: "user", Do: func(ctx context.Context) error {
			mu.Lock()
			inflight++
			if inflight > maxInflight {
				maxInflight = inflight
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inflight--
			completed++
			if completed == 5 {
				close(done)
			}
			mu.Unlock()
			return nil
		}})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInflight, "at most one job in flight")
}

func TestFailedJobDoesNotStopWorker(t *testing.T) {
	q := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	done := make(chan struct{})
	bad := &Job{ID: "bad", UserName: "user", Do: func(ctx context.Context) error {
		return errors.New("boom")
	}}
	good := &Job{ID: "good", UserName: "user", Do: func(ctx context.Context) error {
		close(done)
		return nil
	}}
	q.Enqueue(bad)
	q.Enqueue(good)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not continue after a failed job")
	}

	// statuses settle once the worker moves on
	require.Eventually(t, func() bool { return good.Status == StatusDone }, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusFailed, bad.Status)
}

func TestTimeout(t *testing.T) {
	q := New(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var gotErr error
	done := make(chan struct{})
	q.Enqueue(&Job{ID: "slow", UserName: "user", Do: func(jctx context.Context) error {
		<-jctx.Done()
		gotErr = jctx.Err()
		close(done)
		return gotErr
	}})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job context was not cancelled")
	}
	assert.ErrorIs(t, gotErr, context.DeadlineExceeded)
}

func TestSnapshotConcurrentWithWorker(t *testing.T) {
	q := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					q.Snapshot()
				}
			}
		}()
	}

	var mu sync.Mutex
	completed := 0
	done := make(chan struct{})
	const jobs = 500
	for i := 0; i < jobs; i++ {
		q.Enqueue(&Job{ID: "j", UserName: "user", Do: func(ctx context.Context) error {
			mu.Lock()
			completed++
			if completed == jobs {
				close(done)
			}
			mu.Unlock()
			return nil
		}})
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("jobs did not complete")
	}
	close(stop)
	readers.Wait()
}

func TestCheckStalledKicksIdleWorker(t *testing.T) {
	q := New(time.Minute)

	// no worker consuming, so Enqueue leaves a wakeup pending
	q.Enqueue(&Job{ID: "a", UserName: "user"})
	<-q.wake

	q.checkStalled()
	select {
	case <-q.wake:
	default:
		t.Fatal("expected a wakeup for the idle worker")
	}

	// a busy worker does not get kicked
	q.mu.Lock()
	q.running = &Job{ID: "a", Status: StatusRunning}
	q.mu.Unlock()
	q.checkStalled()
	select {
	case <-q.wake:
		t.Fatal("unexpected wakeup while a job is in flight")
	default:
	}
}

func TestSnapshot(t *testing.T) {
	q := New(time.Minute)

	// no worker running, jobs stay pending
	q.Enqueue(&Job{ID: "a", UserName: "alice", Width: 512, Height: 768})
	q.Enqueue(&Job{ID: "b", UserName: "bob", Width: 1024, Height: 1024})

	pending, running := q.Snapshot()
	require.Len(t, pending, 2)
	assert.Nil(t, running)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, StatusQueued, pending[0].Status)
	assert.Equal(t, "bob", pending[1].UserName)
	assert.Equal(t, 2, q.Len())
}
