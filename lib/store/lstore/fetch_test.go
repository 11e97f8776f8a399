package lstore

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func fetch(t *testing.T, conn store.IConnection, queues ...string) store.IFetchedJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := conn.FetchNextJob(ctx, queues)
	require.NoError(t, err)
	return job
}

// --------------------------------------------------------------------------
// Ordering and Claims
// --------------------------------------------------------------------------

func TestFetchMostRecentFirst(t *testing.T) {
	s, clock := newTestStorage(t)
	conn := s.Connection()

	a := enqueue(t, conn, "default", "a")
	clock.Advance(time.Second)
	b := enqueue(t, conn, "default", "b")

	first := fetch(t, conn, "default")
	assert.Equal(t, b, first.JobID())
	assert.Equal(t, "default", first.Queue())

	second := fetch(t, conn, "default")
	assert.Equal(t, a, second.JobID())

	require.NoError(t, first.RemoveFromQueue())
	require.NoError(t, second.RemoveFromQueue())
	assert.Empty(t, s.Queues())
}

func TestFetchSameInstantUsesInsertionOrder(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	enqueue(t, conn, "q", "a")
	b := enqueue(t, conn, "q", "b")

	assert.Equal(t, b, fetch(t, conn, "q").JobID())
}

func TestFetchOnlyRequestedQueues(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	enqueue(t, conn, "other", "x")
	wanted := enqueue(t, conn, "critical", "y")
	enqueue(t, conn, "other", "z")

	job := fetch(t, conn, "critical", "default")
	assert.Equal(t, wanted, job.JobID())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.FetchNextJob(ctx, []string{"critical"})
	assert.True(t, errors.Is(err, store.ErrCancelled), "the only critical entry is claimed")
}

func TestFetchInvalidQueues(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	_, err := conn.FetchNextJob(context.Background(), nil)
	assert.True(t, errors.Is(err, store.ErrInvalidArgument))

	_, err = conn.FetchNextJob(context.Background(), []string{"q", ""})
	assert.True(t, errors.Is(err, store.ErrInvalidArgument))
}

func TestFetchConcurrentNoDuplicates(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	const jobs = 200
	for i := range jobs {
		enqueue(t, conn, "q", fmt.Sprint(i))
	}

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				job, err := conn.FetchNextJob(ctx, []string{"q"})
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[job.JobID()]++
				mu.Unlock()
				assert.NoError(t, job.RemoveFromQueue())
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s fetched more than once", id)
	}
	assert.Equal(t, QueueCounts{}, s.EnqueuedAndFetchedCount("q"))
}

// --------------------------------------------------------------------------
// Requeue and Stale Claims
// --------------------------------------------------------------------------

func TestCloseRequeues(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()
	id := enqueue(t, conn, "q", "a")

	job := fetch(t, conn, "q")
	assert.Equal(t, QueueCounts{Enqueued: 0, Fetched: 1}, s.EnqueuedAndFetchedCount("q"))

	require.NoError(t, job.Close())
	assert.Equal(t, QueueCounts{Enqueued: 1, Fetched: 0}, s.EnqueuedAndFetchedCount("q"))

	again := fetch(t, conn, "q")
	assert.Equal(t, id, again.JobID())
}

func TestCloseAfterRemoveIsNoOp(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()
	enqueue(t, conn, "q", "a")

	job := fetch(t, conn, "q")
	require.NoError(t, job.RemoveFromQueue())
	require.NoError(t, job.Close())
	require.NoError(t, job.Requeue())

	assert.Empty(t, s.Queues())
}

func TestStaleClaimIsFetchedAgain(t *testing.T) {
	s, clock := newTestStorage(t)
	conn := s.Connection()
	id := enqueue(t, conn, "q", "a")

	old := fetch(t, conn, "q")

	// just before the timeout the claim is still valid
	clock.Advance(time.Minute - time.Nanosecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err := conn.FetchNextJob(ctx, []string{"q"})
	cancel()
	require.True(t, errors.Is(err, store.ErrCancelled))

	clock.Advance(time.Second)
	fresh := fetch(t, conn, "q")
	assert.Equal(t, id, fresh.JobID())

	// the first worker gives up late, the second claim must survive
	require.NoError(t, old.Requeue())
	assert.Equal(t, QueueCounts{Fetched: 1}, s.EnqueuedAndFetchedCount("q"))

	require.NoError(t, fresh.RemoveFromQueue())
	assert.Equal(t, QueueCounts{}, s.EnqueuedAndFetchedCount("q"))
}

// --------------------------------------------------------------------------
// Blocking and Cancellation
// --------------------------------------------------------------------------

func TestFetchCancelled(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := conn.FetchNextJob(ctx, []string{"q"})
	assert.True(t, errors.Is(err, store.ErrCancelled))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFetchCancelledBeforeStart(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()
	enqueue(t, conn, "q", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.FetchNextJob(ctx, []string{"q"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, QueueCounts{Enqueued: 1}, s.EnqueuedAndFetchedCount("q"), "a cancelled fetch claims nothing")
}

func TestFetchWakesOnCommit(t *testing.T) {
	clock := &fakeClock{now: t0}
	s := NewLocalStorage(&store.Options{
		FetchPollInterval: time.Hour,
		Now:               clock.Now,
	})
	conn := s.Connection()

	result := make(chan store.IFetchedJob, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		job, err := conn.FetchNextJob(ctx, []string{"q"})
		if err == nil {
			result <- job
		}
		close(result)
	}()

	time.Sleep(20 * time.Millisecond)
	id := enqueue(t, conn, "q", "a")

	select {
	case job, ok := <-result:
		require.True(t, ok, "fetch failed")
		assert.Equal(t, id, job.JobID())
	case <-time.After(5 * time.Second):
		t.Fatal("fetcher was not woken by the commit")
	}
}

// --------------------------------------------------------------------------
// Queue Monitoring
// --------------------------------------------------------------------------

func TestQueueMonitoring(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	var ids []string
	for i := range 5 {
		ids = append(ids, enqueue(t, conn, "b", fmt.Sprint(i)))
	}
	enqueue(t, conn, "a", "x")

	assert.Equal(t, []string{"a", "b"}, s.Queues())

	// claims the most recent entry of b
	job := fetch(t, conn, "b")
	require.Equal(t, ids[4], job.JobID())

	assert.Equal(t, QueueCounts{Enqueued: 4, Fetched: 1}, s.EnqueuedAndFetchedCount("b"))
	assert.Equal(t, QueueCounts{Enqueued: 1}, s.EnqueuedAndFetchedCount("a"))
	assert.Equal(t, QueueCounts{}, s.EnqueuedAndFetchedCount("unknown"))

	assert.Equal(t, ids[1:3], s.EnqueuedJobIDs("b", 1, 2))
	assert.Equal(t, ids[:4], s.EnqueuedJobIDs("b", 0, 10))
	assert.Equal(t, []string{}, s.EnqueuedJobIDs("b", 10, 10))
	assert.Equal(t, []string{}, s.EnqueuedJobIDs("b", 0, 0))
	assert.Equal(t, []string{ids[4]}, s.FetchedJobIDs("b", 0, 10))
}
