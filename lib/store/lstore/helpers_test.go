package lstore

import (
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock for Options.Now
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestStorage creates a storage driven by a fake clock starting at t0
func newTestStorage(t *testing.T) (*Storage, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	s := NewLocalStorage(&store.Options{
		FetchNextJobTimeout: time.Minute,
		FetchPollInterval:   10 * time.Millisecond,
		BatchSize:           100,
		PassDelay:           0,
		Now:                 clock.Now,
	})
	return s, clock
}

// commit runs fn on a new transaction and commits it
func commit(t *testing.T, conn store.IConnection, fn func(tx store.ITransaction)) {
	t.Helper()
	tx := conn.CreateWriteTransaction()
	fn(tx)
	require.NoError(t, tx.Commit())
}

// createJob creates a job that expires in an hour
func createJob(t *testing.T, conn store.IConnection, payload string) string {
	t.Helper()
	id, err := conn.CreateExpiredJob([]byte(payload), nil, t0, time.Hour)
	require.NoError(t, err)
	return id
}

// enqueue creates a job and adds it to queue
func enqueue(t *testing.T, conn store.IConnection, queue, payload string) string {
	t.Helper()
	id := createJob(t, conn, payload)
	commit(t, conn, func(tx store.ITransaction) {
		require.NoError(t, tx.AddToQueue(queue, id))
	})
	return id
}
