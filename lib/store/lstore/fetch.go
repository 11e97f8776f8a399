package lstore

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Queue Fetch
// --------------------------------------------------------------------------

// FetchNextJob claims the most recently enqueued available entry of the
// given queues. An entry is available if it is unclaimed or its claim is
// older than FetchNextJobTimeout.
//
// If nothing is available it waits for the next commit or requeue, rescanning
// at least every FetchPollInterval so that stale claims are picked up without
// new commits. It returns an error matching store.ErrCancelled once ctx is
// done; a cancelled fetch never leaves a claim behind.
func (s *Storage) FetchNextJob(ctx context.Context, queues []string) (store.IFetchedJob, error) {
	if len(queues) == 0 {
		return nil, store.NewError(store.RetCInvalidArgument, "queues must not be empty")
	}
	wanted := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		if err := store.RequireKey("queue", q); err != nil {
			return nil, err
		}
		wanted[q] = struct{}{}
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, store.WrapError(store.RetCCancelled, "fetching next job", err)
		}

		// obtain the wake channel before scanning, a commit after the scan must wake us
		wake := s.wake.Wait()

		if job := s.claimNext(wanted); job != nil {
			s.metrics.fetched.Inc()
			s.metrics.fetchWait.UpdateDuration(start)
			return job, nil
		}

		timer := time.NewTimer(s.opts.FetchPollInterval)
		select {
		case <-ctx.Done():
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// claimNext scans and claims under the fetch critical section. It returns nil
// if no entry is available.
func (s *Storage) claimNext(wanted map[string]struct{}) *fetchedJob {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	now := s.now()
	staleBefore := now.Add(-s.opts.FetchNextJobTimeout)

	var best *db.QueueEntry
	s.db.Range(db.KindQueueEntry, func(e db.Entity) bool {
		q := e.(*db.QueueEntry)
		if _, ok := wanted[q.Queue]; !ok || !q.Available(staleBefore) {
			return true
		}
		if best == nil || q.AddedAt.After(best.AddedAt) || (q.AddedAt.Equal(best.AddedAt) && q.ID > best.ID) {
			best = q
		}
		return true
	})
	if best == nil {
		return nil
	}

	claim := best.TryClaim(now, staleBefore)
	if claim == nil {
		return nil
	}
	return &fetchedJob{s: s, entry: best, claim: claim}
}

// --------------------------------------------------------------------------
// Fetched Job Handle
// --------------------------------------------------------------------------

// fetchedJob is the handle of a claimed queue entry.
type fetchedJob struct {
	s     *Storage
	entry *db.QueueEntry
	claim *db.Claim

	mu   sync.Mutex
	done bool
}

func (f *fetchedJob) JobID() string {
	return f.entry.JobID
}

func (f *fetchedJob) Queue() string {
	return f.entry.Queue
}

func (f *fetchedJob) RemoveFromQueue() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return nil
	}
	f.done = true

	f.s.db.Delete(f.entry)
	f.s.metrics.removed.Inc()
	return nil
}

func (f *fetchedJob) Requeue() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return nil
	}
	f.done = true

	// a stale claim may have been taken over by another fetcher, leave it alone
	if f.entry.Release(f.claim) {
		f.s.metrics.requeued.Inc()
		f.s.wake.Notify()
	}
	return nil
}

func (f *fetchedJob) Close() error {
	return f.Requeue()
}

func (f *fetchedJob) String() string {
	return fmt.Sprintf("job %s from queue %s (entry %d)", f.entry.JobID, f.entry.Queue, f.entry.ID)
}
