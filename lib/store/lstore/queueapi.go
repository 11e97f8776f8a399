package lstore

import (
	"cmp"
	"github.com/ValentinKolb/memjob/lib/db"
	"slices"
)

// --------------------------------------------------------------------------
// Queue Monitoring
// --------------------------------------------------------------------------

// QueueCounts is the number of waiting and claimed entries of a queue.
type QueueCounts struct {
	Enqueued int `json:"enqueued"`
	Fetched  int `json:"fetched"`
}

// Queues returns the sorted names of all queues with at least one entry.
func (s *Storage) Queues() []string {
	seen := make(map[string]struct{})
	s.db.Range(db.KindQueueEntry, func(e db.Entity) bool {
		seen[e.(*db.QueueEntry).Queue] = struct{}{}
		return true
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EnqueuedAndFetchedCount returns the number of unclaimed and claimed entries
// of queue. An entry whose claim went stale counts as claimed until it is
// fetched again.
func (s *Storage) EnqueuedAndFetchedCount(queue string) QueueCounts {
	var counts QueueCounts
	for _, q := range s.queueEntries(queue) {
		if _, fetched := q.FetchedAt(); fetched {
			counts.Fetched++
		} else {
			counts.Enqueued++
		}
	}
	return counts
}

// EnqueuedJobIDs returns the job ids of up to perPage unclaimed entries of
// queue, skipping the first from. Entries are ordered by insertion.
func (s *Storage) EnqueuedJobIDs(queue string, from, perPage int) []string {
	return s.pageJobIDs(queue, from, perPage, false)
}

// FetchedJobIDs is the counterpart of EnqueuedJobIDs for claimed entries.
func (s *Storage) FetchedJobIDs(queue string, from, perPage int) []string {
	return s.pageJobIDs(queue, from, perPage, true)
}

func (s *Storage) pageJobIDs(queue string, from, perPage int, fetched bool) []string {
	ids := []string{}
	if perPage <= 0 {
		return ids
	}
	skipped := 0
	for _, q := range s.queueEntries(queue) {
		if _, ok := q.FetchedAt(); ok != fetched {
			continue
		}
		if skipped < from {
			skipped++
			continue
		}
		ids = append(ids, q.JobID)
		if len(ids) == perPage {
			break
		}
	}
	return ids
}

// queueEntries returns the entries of queue ordered by id.
func (s *Storage) queueEntries(queue string) []*db.QueueEntry {
	entries := db.Find(s.db, func(q *db.QueueEntry) bool {
		return q.Queue == queue
	})
	slices.SortFunc(entries, func(a, b *db.QueueEntry) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return entries
}
