// Package lstore implements an in-memory job storage based on the
// store.IConnection interface. All data lives in a db.DB owned by the Storage
// and is lost when the process exits.
//
// Implementation Details:
//
//   - Transactions: Mutations are buffered as Command values (an enumerated
//     operation plus its payload) and applied by a single dispatch loop on
//     Commit. Upserts of keyed rows (counters, set members, hash fields) look
//     up the current row at commit time, never at enqueue time.
//
//   - Queue Fetch: FetchNextJob scans and claims under one mutex, preferring
//     the most recently enqueued entry. Waiting fetchers block on a signal
//     notified by every commit and requeue, with FetchPollInterval as an upper
//     bound so that stale claims are picked up without new commits. A claim
//     older than FetchNextJobTimeout is considered abandoned.
//
//   - Counters: Increments append raw rows, the counter aggregator merges them
//     into one aggregated row per key. GetCounter adds both.
//
//   - Maintenance: Run starts the expiration manager and the counter
//     aggregator of the maintenance package.
//
// Thread Safety:
//
//	All operations are safe for concurrent use. Transactions are applied
//	without isolation: readers may observe a partially committed transaction.
//
// Usage Example:
//
//	storage := lstore.NewLocalStorage(nil)
//	go storage.Run(ctx)
//
//	conn := storage.Connection()
//	id, _ := conn.CreateExpiredJob(payload, nil, time.Now(), time.Hour)
//
//	tx := conn.CreateWriteTransaction()
//	_ = tx.SetJobState(id, store.State{Name: "Enqueued"})
//	_ = tx.AddToQueue("default", id)
//	_ = tx.Commit()
//
//	job, err := conn.FetchNextJob(ctx, []string{"default"})
//	if err != nil {
//		return err
//	}
//	defer job.Close()
//	// ... process ...
//	_ = job.RemoveFromQueue()
package lstore
