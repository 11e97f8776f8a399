// Package store defines the interface between a background job framework and
// its storage, together with the shared error and option types.
//
// Key Components:
//
//   - IConnection: The entry point of the framework. Simple reads and
//     single-entity writes (job creation, server heartbeats, hash writes) go
//     straight to the storage, everything else is buffered in an ITransaction.
//
//   - ITransaction: Buffers mutations (job states, queue entries, counters,
//     sets, lists, hashes and their expiry) and applies them in order on
//     Commit. Commands never fail at commit time; a command targeting a job
//     that no longer exists is ignored.
//
//   - IFetchedJob: A claimed queue entry returned by IConnection.FetchNextJob.
//     The worker either removes it from the queue or requeues it; closing the
//     handle without doing either requeues it, so every job is delivered at
//     least once.
//
//   - ILock: A held named lock, used by the framework for mutual exclusion of
//     higher level work such as recurring jobs.
//
//   - Error System: All errors are *Error values carrying a RetCode. They
//     match the sentinels ErrInvalidArgument, ErrInvalidOperation,
//     ErrLockTimeout and ErrCancelled under errors.Is.
//
//   - Options: Intervals and limits of the storage and its maintenance loops.
//     Zero values fall back to the defaults (see DefaultOptions).
//
// Implementations:
//
//	The in-memory implementation lives in the
//	"github.com/ValentinKolb/memjob/lib/store/lstore" package.
package store
