// Package db provides the in-memory entity store backing the job storage.
//
// The store is partitioned by entity kind. Every Kind owns an isolated
// keyspace, so a job with id "1" and a queue entry with id 1 never collide.
// The set of kinds is closed and each kind declares:
//
//   - its key shape (KeyShapeInt for generated ids, KeyShapeString for caller
//     supplied ids such as job and server ids)
//   - whether its entities carry an optional expiry (Kind.Expirable)
//   - whether it has a unique natural key besides its id (Kind.Named): the
//     aggregated counter of a key, the member of a set and the field of a hash
//
// Key Components:
//
//   - DB: The store itself. Each keyspace is an independent xsync.MapOf, there
//     is no locking across kinds. Writes are add-if-absent (Create,
//     GetOrCreate, GetOrCreateNamed), deletes are by identity (Delete,
//     DeleteIf) and reads are non-blocking (Get, GetAll, Range).
//
//   - IDGenerator: One monotonic sequence per kind, starting at 1. Ids are
//     never reused, even after the entity was deleted.
//
//   - Entities: Job, QueueEntry, Counter, AggregatedCounter, SetEntry,
//     ListEntry, HashEntry and Server. Entities are stored by reference and
//     mutated in place; every mutable field is guarded by the entity itself
//     (atomics for scalars, a small lock for job state and hash values).
//
//   - Typed helpers: All, Find, GetAs and GetNamedAs return entities of a
//     concrete type without type switches at the call site.
//
// Note on Counters:
//   - Raw Counter rows are only ever summed together with the AggregatedCounter
//     of the same key. WithCounterSnapshot and WithCounterCompaction make that
//     sum consistent with a concurrent aggregation merge.
//
// Note on Expiry:
//   - An expiry is a wall clock time. Entities whose expiry lies strictly before
//     the sweep time are returned by Expired; the store itself never removes
//     anything on its own.
package db
