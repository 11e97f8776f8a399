package store

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IConnection is the interface the job framework uses to talk to the storage.
// Reads and single-entity writes go straight to the entity store, multi-step
// mutations are buffered in an ITransaction.
//
// A missing key or id argument fails with RetCInvalidArgument before anything
// is read or written. Reads of absent jobs, hashes or sets are not errors.
type IConnection interface {

	// --------------------------------------------------------------------------
	// Jobs
	// --------------------------------------------------------------------------

	// CreateExpiredJob stores a new job that expires after expireIn and returns its id.
	CreateExpiredJob(payload []byte, parameters map[string]string, createdAt time.Time, expireIn time.Duration) (id string, err error)
	// GetJobData returns the payload, creation time and current state name of a job.
	GetJobData(id string) (data JobData, found bool, err error)
	// GetStateData returns the current state of a job. found is false for jobs without state.
	GetStateData(id string) (data StateData, found bool, err error)
	// SetJobParameter sets a job parameter. Absent jobs are ignored.
	SetJobParameter(id, name, value string) (err error)
	// GetJobParameter returns a job parameter.
	GetJobParameter(id, name string) (value string, found bool, err error)

	// --------------------------------------------------------------------------
	// Queues
	// --------------------------------------------------------------------------

	// FetchNextJob blocks until a job in one of the queues can be claimed or ctx is done.
	// On cancellation the error matches ErrCancelled and wraps ctx.Err().
	FetchNextJob(ctx context.Context, queues []string) (job IFetchedJob, err error)

	// --------------------------------------------------------------------------
	// Servers
	// --------------------------------------------------------------------------

	// AnnounceServer creates or updates a server record and records a heartbeat.
	AnnounceServer(id string, server ServerContext) (err error)
	// Heartbeat records a heartbeat. Unknown servers are ignored.
	Heartbeat(id string) (err error)
	// RemoveServer removes a server record.
	RemoveServer(id string) (err error)
	// RemoveTimedOutServers removes all servers without heartbeat within timeout and returns how many were removed.
	RemoveTimedOutServers(timeout time.Duration) (removed int, err error)

	// --------------------------------------------------------------------------
	// Sets
	// --------------------------------------------------------------------------

	// GetAllItemsFromSet returns all members of a set in insertion order.
	GetAllItemsFromSet(key string) (items []string, err error)
	// GetRangeFromSet returns the members at positions [from, to] in insertion order.
	GetRangeFromSet(key string, from, to int) (items []string, err error)
	// GetFirstByLowestScoreFromSet returns the member with the lowest score within [fromScore, toScore].
	GetFirstByLowestScoreFromSet(key string, fromScore, toScore float64) (value string, found bool, err error)
	// GetSetCount returns the number of members of a set.
	GetSetCount(key string) (count int, err error)
	// GetSetTtl returns the time until the set expires, or -1s if it does not expire.
	GetSetTtl(key string) (ttl time.Duration, err error)

	// --------------------------------------------------------------------------
	// Hashes
	// --------------------------------------------------------------------------

	// SetRangeInHash sets the given fields of a hash.
	SetRangeInHash(key string, fields map[string]string) (err error)
	// GetAllEntriesFromHash returns all fields of a hash. found is false for empty hashes.
	GetAllEntriesFromHash(key string) (fields map[string]string, found bool, err error)
	// GetValueFromHash returns a single field of a hash.
	GetValueFromHash(key, field string) (value string, found bool, err error)
	// GetHashCount returns the number of fields of a hash.
	GetHashCount(key string) (count int, err error)
	// GetHashTtl returns the time until the hash expires, or -1s if it does not expire.
	GetHashTtl(key string) (ttl time.Duration, err error)

	// --------------------------------------------------------------------------
	// Lists
	// --------------------------------------------------------------------------

	// GetAllItemsFromList returns all items of a list in insertion order.
	GetAllItemsFromList(key string) (items []string, err error)
	// GetRangeFromList returns the items at positions [from, to] in insertion order.
	GetRangeFromList(key string, from, to int) (items []string, err error)
	// GetListCount returns the number of items of a list.
	GetListCount(key string) (count int, err error)
	// GetListTtl returns the time until the list expires, or -1s if it does not expire.
	GetListTtl(key string) (ttl time.Duration, err error)

	// --------------------------------------------------------------------------
	// Counters, Locks and Transactions
	// --------------------------------------------------------------------------

	// GetCounter returns the combined value of a counter (raw deltas plus aggregated total).
	GetCounter(key string) (value int64, err error)
	// AcquireDistributedLock acquires a named lock within timeout. A zero timeout only tries once.
	// On failure the error matches ErrLockTimeout.
	AcquireDistributedLock(resource string, timeout time.Duration) (lock ILock, err error)
	// CreateWriteTransaction starts a new buffered transaction.
	CreateWriteTransaction() ITransaction
}

// ITransaction buffers mutations until Commit. No method touches the store
// before Commit. A committed transaction starts over empty and may be reused,
// a discarded one fails every further call with RetCInvalidOperation.
//
// Mutations that target an absent job are ignored at commit time.
type ITransaction interface {
	// Jobs
	ExpireJob(id string, expireIn time.Duration) (err error)
	PersistJob(id string) (err error)
	SetJobState(id string, state State) (err error)
	AddJobState(id string, state State) (err error)

	// Queues
	AddToQueue(queue, jobID string) (err error)

	// Counters
	IncrementCounter(key string) (err error)
	IncrementCounterE(key string, expireIn time.Duration) (err error)
	DecrementCounter(key string) (err error)
	DecrementCounterE(key string, expireIn time.Duration) (err error)

	// Sets
	AddToSet(key, value string) (err error)
	AddToSetWithScore(key, value string, score float64) (err error)
	AddRangeToSet(key string, values []string) (err error)
	RemoveFromSet(key, value string) (err error)
	RemoveSet(key string) (err error)
	ExpireSet(key string, expireIn time.Duration) (err error)
	PersistSet(key string) (err error)

	// Lists
	InsertToList(key, value string) (err error)
	RemoveFromList(key, value string) (err error)
	TrimList(key string, keepFrom, keepTo int) (err error)
	ExpireList(key string, expireIn time.Duration) (err error)
	PersistList(key string) (err error)

	// Hashes
	SetRangeInHash(key string, fields map[string]string) (err error)
	RemoveHash(key string) (err error)
	ExpireHash(key string, expireIn time.Duration) (err error)
	PersistHash(key string) (err error)

	// Commit applies all buffered mutations in order and wakes blocked fetchers.
	Commit() (err error)
	// Discard drops all buffered mutations. It is safe to call after Commit.
	Discard()
}

// IFetchedJob is a claimed queue entry. Exactly one of RemoveFromQueue and
// Requeue should be called; Close requeues the entry if neither was.
type IFetchedJob interface {
	// JobID returns the id of the claimed job.
	JobID() string
	// Queue returns the queue the job was fetched from.
	Queue() string
	// RemoveFromQueue deletes the queue entry.
	RemoveFromQueue() (err error)
	// Requeue releases the claim, making the entry fetchable again.
	Requeue() (err error)
	// Close requeues the entry unless RemoveFromQueue or Requeue was called.
	Close() (err error)
}

// ILock is a held named lock. Release is idempotent and safe to defer.
type ILock interface {
	Resource() string
	Release()
}

// --------------------------------------------------------------------------
// Data Transfer Types
// --------------------------------------------------------------------------

// State is a job state as written by the framework.
type State struct {
	Name   string
	Reason string
	Data   map[string]string
}

// JobData is the result of IConnection.GetJobData.
type JobData struct {
	Payload   []byte
	State     string
	CreatedAt time.Time
}

// StateData is the result of IConnection.GetStateData.
type StateData struct {
	Name   string
	Reason string
	Data   map[string]string
}

// ServerContext is the payload of IConnection.AnnounceServer.
type ServerContext struct {
	WorkerCount int
	Queues      []string
}
