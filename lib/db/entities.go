package db

import (
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Entity Interfaces
// --------------------------------------------------------------------------

// Entity is implemented by every value stored in the DB.
// Kind must not dereference its receiver, it is called on nil pointers by the
// generic helpers (see All).
type Entity interface {
	Kind() Kind
	Key() Key
}

// ExpirableEntity is an entity with an optional expiry.
type ExpirableEntity interface {
	Entity
	ExpireAt() (time.Time, bool)
	SetExpireAt(t time.Time)
	Persist()
	ExpiredBefore(t time.Time) bool
}

// KeyedEntity is an entity belonging to a caller supplied key, e.g. a member
// of the set "schedule" or a raw delta of the counter "stats:succeeded".
type KeyedEntity interface {
	Entity
	KeyName() string
}

// NamedEntity is an entity with a unique natural key (see Kind.Named).
type NamedEntity interface {
	Entity
	NaturalKey() string
}

// --------------------------------------------------------------------------
// Expiry
// --------------------------------------------------------------------------

// Expiry holds an optional expiry time. The zero value means "never expires".
//
// Thread-safety: All methods are safe for concurrent use.
type Expiry struct {
	unixNano atomic.Int64
}

// ExpireAt returns the expiry time and whether one is set.
func (e *Expiry) ExpireAt() (time.Time, bool) {
	n := e.unixNano.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// SetExpireAt sets the expiry time. A zero time clears the expiry.
func (e *Expiry) SetExpireAt(t time.Time) {
	if t.IsZero() {
		e.unixNano.Store(0)
		return
	}
	e.unixNano.Store(t.UnixNano())
}

// Persist clears the expiry.
func (e *Expiry) Persist() {
	e.unixNano.Store(0)
}

// RaiseExpireAt moves the expiry to t if t is later than the current expiry.
// A missing expiry counts as the earliest possible one. A zero t is ignored.
func (e *Expiry) RaiseExpireAt(t time.Time) {
	if t.IsZero() {
		return
	}
	n := t.UnixNano()
	for {
		old := e.unixNano.Load()
		if old >= n {
			return
		}
		if e.unixNano.CompareAndSwap(old, n) {
			return
		}
	}
}

// ExpiredBefore reports whether an expiry is set and lies strictly before t.
func (e *Expiry) ExpiredBefore(t time.Time) bool {
	n := e.unixNano.Load()
	return n != 0 && n < t.UnixNano()
}

// --------------------------------------------------------------------------
// Job
// --------------------------------------------------------------------------

// JobState is a single entry of a job's state history.
type JobState struct {
	Name      string
	Reason    string
	CreatedAt time.Time
	Data      map[string]string
}

// Job is a background job. The payload is opaque to the store.
//
// Thread-safety: ID, Payload and CreatedAt are immutable; the state, history
// and parameters are guarded by an internal lock.
type Job struct {
	Expiry
	ID        string
	Payload   []byte
	CreatedAt time.Time

	mu         sync.RWMutex
	current    int // index+1 of the current state in history, 0 = none
	history    []JobState
	parameters map[string]string
}

// NewJob creates a job without state.
func NewJob(id string, payload []byte, createdAt time.Time) *Job {
	return &Job{
		ID:         id,
		Payload:    payload,
		CreatedAt:  createdAt,
		parameters: make(map[string]string),
	}
}

func (j *Job) Kind() Kind { return KindJob }
func (j *Job) Key() Key   { return StringKey(j.ID) }

// State returns the current state of the job.
func (j *Job) State() (JobState, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.current == 0 {
		return JobState{}, false
	}
	return j.history[j.current-1], true
}

// SetState makes s the current state and appends it to the history.
func (j *Job) SetState(s JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.history = append(j.history, s)
	j.current = len(j.history)
}

// AddState appends s to the history without changing the current state.
func (j *Job) AddState(s JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.history = append(j.history, s)
}

// History returns a copy of the state history, oldest first.
func (j *Job) History() []JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.history)
}

// Parameter returns a job parameter.
func (j *Job) Parameter(name string) (string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v, ok := j.parameters[name]
	return v, ok
}

// SetParameter sets a job parameter.
func (j *Job) SetParameter(name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.parameters[name] = value
}

// Parameters returns a copy of all job parameters.
func (j *Job) Parameters() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return maps.Clone(j.parameters)
}

// --------------------------------------------------------------------------
// QueueEntry
// --------------------------------------------------------------------------

// Claim marks a QueueEntry as fetched. Claims are compared by identity, so a
// stale fetcher can never release a newer claim.
type Claim struct {
	at time.Time
}

// At returns the time the claim was made.
func (c *Claim) At() time.Time {
	return c.at
}

// QueueEntry references a job enqueued to a named queue.
//
// Thread-safety: All fields except the claim are immutable. The claim is
// updated with compare-and-swap.
type QueueEntry struct {
	ID      int64
	Queue   string
	JobID   string
	AddedAt time.Time

	claim atomic.Pointer[Claim]
}

func (q *QueueEntry) Kind() Kind { return KindQueueEntry }
func (q *QueueEntry) Key() Key   { return IntKey(q.ID) }

// FetchedAt returns the time of the current claim, if any.
func (q *QueueEntry) FetchedAt() (time.Time, bool) {
	c := q.claim.Load()
	if c == nil {
		return time.Time{}, false
	}
	return c.at, true
}

// Available reports whether the entry is unclaimed or its claim was made at
// or before staleBefore.
func (q *QueueEntry) Available(staleBefore time.Time) bool {
	c := q.claim.Load()
	return c == nil || !c.at.After(staleBefore)
}

// TryClaim claims the entry if it is available. It returns nil if another
// claim is still valid.
func (q *QueueEntry) TryClaim(now, staleBefore time.Time) *Claim {
	for {
		old := q.claim.Load()
		if old != nil && old.at.After(staleBefore) {
			return nil
		}
		c := &Claim{at: now}
		if q.claim.CompareAndSwap(old, c) {
			return c
		}
	}
}

// Release clears the claim if it is still c. It reports whether the claim was
// cleared.
func (q *QueueEntry) Release(c *Claim) bool {
	return q.claim.CompareAndSwap(c, nil)
}

// --------------------------------------------------------------------------
// Counters
// --------------------------------------------------------------------------

// Counter is a raw counter delta. Raw counters are never read on their own,
// they are summed together with the aggregated counter of the same key.
type Counter struct {
	Expiry
	ID    int64
	Name  string
	Value int64
}

func (c *Counter) Kind() Kind      { return KindCounter }
func (c *Counter) Key() Key        { return IntKey(c.ID) }
func (c *Counter) KeyName() string { return c.Name }

// AggregatedCounter holds the compacted total of a counter key.
type AggregatedCounter struct {
	Expiry
	ID    int64
	Name  string
	value atomic.Int64
}

func (c *AggregatedCounter) Kind() Kind         { return KindAggregatedCounter }
func (c *AggregatedCounter) Key() Key           { return IntKey(c.ID) }
func (c *AggregatedCounter) KeyName() string    { return c.Name }
func (c *AggregatedCounter) NaturalKey() string { return c.Name }

// Value returns the aggregated total.
func (c *AggregatedCounter) Value() int64 {
	return c.value.Load()
}

// Add adds delta to the aggregated total and returns the new total.
func (c *AggregatedCounter) Add(delta int64) int64 {
	return c.value.Add(delta)
}

// --------------------------------------------------------------------------
// Sets, Lists and Hashes
// --------------------------------------------------------------------------

// SetEntry is a member of a scored set. (Name, Value) is unique.
type SetEntry struct {
	Expiry
	ID    int64
	Name  string
	Value string
	score atomic.Uint64
}

func (s *SetEntry) Kind() Kind         { return KindSet }
func (s *SetEntry) Key() Key           { return IntKey(s.ID) }
func (s *SetEntry) KeyName() string    { return s.Name }
func (s *SetEntry) NaturalKey() string { return CompositeKey(s.Name, s.Value) }

// Score returns the score of the member.
func (s *SetEntry) Score() float64 {
	return math.Float64frombits(s.score.Load())
}

// SetScore updates the score of the member.
func (s *SetEntry) SetScore(score float64) {
	s.score.Store(math.Float64bits(score))
}

// ListEntry is an item of a list. Items are ordered by ID.
type ListEntry struct {
	Expiry
	ID    int64
	Name  string
	Value string
}

func (l *ListEntry) Kind() Kind      { return KindList }
func (l *ListEntry) Key() Key        { return IntKey(l.ID) }
func (l *ListEntry) KeyName() string { return l.Name }

// HashEntry is a field of a hash. (Name, Field) is unique.
type HashEntry struct {
	Expiry
	ID    int64
	Name  string
	Field string

	mu    sync.RWMutex
	value string
}

func (h *HashEntry) Kind() Kind         { return KindHash }
func (h *HashEntry) Key() Key           { return IntKey(h.ID) }
func (h *HashEntry) KeyName() string    { return h.Name }
func (h *HashEntry) NaturalKey() string { return CompositeKey(h.Name, h.Field) }

// Value returns the field value.
func (h *HashEntry) Value() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// SetValue updates the field value.
func (h *HashEntry) SetValue(v string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value = v
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// ServerData is the payload a server announces.
type ServerData struct {
	WorkerCount int
	Queues      []string
	StartedAt   time.Time
}

// Server is a processing server announced by the framework.
type Server struct {
	ID string

	mu            sync.RWMutex
	data          ServerData
	lastHeartbeat atomic.Int64
}

// NewServer creates a server record.
func NewServer(id string, data ServerData, now time.Time) *Server {
	s := &Server{ID: id, data: data}
	s.lastHeartbeat.Store(now.UnixNano())
	return s
}

func (s *Server) Kind() Kind { return KindServer }
func (s *Server) Key() Key   { return StringKey(s.ID) }

// Data returns the announced payload.
func (s *Server) Data() ServerData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.data
	d.Queues = slices.Clone(d.Queues)
	return d
}

// SetData replaces the announced payload.
func (s *Server) SetData(d ServerData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = d
}

// LastHeartbeat returns the time of the last heartbeat.
func (s *Server) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// Touch records a heartbeat.
func (s *Server) Touch(now time.Time) {
	s.lastHeartbeat.Store(now.UnixNano())
}
