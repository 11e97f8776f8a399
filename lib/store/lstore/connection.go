package lstore

import (
	"context"
	"errors"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/google/uuid"
	"maps"
	"math"
	"slices"
	"time"
)

// noTTL is returned by the TTL queries for keys without expiry.
const noTTL = -time.Second

// connection implements store.IConnection on top of a Storage.
type connection struct {
	s *Storage
}

// --------------------------------------------------------------------------
// Jobs
// --------------------------------------------------------------------------

func (c *connection) CreateExpiredJob(payload []byte, parameters map[string]string, createdAt time.Time, expireIn time.Duration) (string, error) {
	job := db.NewJob(uuid.NewString(), payload, createdAt)
	job.SetExpireAt(createdAt.Add(expireIn))
	for name, value := range parameters {
		job.SetParameter(name, value)
	}
	c.s.db.Create(job)
	return job.ID, nil
}

func (c *connection) GetJobData(id string) (store.JobData, bool, error) {
	job, ok, err := c.job(id)
	if err != nil || !ok {
		return store.JobData{}, false, err
	}
	data := store.JobData{
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt,
	}
	if state, ok := job.State(); ok {
		data.State = state.Name
	}
	return data, true, nil
}

func (c *connection) GetStateData(id string) (store.StateData, bool, error) {
	job, ok, err := c.job(id)
	if err != nil || !ok {
		return store.StateData{}, false, err
	}
	state, ok := job.State()
	if !ok {
		return store.StateData{}, false, nil
	}
	return store.StateData{
		Name:   state.Name,
		Reason: state.Reason,
		Data:   maps.Clone(state.Data),
	}, true, nil
}

func (c *connection) SetJobParameter(id, name, value string) error {
	if err := store.RequireKey("parameter name", name); err != nil {
		return err
	}
	job, ok, err := c.job(id)
	if err != nil || !ok {
		return err
	}
	job.SetParameter(name, value)
	return nil
}

func (c *connection) GetJobParameter(id, name string) (string, bool, error) {
	if err := store.RequireKey("parameter name", name); err != nil {
		return "", false, err
	}
	job, ok, err := c.job(id)
	if err != nil || !ok {
		return "", false, err
	}
	value, ok := job.Parameter(name)
	return value, ok, nil
}

func (c *connection) job(id string) (*db.Job, bool, error) {
	if err := store.RequireKey("job id", id); err != nil {
		return nil, false, err
	}
	job, ok := db.GetAs[*db.Job](c.s.db, db.StringKey(id))
	return job, ok, nil
}

// --------------------------------------------------------------------------
// Queues
// --------------------------------------------------------------------------

func (c *connection) FetchNextJob(ctx context.Context, queues []string) (store.IFetchedJob, error) {
	return c.s.FetchNextJob(ctx, queues)
}

// --------------------------------------------------------------------------
// Servers
// --------------------------------------------------------------------------

func (c *connection) AnnounceServer(id string, server store.ServerContext) error {
	if err := store.RequireKey("server id", id); err != nil {
		return err
	}
	now := c.s.now()
	data := db.ServerData{
		WorkerCount: server.WorkerCount,
		Queues:      slices.Clone(server.Queues),
		StartedAt:   now,
	}
	e, created := c.s.db.GetOrCreate(db.NewServer(id, data, now))
	if !created {
		srv := e.(*db.Server)
		srv.SetData(data)
		srv.Touch(now)
	}
	Logger.Infof("server %s announced with %d workers on queues %v", id, server.WorkerCount, server.Queues)
	return nil
}

func (c *connection) Heartbeat(id string) error {
	if err := store.RequireKey("server id", id); err != nil {
		return err
	}
	if srv, ok := db.GetAs[*db.Server](c.s.db, db.StringKey(id)); ok {
		srv.Touch(c.s.now())
	}
	return nil
}

func (c *connection) RemoveServer(id string) error {
	if err := store.RequireKey("server id", id); err != nil {
		return err
	}
	if e, ok := c.s.db.Get(db.KindServer, db.StringKey(id)); ok {
		c.s.db.Delete(e)
	}
	return nil
}

func (c *connection) RemoveTimedOutServers(timeout time.Duration) (int, error) {
	if timeout < 0 {
		return 0, store.NewError(store.RetCInvalidArgument, "timeout must be positive")
	}
	timedOut := c.s.now().Add(-timeout)
	isTimedOut := func(srv *db.Server) bool {
		return srv.LastHeartbeat().Before(timedOut)
	}

	var candidates []db.Entity
	for _, srv := range db.Find(c.s.db, isTimedOut) {
		candidates = append(candidates, srv)
	}
	// a heartbeat between selection and removal keeps the server
	removed := c.s.db.DeleteIf(candidates, func(e db.Entity) bool {
		return isTimedOut(e.(*db.Server))
	})
	if removed > 0 {
		Logger.Infof("removed %d timed out servers", removed)
	}
	return removed, nil
}

// --------------------------------------------------------------------------
// Sets
// --------------------------------------------------------------------------

func (c *connection) setMembers(key string) ([]*db.SetEntry, error) {
	if err := store.RequireKey("set key", key); err != nil {
		return nil, err
	}
	entries := c.s.db.FindByKey(db.KindSet, key)
	out := make([]*db.SetEntry, len(entries))
	for i, e := range entries {
		out[i] = e.(*db.SetEntry)
	}
	return out, nil
}

func (c *connection) GetAllItemsFromSet(key string) ([]string, error) {
	members, err := c.setMembers(key)
	if err != nil {
		return nil, err
	}
	items := make([]string, len(members))
	for i, m := range members {
		items[i] = m.Value
	}
	return items, nil
}

func (c *connection) GetRangeFromSet(key string, from, to int) ([]string, error) {
	items, err := c.GetAllItemsFromSet(key)
	if err != nil {
		return nil, err
	}
	return window(items, from, to), nil
}

func (c *connection) GetFirstByLowestScoreFromSet(key string, fromScore, toScore float64) (string, bool, error) {
	if err := store.RequireRange("fromScore", fromScore, "toScore", toScore); err != nil {
		return "", false, err
	}
	members, err := c.setMembers(key)
	if err != nil {
		return "", false, err
	}

	var best *db.SetEntry
	bestScore := math.Inf(1)
	for _, m := range members {
		score := m.Score()
		if score < fromScore || score > toScore {
			continue
		}
		if best == nil || score < bestScore {
			best, bestScore = m, score
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.Value, true, nil
}

func (c *connection) GetSetCount(key string) (int, error) {
	return c.count(db.KindSet, "set key", key)
}

func (c *connection) GetSetTtl(key string) (time.Duration, error) {
	return c.ttl(db.KindSet, "set key", key)
}

// --------------------------------------------------------------------------
// Hashes
// --------------------------------------------------------------------------

func (c *connection) SetRangeInHash(key string, fields map[string]string) error {
	if err := store.RequireKey("hash key", key); err != nil {
		return err
	}
	c.s.setHashFields(key, fields)
	return nil
}

func (c *connection) GetAllEntriesFromHash(key string) (map[string]string, bool, error) {
	if err := store.RequireKey("hash key", key); err != nil {
		return nil, false, err
	}
	entries := c.s.db.FindByKey(db.KindHash, key)
	if len(entries) == 0 {
		return nil, false, nil
	}
	fields := make(map[string]string, len(entries))
	for _, e := range entries {
		h := e.(*db.HashEntry)
		fields[h.Field] = h.Value()
	}
	return fields, true, nil
}

func (c *connection) GetValueFromHash(key, field string) (string, bool, error) {
	if err := store.RequireKey("hash key", key); err != nil {
		return "", false, err
	}
	h, ok := db.GetNamedAs[*db.HashEntry](c.s.db, db.CompositeKey(key, field))
	if !ok {
		return "", false, nil
	}
	return h.Value(), true, nil
}

func (c *connection) GetHashCount(key string) (int, error) {
	return c.count(db.KindHash, "hash key", key)
}

func (c *connection) GetHashTtl(key string) (time.Duration, error) {
	return c.ttl(db.KindHash, "hash key", key)
}

// --------------------------------------------------------------------------
// Lists
// --------------------------------------------------------------------------

func (c *connection) GetAllItemsFromList(key string) ([]string, error) {
	if err := store.RequireKey("list key", key); err != nil {
		return nil, err
	}
	entries := c.s.db.FindByKey(db.KindList, key)
	items := make([]string, len(entries))
	for i, e := range entries {
		items[i] = e.(*db.ListEntry).Value
	}
	return items, nil
}

func (c *connection) GetRangeFromList(key string, from, to int) ([]string, error) {
	items, err := c.GetAllItemsFromList(key)
	if err != nil {
		return nil, err
	}
	return window(items, from, to), nil
}

func (c *connection) GetListCount(key string) (int, error) {
	return c.count(db.KindList, "list key", key)
}

func (c *connection) GetListTtl(key string) (time.Duration, error) {
	return c.ttl(db.KindList, "list key", key)
}

// --------------------------------------------------------------------------
// Counters, Locks and Transactions
// --------------------------------------------------------------------------

func (c *connection) GetCounter(key string) (int64, error) {
	if err := store.RequireKey("counter key", key); err != nil {
		return 0, err
	}
	return CombinedCounter(c.s.db, key), nil
}

func (c *connection) AcquireDistributedLock(resource string, timeout time.Duration) (store.ILock, error) {
	lock, err := c.s.locks.Acquire(resource, timeout)
	if errors.Is(err, store.ErrLockTimeout) {
		c.s.metrics.lockTimeouts.Inc()
	}
	return lock, err
}

func (c *connection) CreateWriteTransaction() store.ITransaction {
	return c.s.NewTransaction()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// CombinedCounter returns the sum of all raw deltas of key plus its
// aggregated total. The read is consistent with concurrent aggregation.
func CombinedCounter(d *db.DB, key string) int64 {
	var total int64
	d.WithCounterSnapshot(func() {
		for _, e := range d.FindByKey(db.KindCounter, key) {
			total += e.(*db.Counter).Value
		}
		if agg, ok := db.GetNamedAs[*db.AggregatedCounter](d, key); ok {
			total += agg.Value()
		}
	})
	return total
}

// count returns the number of rows of kind belonging to key.
func (c *connection) count(kind db.Kind, name, key string) (int, error) {
	if err := store.RequireKey(name, key); err != nil {
		return 0, err
	}
	return len(c.s.db.FindByKey(kind, key)), nil
}

// ttl returns the time until the earliest expiry among the rows of key, or
// noTTL if none of them expires.
func (c *connection) ttl(kind db.Kind, name, key string) (time.Duration, error) {
	if err := store.RequireKey(name, key); err != nil {
		return 0, err
	}
	var earliest time.Time
	for _, e := range c.s.db.FindByKey(kind, key) {
		x, ok := e.(db.ExpirableEntity)
		if !ok {
			continue
		}
		if at, ok := x.ExpireAt(); ok && (earliest.IsZero() || at.Before(earliest)) {
			earliest = at
		}
	}
	if earliest.IsZero() {
		return noTTL, nil
	}
	return earliest.Sub(c.s.now()), nil
}

// window returns items[from:to+1], clamped to the bounds of items. An
// inverted range yields an empty result.
func window(items []string, from, to int) []string {
	from = max(from, 0)
	to = min(to, len(items)-1)
	if from > to {
		return []string{}
	}
	return slices.Clone(items[from : to+1])
}
