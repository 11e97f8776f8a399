package db

import (
	"cmp"
	"github.com/ValentinKolb/memjob/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
	"slices"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// PayloadInfo describes the sizes of all job payloads ever created.
type PayloadInfo struct {
	Count   int64 `json:"count"`
	Average int   `json:"average"`
	Median  int   `json:"median"`
	P99     int   `json:"p99"`
}

// DatabaseInfo reports the state of a DB. The numbers are taken without
// stopping writers and may be slightly out of date.
type DatabaseInfo struct {
	Entities map[string]int `json:"entities"`
	Queues   util.Stats     `json:"queues"`
	Payloads PayloadInfo    `json:"payloads"`
}

// --------------------------------------------------------------------------
// DB
// --------------------------------------------------------------------------

// DB is the in-memory entity store. Every kind has its own keyspace backed by
// an independent concurrent map, there is no locking across kinds.
//
// Entities are stored by reference. Callers retrieving the same entity see
// each other's field writes; the entity types guard their mutable fields.
//
// Thread-safety: All methods are safe for concurrent use.
type DB struct {
	keyspaces [numKinds]*xsync.MapOf[Key, Entity]
	named     [numKinds]*xsync.MapOf[string, Entity] // natural key index, only for named kinds
	ids       *IDGenerator

	compaction sync.RWMutex // see WithCounterSnapshot
	payloads   *util.SizeHistogram
}

// New creates an empty DB with its own IDGenerator.
func New() *DB {
	d := &DB{
		ids:      NewIDGenerator(),
		payloads: util.NewSizeHistogram(),
	}
	for _, k := range Kinds {
		d.keyspaces[k] = xsync.NewMapOf[Key, Entity]()
		if k.Named() {
			d.named[k] = xsync.NewMapOf[string, Entity]()
		}
	}
	return d
}

// NextID returns the next id for kind.
func (d *DB) NextID(kind Kind) int64 {
	return d.ids.Next(kind)
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Create inserts e if no entity with the same key (or, for named kinds, the
// same natural key) exists. A duplicate is silently ignored; the return value
// reports whether e was stored.
func (d *DB) Create(e Entity) bool {
	kind := e.Kind()

	stored := false
	if ne, ok := e.(NamedEntity); ok && kind.Named() {
		d.named[kind].LoadOrCompute(ne.NaturalKey(), func() Entity {
			_, loaded := d.keyspaces[kind].LoadOrStore(e.Key(), e)
			stored = !loaded
			return e
		})
		if !stored {
			d.unindex(e)
		}
	} else {
		_, loaded := d.keyspaces[kind].LoadOrStore(e.Key(), e)
		stored = !loaded
	}

	if j, ok := e.(*Job); ok && stored {
		d.payloads.AddSample(len(j.Payload))
	}
	return stored
}

// CreateMany inserts all entities with Create.
func (d *DB) CreateMany(entities []Entity) {
	for _, e := range entities {
		d.Create(e)
	}
}

// GetOrCreate atomically inserts candidate if its key is absent and returns
// the stored entity. The boolean reports whether candidate was stored.
func (d *DB) GetOrCreate(candidate Entity) (Entity, bool) {
	actual, loaded := d.keyspaces[candidate.Kind()].LoadOrStore(candidate.Key(), candidate)
	if !loaded {
		if j, ok := candidate.(*Job); ok {
			d.payloads.AddSample(len(j.Payload))
		}
	}
	return actual, !loaded
}

// GetOrCreateNamed returns the entity of a named kind with the given natural
// key, calling create to build it if it is absent. create runs at most once
// per stored entity, so ids drawn inside it are never wasted on a lost race.
// The boolean reports whether a new entity was stored.
func (d *DB) GetOrCreateNamed(kind Kind, naturalKey string, create func() Entity) (Entity, bool) {
	index := d.named[kind]
	if index == nil {
		panic("db: GetOrCreateNamed called for unnamed kind " + kind.String())
	}

	created := false
	e, _ := index.LoadOrCompute(naturalKey, func() Entity {
		created = true
		e := create()
		d.keyspaces[kind].Store(e.Key(), e)
		return e
	})
	return e, created
}

// Delete removes e from the store. Deleting an absent entity (or an entity
// that was replaced by another instance with the same key) is a no-op.
func (d *DB) Delete(e Entity) bool {
	deleted := false
	d.keyspaces[e.Kind()].Compute(e.Key(), func(old Entity, loaded bool) (Entity, bool) {
		deleted = loaded && old == e
		return old, deleted
	})
	if deleted {
		d.unindex(e)
	}
	return deleted
}

// DeleteMany removes all given entities and returns how many were removed.
func (d *DB) DeleteMany(entities []Entity) int {
	return d.DeleteIf(entities, nil)
}

// DeleteIf removes every given entity for which pred still holds at the time
// of removal (a nil pred always holds). It returns how many were removed.
func (d *DB) DeleteIf(entities []Entity, pred func(Entity) bool) int {
	n := 0
	for _, e := range entities {
		deleted := false
		d.keyspaces[e.Kind()].Compute(e.Key(), func(old Entity, loaded bool) (Entity, bool) {
			deleted = loaded && old == e && (pred == nil || pred(old))
			return old, deleted
		})
		if deleted {
			d.unindex(e)
			n++
		}
	}
	return n
}

// unindex removes e from the natural key index if it is the indexed entity.
func (d *DB) unindex(e Entity) {
	ne, ok := e.(NamedEntity)
	if !ok || !e.Kind().Named() {
		return
	}
	d.named[e.Kind()].Compute(ne.NaturalKey(), func(old Entity, loaded bool) (Entity, bool) {
		return old, loaded && old == e
	})
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the entity stored under key. It never blocks.
func (d *DB) Get(kind Kind, key Key) (Entity, bool) {
	return d.keyspaces[kind].Load(key)
}

// GetNamed returns the entity of a named kind with the given natural key.
func (d *DB) GetNamed(kind Kind, naturalKey string) (Entity, bool) {
	index := d.named[kind]
	if index == nil {
		return nil, false
	}
	return index.Load(naturalKey)
}

// GetAll returns a snapshot of all entities of a kind in no particular order.
func (d *DB) GetAll(kind Kind) []Entity {
	ks := d.keyspaces[kind]
	out := make([]Entity, 0, ks.Size())
	ks.Range(func(_ Key, e Entity) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Range calls fn for every entity of a kind until fn returns false. The
// iteration is weakly consistent: entities inserted or deleted concurrently
// may or may not be visited.
func (d *DB) Range(kind Kind, fn func(Entity) bool) {
	d.keyspaces[kind].Range(func(_ Key, e Entity) bool {
		return fn(e)
	})
}

// FindByKey returns all entities of a kind belonging to key, ordered by id.
func (d *DB) FindByKey(kind Kind, key string) []KeyedEntity {
	var out []KeyedEntity
	d.Range(kind, func(e Entity) bool {
		if ke, ok := e.(KeyedEntity); ok && ke.KeyName() == key {
			out = append(out, ke)
		}
		return true
	})
	slices.SortFunc(out, func(a, b KeyedEntity) int {
		return cmp.Compare(a.Key().Int(), b.Key().Int())
	})
	return out
}

// Count returns the number of entities of a kind.
func (d *DB) Count(kind Kind) int {
	return d.keyspaces[kind].Size()
}

// Expired returns up to limit entities of an expirable kind whose expiry lies
// strictly before now. A limit <= 0 means no limit.
func (d *DB) Expired(kind Kind, now time.Time, limit int) []Entity {
	var out []Entity
	d.Range(kind, func(e Entity) bool {
		if x, ok := e.(ExpirableEntity); ok && x.ExpiredBefore(now) {
			out = append(out, e)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// --------------------------------------------------------------------------
// Counter Compaction Guard
// --------------------------------------------------------------------------

// WithCounterSnapshot runs fn while no aggregation merge is in progress.
// Combined counter reads use it so that a raw row is never counted both
// before and after it was merged into its aggregated counter.
func (d *DB) WithCounterSnapshot(fn func()) {
	d.compaction.RLock()
	defer d.compaction.RUnlock()
	fn()
}

// WithCounterCompaction runs fn exclusively with respect to
// WithCounterSnapshot. The counter aggregator merges and deletes raw rows in
// fn.
func (d *DB) WithCounterCompaction(fn func()) {
	d.compaction.Lock()
	defer d.compaction.Unlock()
	fn()
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// GetInfo returns metadata about the DB.
func (d *DB) GetInfo() DatabaseInfo {
	info := DatabaseInfo{
		Entities: make(map[string]int, len(Kinds)),
		Payloads: PayloadInfo{
			Count:   d.payloads.Count(),
			Average: d.payloads.Average(),
			Median:  d.payloads.Percentile(50),
			P99:     d.payloads.Percentile(99),
		},
	}
	for _, k := range Kinds {
		info.Entities[k.String()] = d.Count(k)
	}

	lengths := make(map[string]float64)
	d.Range(KindQueueEntry, func(e Entity) bool {
		lengths[e.(*QueueEntry).Queue]++
		return true
	})
	values := make([]float64, 0, len(lengths))
	for _, v := range lengths {
		values = append(values, v)
	}
	info.Queues = util.NewStats(values)

	return info
}
