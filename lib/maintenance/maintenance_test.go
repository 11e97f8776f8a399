package maintenance

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testOptions(batchSize int) *store.Options {
	return &store.Options{
		ExpirationCheckInterval:   10 * time.Millisecond,
		CountersAggregateInterval: 10 * time.Millisecond,
		BatchSize:                 batchSize,
		PassDelay:                 0,
		Now:                       func() time.Time { return t0 },
	}
}

func addCounter(d *db.DB, key string, delta int64, expireAt time.Time) {
	c := &db.Counter{ID: d.NextID(db.KindCounter), Name: key, Value: delta}
	if !expireAt.IsZero() {
		c.SetExpireAt(expireAt)
	}
	d.Create(c)
}

// --------------------------------------------------------------------------
// Expiration Manager
// --------------------------------------------------------------------------

func TestSweepKindRemovesOnlyExpired(t *testing.T) {
	d := db.New()
	m := NewExpirationManager(d, testOptions(2), metrics.NewSet())

	for i := range 5 {
		j := db.NewJob(fmt.Sprint("expired-", i), nil, t0)
		j.SetExpireAt(t0.Add(-time.Duration(i+1) * time.Minute))
		d.Create(j)
	}
	future := db.NewJob("future", nil, t0)
	future.SetExpireAt(t0.Add(time.Minute))
	d.Create(future)
	now := db.NewJob("now", nil, t0)
	now.SetExpireAt(t0)
	d.Create(now)
	d.Create(db.NewJob("persistent", nil, t0))

	removed, err := m.SweepKind(context.Background(), db.KindJob)
	require.NoError(t, err)
	assert.Equal(t, 5, removed, "five expired jobs across three batches")
	assert.Equal(t, 3, d.Count(db.KindJob))

	for _, id := range []string{"future", "now", "persistent"} {
		_, ok := d.Get(db.KindJob, db.StringKey(id))
		assert.True(t, ok, id)
	}
}

func TestSweepKindSkipsPersistedEntities(t *testing.T) {
	d := db.New()
	m := NewExpirationManager(d, testOptions(10), metrics.NewSet())

	e := &db.ListEntry{ID: d.NextID(db.KindList), Name: "l", Value: "v"}
	e.SetExpireAt(t0.Add(-time.Hour))
	d.Create(e)
	e.Persist()

	removed, err := m.SweepKind(context.Background(), db.KindList)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, d.Count(db.KindList))
}

func TestSweepKindRejectsNonExpirableKinds(t *testing.T) {
	m := NewExpirationManager(db.New(), testOptions(10), metrics.NewSet())

	for _, kind := range []db.Kind{db.KindQueueEntry, db.KindServer, db.KindCounter} {
		_, err := m.SweepKind(context.Background(), kind)
		assert.True(t, errors.Is(err, store.ErrInvalidArgument), kind.String())
	}
}

func TestSweepKindCancelled(t *testing.T) {
	d := db.New()
	m := NewExpirationManager(d, testOptions(10), metrics.NewSet())

	j := db.NewJob("j", nil, t0)
	j.SetExpireAt(t0.Add(-time.Minute))
	d.Create(j)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.SweepKind(ctx, db.KindJob)
	assert.True(t, errors.Is(err, store.ErrCancelled))
	assert.Equal(t, 1, d.Count(db.KindJob))
}

func TestExecuteSweepsAllKinds(t *testing.T) {
	d := db.New()
	m := NewExpirationManager(d, testOptions(10), metrics.NewSet())
	past := t0.Add(-time.Second)

	j := db.NewJob("j", nil, t0)
	j.SetExpireAt(past)
	d.Create(j)

	l := &db.ListEntry{ID: d.NextID(db.KindList), Name: "l", Value: "v"}
	l.SetExpireAt(past)
	d.Create(l)

	s := &db.SetEntry{ID: d.NextID(db.KindSet), Name: "s", Value: "v"}
	s.SetExpireAt(past)
	d.Create(s)

	h := &db.HashEntry{ID: d.NextID(db.KindHash), Name: "h", Field: "f"}
	h.SetExpireAt(past)
	d.Create(h)

	agg := &db.AggregatedCounter{ID: d.NextID(db.KindAggregatedCounter), Name: "c"}
	agg.SetExpireAt(past)
	d.Create(agg)

	addCounter(d, "c", 1, past)
	d.Create(&db.QueueEntry{ID: d.NextID(db.KindQueueEntry), Queue: "q", JobID: "j"})

	require.NoError(t, m.Execute(context.Background()))

	for _, kind := range db.ExpirableKinds {
		assert.Equal(t, 0, d.Count(kind), kind.String())
	}
	assert.Equal(t, 1, d.Count(db.KindCounter), "raw counters are merged, never swept")
	assert.Equal(t, 1, d.Count(db.KindQueueEntry))

	_, ok := d.GetNamed(db.KindSet, db.CompositeKey("s", "v"))
	assert.False(t, ok, "the natural key is released")
}

// --------------------------------------------------------------------------
// Counter Aggregator
// --------------------------------------------------------------------------

func TestAggregatePass(t *testing.T) {
	d := db.New()
	a := NewCounterAggregator(d, testOptions(100), metrics.NewSet())

	addCounter(d, "k", 1, time.Time{})
	addCounter(d, "k", 1, t0.Add(time.Hour))
	addCounter(d, "k", 1, t0.Add(2*time.Hour))
	addCounter(d, "other", -1, time.Time{})

	assert.Equal(t, 4, a.AggregatePass())
	assert.Equal(t, 0, d.Count(db.KindCounter))
	assert.Equal(t, 2, d.Count(db.KindAggregatedCounter))

	k, ok := db.GetNamedAs[*db.AggregatedCounter](d, "k")
	require.True(t, ok)
	assert.Equal(t, int64(3), k.Value())
	at, ok := k.ExpireAt()
	require.True(t, ok)
	assert.True(t, at.Equal(t0.Add(2*time.Hour)), "the latest expiry wins")

	other, ok := db.GetNamedAs[*db.AggregatedCounter](d, "other")
	require.True(t, ok)
	assert.Equal(t, int64(-1), other.Value())
	_, ok = other.ExpireAt()
	assert.False(t, ok)

	assert.Equal(t, 0, a.AggregatePass(), "nothing left to merge")
}

func TestAggregateAddsToExistingCounter(t *testing.T) {
	d := db.New()
	a := NewCounterAggregator(d, testOptions(100), metrics.NewSet())

	addCounter(d, "k", 5, t0.Add(time.Hour))
	a.AggregatePass()
	addCounter(d, "k", 2, t0)
	a.AggregatePass()

	k, ok := db.GetNamedAs[*db.AggregatedCounter](d, "k")
	require.True(t, ok)
	assert.Equal(t, int64(7), k.Value())
	at, _ := k.ExpireAt()
	assert.True(t, at.Equal(t0.Add(time.Hour)), "expiry is never lowered")
	assert.Equal(t, 1, d.Count(db.KindAggregatedCounter))
}

func TestAggregateExecuteInBatches(t *testing.T) {
	d := db.New()
	a := NewCounterAggregator(d, testOptions(3), metrics.NewSet())

	for range 10 {
		addCounter(d, "k", 1, time.Time{})
	}

	assert.Equal(t, 3, a.AggregatePass())
	assert.Equal(t, 7, d.Count(db.KindCounter))

	require.NoError(t, a.Execute(context.Background()))
	assert.Equal(t, 0, d.Count(db.KindCounter))

	k, _ := db.GetNamedAs[*db.AggregatedCounter](d, "k")
	assert.Equal(t, int64(10), k.Value())
}

// --------------------------------------------------------------------------
// Loops
// --------------------------------------------------------------------------

func TestRunStopsOnCancel(t *testing.T) {
	d := db.New()
	set := metrics.NewSet()
	components := []Component{
		NewExpirationManager(d, testOptions(10), set),
		NewCounterAggregator(d, testOptions(10), set),
	}

	addCounter(d, "k", 1, time.Time{})

	for _, c := range components {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		assert.NoError(t, c.Run(ctx), c.String())
		cancel()
	}
	assert.Equal(t, 0, d.Count(db.KindCounter), "the aggregator ran at least once")
}

func TestSleep(t *testing.T) {
	assert.True(t, sleep(context.Background(), 0))
	assert.True(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, 0))
	assert.False(t, sleep(ctx, time.Hour))
}
