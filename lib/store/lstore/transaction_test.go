package lstore

import (
	"errors"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Buffering, Commit and Discard
// --------------------------------------------------------------------------

func TestTransactionBuffersUntilCommit(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	tx := s.NewTransaction()
	require.NoError(t, tx.AddToQueue("q", "job"))
	require.NoError(t, tx.IncrementCounter("c"))
	require.NoError(t, tx.InsertToList("l", "v"))

	assert.Len(t, tx.Commands(), 3)
	assert.Equal(t, 0, s.DB().Count(db.KindQueueEntry))
	assert.Equal(t, 0, s.DB().Count(db.KindCounter))
	assert.Equal(t, 0, s.DB().Count(db.KindList))

	require.NoError(t, tx.Commit())
	assert.Empty(t, tx.Commands())
	assert.Equal(t, 1, s.DB().Count(db.KindQueueEntry))

	value, err := conn.GetCounter("c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestTransactionDiscardLeavesStoreUnchanged(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()
	id := createJob(t, conn, "payload")

	before := s.DB().GetInfo()

	tx := conn.CreateWriteTransaction()
	require.NoError(t, tx.SetJobState(id, store.State{Name: "Processing"}))
	require.NoError(t, tx.AddToQueue("q", id))
	require.NoError(t, tx.IncrementCounter("c"))
	require.NoError(t, tx.AddToSet("s", "v"))
	require.NoError(t, tx.SetRangeInHash("h", map[string]string{"f": "v"}))
	require.NoError(t, tx.ExpireJob(id, time.Minute))
	tx.Discard()

	assert.Equal(t, before, s.DB().GetInfo())
	_, found, err := conn.GetStateData(id)
	require.NoError(t, err)
	assert.False(t, found)

	err = tx.Commit()
	assert.True(t, errors.Is(err, store.ErrInvalidOperation))
	err = tx.AddToQueue("q", id)
	assert.True(t, errors.Is(err, store.ErrInvalidOperation))

	tx.Discard() // safe to call twice
}

func TestTransactionCanBeReusedAfterCommit(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	tx := conn.CreateWriteTransaction()
	require.NoError(t, tx.InsertToList("l", "a"))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.InsertToList("l", "b"))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Commit(), "an empty commit is fine")

	items, err := conn.GetAllItemsFromList("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestTransactionAppliesInOrder(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	commit(t, conn, func(tx store.ITransaction) {
		_ = tx.AddToSet("s", "a")
		_ = tx.RemoveFromSet("s", "a")
		_ = tx.RemoveFromSet("s", "b")
		_ = tx.AddToSet("s", "b")
	})

	items, err := conn.GetAllItemsFromSet("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, items)
}

func TestTransactionRejectsMissingKeys(t *testing.T) {
	s, _ := newTestStorage(t)
	tx := s.NewTransaction()

	for name, err := range map[string]error{
		"SetJobState":    tx.SetJobState("", store.State{Name: "x"}),
		"StateName":      tx.SetJobState("id", store.State{}),
		"AddToQueue":     tx.AddToQueue("", "id"),
		"AddToQueueJob":  tx.AddToQueue("q", ""),
		"Increment":      tx.IncrementCounter(""),
		"AddToSet":       tx.AddToSet("", "v"),
		"InsertToList":   tx.InsertToList("", "v"),
		"SetRangeInHash": tx.SetRangeInHash("", nil),
		"ExpireHash":     tx.ExpireHash("", time.Minute),
		"TrimList":       tx.TrimList("l", 3, 1),
	} {
		assert.True(t, errors.Is(err, store.ErrInvalidArgument), name)
	}
	assert.Empty(t, tx.Commands(), "invalid calls buffer nothing")
}

// --------------------------------------------------------------------------
// Jobs
// --------------------------------------------------------------------------

func TestJobStateCommands(t *testing.T) {
	s, clock := newTestStorage(t)
	conn := s.Connection()
	id := createJob(t, conn, "payload")

	clock.Advance(time.Second)
	commit(t, conn, func(tx store.ITransaction) {
		_ = tx.SetJobState(id, store.State{Name: "Enqueued", Reason: "created", Data: map[string]string{"queue": "q"}})
		_ = tx.AddJobState(id, store.State{Name: "Note"})
	})

	state, found, err := conn.GetStateData(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Enqueued", state.Name)
	assert.Equal(t, "created", state.Reason)
	assert.Equal(t, map[string]string{"queue": "q"}, state.Data)

	job, _ := db.GetAs[*db.Job](s.DB(), db.StringKey(id))
	history := job.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].CreatedAt.Equal(t0.Add(time.Second)), "states are stamped at commit time")

	data, found, err := conn.GetJobData(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Enqueued", data.State)
}

func TestJobCommandsOnAbsentJobAreIgnored(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	tx := conn.CreateWriteTransaction()
	require.NoError(t, tx.SetJobState("missing", store.State{Name: "Failed"}))
	require.NoError(t, tx.AddJobState("missing", store.State{Name: "Failed"}))
	require.NoError(t, tx.ExpireJob("missing", time.Minute))
	require.NoError(t, tx.PersistJob("missing"))
	require.NoError(t, tx.Commit())

	assert.Equal(t, 0, s.DB().Count(db.KindJob))
}

func TestExpireAndPersistJob(t *testing.T) {
	s, clock := newTestStorage(t)
	conn := s.Connection()
	id := createJob(t, conn, "payload")
	job, _ := db.GetAs[*db.Job](s.DB(), db.StringKey(id))

	clock.Advance(time.Minute)
	commit(t, conn, func(tx store.ITransaction) { _ = tx.PersistJob(id) })
	_, ok := job.ExpireAt()
	assert.False(t, ok)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.ExpireJob(id, time.Hour) })
	at, ok := job.ExpireAt()
	require.True(t, ok)
	assert.True(t, at.Equal(t0.Add(time.Minute+time.Hour)))
}

// --------------------------------------------------------------------------
// Counters
// --------------------------------------------------------------------------

func TestCounterCommands(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	commit(t, conn, func(tx store.ITransaction) {
		_ = tx.IncrementCounter("k")
		_ = tx.IncrementCounter("k")
		_ = tx.IncrementCounterE("k", time.Hour)
		_ = tx.DecrementCounter("k")
		_ = tx.DecrementCounterE("other", time.Hour)
	})

	value, err := conn.GetCounter("k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	value, err = conn.GetCounter("other")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), value)

	value, err = conn.GetCounter("unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)

	expiring := db.Find(s.DB(), func(c *db.Counter) bool {
		_, ok := c.ExpireAt()
		return ok
	})
	assert.Len(t, expiring, 2)
}

// --------------------------------------------------------------------------
// Sets
// --------------------------------------------------------------------------

func TestSetCommands(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	commit(t, conn, func(tx store.ITransaction) {
		_ = tx.AddToSetWithScore("s", "a", 5)
		_ = tx.AddToSetWithScore("s", "b", 1)
		_ = tx.AddToSetWithScore("s", "a", 0.5) // rescore
		_ = tx.AddRangeToSet("s", []string{"b", "c"})
	})

	items, err := conn.GetAllItemsFromSet("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, items)

	b, ok := db.GetNamedAs[*db.SetEntry](s.DB(), db.CompositeKey("s", "b"))
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Score(), "AddRangeToSet keeps existing scores")

	value, found, err := conn.GetFirstByLowestScoreFromSet("s", 0, 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "c", value)

	value, found, err = conn.GetFirstByLowestScoreFromSet("s", 0.1, 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", value)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.RemoveSet("s") })
	count, err := conn.GetSetCount("s")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExpireAndPersistSet(t *testing.T) {
	s, clock := newTestStorage(t)
	conn := s.Connection()

	commit(t, conn, func(tx store.ITransaction) {
		_ = tx.AddToSet("s", "a")
		_ = tx.AddToSet("s", "b")
	})

	ttl, err := conn.GetSetTtl("s")
	require.NoError(t, err)
	assert.Equal(t, -time.Second, ttl)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.ExpireSet("s", time.Hour) })
	clock.Advance(10 * time.Minute)
	ttl, err = conn.GetSetTtl("s")
	require.NoError(t, err)
	assert.Equal(t, 50*time.Minute, ttl)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.PersistSet("s") })
	ttl, err = conn.GetSetTtl("s")
	require.NoError(t, err)
	assert.Equal(t, -time.Second, ttl)
}

// --------------------------------------------------------------------------
// Lists
// --------------------------------------------------------------------------

func TestListCommands(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	commit(t, conn, func(tx store.ITransaction) {
		for _, v := range []string{"a", "b", "a", "c", "d"} {
			_ = tx.InsertToList("l", v)
		}
		_ = tx.RemoveFromList("l", "a")
	})

	items, err := conn.GetAllItemsFromList("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, items)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.TrimList("l", 1, 5) })
	items, err = conn.GetAllItemsFromList("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, items)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.ExpireList("l", time.Minute) })
	ttl, err := conn.GetListTtl("l")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.PersistList("l") })
	ttl, err = conn.GetListTtl("l")
	require.NoError(t, err)
	assert.Equal(t, -time.Second, ttl)
}

// --------------------------------------------------------------------------
// Hashes
// --------------------------------------------------------------------------

func TestHashCommands(t *testing.T) {
	s, _ := newTestStorage(t)
	conn := s.Connection()

	commit(t, conn, func(tx store.ITransaction) {
		_ = tx.SetRangeInHash("h", map[string]string{"a": "1", "b": "2"})
		_ = tx.SetRangeInHash("h", map[string]string{"b": "3"})
		_ = tx.ExpireHash("h", time.Hour)
	})

	fields, found, err := conn.GetAllEntriesFromHash("h")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, fields)

	count, err := conn.GetHashCount("h")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ttl, err := conn.GetHashTtl("h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.PersistHash("h") })
	ttl, err = conn.GetHashTtl("h")
	require.NoError(t, err)
	assert.Equal(t, -time.Second, ttl)

	commit(t, conn, func(tx store.ITransaction) { _ = tx.RemoveHash("h") })
	_, found, err = conn.GetAllEntriesFromHash("h")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, `AddToQueue("q", "job")`, Command{Type: CommandTAddToQueue, Key: "q", Value: "job"}.String())
	assert.Equal(t, `ExpireKey(hash "h")`, Command{Type: CommandTExpireKey, Kind: db.KindHash, Key: "h"}.String())
	assert.Equal(t, "Unknown(200)", CommandType(200).String())
}
