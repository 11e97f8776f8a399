package lstore

import (
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"maps"
	"slices"
	"sync"
	"time"
)

// slowCommit is the commit duration above which a commit is logged.
const slowCommit = 10 * time.Millisecond

// Transaction buffers mutations and applies them on Commit. Buffering never
// touches the entity store. A committed transaction can be reused, a
// discarded one cannot.
//
// Commit applies the commands in enqueue order but without isolation:
// concurrent readers may observe a partially applied transaction and commits
// of different transactions interleave freely.
//
// Thread-safety: All methods are safe for concurrent use.
type Transaction struct {
	s *Storage

	mu        sync.Mutex
	commands  []Command
	discarded bool
}

// Commands returns a copy of the buffered commands.
func (t *Transaction) Commands() []Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.commands)
}

// enqueue appends cmd to the buffer.
func (t *Transaction) enqueue(cmd Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.discarded {
		return store.NewError(store.RetCInvalidOperation, "transaction was discarded")
	}
	t.commands = append(t.commands, cmd)
	return nil
}

// --------------------------------------------------------------------------
// Jobs
// --------------------------------------------------------------------------

func (t *Transaction) ExpireJob(id string, expireIn time.Duration) error {
	if err := store.RequireKey("job id", id); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTExpireJob, Key: id, ExpireIn: expireIn})
}

func (t *Transaction) PersistJob(id string) error {
	if err := store.RequireKey("job id", id); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTPersistJob, Key: id})
}

func (t *Transaction) SetJobState(id string, state store.State) error {
	if err := store.RequireKey("job id", id); err != nil {
		return err
	}
	if err := store.RequireKey("state name", state.Name); err != nil {
		return err
	}
	state.Data = maps.Clone(state.Data)
	return t.enqueue(Command{Type: CommandTSetJobState, Key: id, State: state})
}

func (t *Transaction) AddJobState(id string, state store.State) error {
	if err := store.RequireKey("job id", id); err != nil {
		return err
	}
	if err := store.RequireKey("state name", state.Name); err != nil {
		return err
	}
	state.Data = maps.Clone(state.Data)
	return t.enqueue(Command{Type: CommandTAddJobState, Key: id, State: state})
}

// --------------------------------------------------------------------------
// Queues and Counters
// --------------------------------------------------------------------------

func (t *Transaction) AddToQueue(queue, jobID string) error {
	if err := store.RequireKey("queue", queue); err != nil {
		return err
	}
	if err := store.RequireKey("job id", jobID); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTAddToQueue, Key: queue, Value: jobID})
}

func (t *Transaction) IncrementCounter(key string) error {
	return t.counter(key, 1, 0)
}

func (t *Transaction) IncrementCounterE(key string, expireIn time.Duration) error {
	return t.counter(key, 1, expireIn)
}

func (t *Transaction) DecrementCounter(key string) error {
	return t.counter(key, -1, 0)
}

func (t *Transaction) DecrementCounterE(key string, expireIn time.Duration) error {
	return t.counter(key, -1, expireIn)
}

func (t *Transaction) counter(key string, delta int64, expireIn time.Duration) error {
	if err := store.RequireKey("counter key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTCounter, Key: key, Delta: delta, ExpireIn: expireIn})
}

// --------------------------------------------------------------------------
// Sets
// --------------------------------------------------------------------------

func (t *Transaction) AddToSet(key, value string) error {
	return t.AddToSetWithScore(key, value, 0)
}

func (t *Transaction) AddToSetWithScore(key, value string, score float64) error {
	if err := store.RequireKey("set key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTAddToSet, Key: key, Value: value, Score: score})
}

func (t *Transaction) AddRangeToSet(key string, values []string) error {
	if err := store.RequireKey("set key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTAddRangeToSet, Key: key, Values: slices.Clone(values)})
}

func (t *Transaction) RemoveFromSet(key, value string) error {
	if err := store.RequireKey("set key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTRemoveFromSet, Key: key, Value: value})
}

func (t *Transaction) RemoveSet(key string) error {
	if err := store.RequireKey("set key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTRemoveSet, Key: key})
}

func (t *Transaction) ExpireSet(key string, expireIn time.Duration) error {
	return t.expireKey(db.KindSet, key, expireIn)
}

func (t *Transaction) PersistSet(key string) error {
	return t.persistKey(db.KindSet, key)
}

// --------------------------------------------------------------------------
// Lists
// --------------------------------------------------------------------------

func (t *Transaction) InsertToList(key, value string) error {
	if err := store.RequireKey("list key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTInsertToList, Key: key, Value: value})
}

func (t *Transaction) RemoveFromList(key, value string) error {
	if err := store.RequireKey("list key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTRemoveFromList, Key: key, Value: value})
}

func (t *Transaction) TrimList(key string, keepFrom, keepTo int) error {
	if err := store.RequireKey("list key", key); err != nil {
		return err
	}
	if err := store.RequireRange("keepFrom", keepFrom, "keepTo", keepTo); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTTrimList, Key: key, From: keepFrom, To: keepTo})
}

func (t *Transaction) ExpireList(key string, expireIn time.Duration) error {
	return t.expireKey(db.KindList, key, expireIn)
}

func (t *Transaction) PersistList(key string) error {
	return t.persistKey(db.KindList, key)
}

// --------------------------------------------------------------------------
// Hashes
// --------------------------------------------------------------------------

func (t *Transaction) SetRangeInHash(key string, fields map[string]string) error {
	if err := store.RequireKey("hash key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTSetRangeInHash, Key: key, Fields: maps.Clone(fields)})
}

func (t *Transaction) RemoveHash(key string) error {
	if err := store.RequireKey("hash key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTRemoveHash, Key: key})
}

func (t *Transaction) ExpireHash(key string, expireIn time.Duration) error {
	return t.expireKey(db.KindHash, key, expireIn)
}

func (t *Transaction) PersistHash(key string) error {
	return t.persistKey(db.KindHash, key)
}

func (t *Transaction) expireKey(kind db.Kind, key string, expireIn time.Duration) error {
	if err := store.RequireKey(kind.String()+" key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTExpireKey, Kind: kind, Key: key, ExpireIn: expireIn})
}

func (t *Transaction) persistKey(kind db.Kind, key string) error {
	if err := store.RequireKey(kind.String()+" key", key); err != nil {
		return err
	}
	return t.enqueue(Command{Type: CommandTPersistKey, Kind: kind, Key: key})
}

// --------------------------------------------------------------------------
// Commit and Discard
// --------------------------------------------------------------------------

// Commit swaps out the buffered commands, applies them in order and wakes all
// goroutines blocked in FetchNextJob.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.discarded {
		t.mu.Unlock()
		return store.NewError(store.RetCInvalidOperation, "transaction was discarded")
	}
	commands := t.commands
	t.commands = nil
	t.mu.Unlock()

	start := time.Now()
	now := t.s.now()
	for _, cmd := range commands {
		t.s.apply(cmd, now)
	}

	t.s.metrics.commits.Inc()
	t.s.metrics.commands.Add(len(commands))
	t.s.wake.Notify()

	if elapsed := time.Since(start); elapsed > slowCommit {
		Logger.Infof("commit took long: applied %d commands in %.2fms", len(commands), float64(elapsed)/float64(time.Millisecond))
	}
	return nil
}

// Discard drops all buffered commands. Further calls on the transaction
// fail with RetCInvalidOperation.
func (t *Transaction) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands = nil
	t.discarded = true
}

// --------------------------------------------------------------------------
// Command Dispatch
// --------------------------------------------------------------------------

// apply executes a single command against the entity store. Commands never
// fail: absent targets are ignored.
func (s *Storage) apply(cmd Command, now time.Time) {
	switch cmd.Type {
	case CommandTSetJobState, CommandTAddJobState:
		job, ok := db.GetAs[*db.Job](s.db, db.StringKey(cmd.Key))
		if !ok {
			Logger.Debugf("%s: job %s not found, ignoring", cmd.Type, cmd.Key)
			return
		}
		state := db.JobState{
			Name:      cmd.State.Name,
			Reason:    cmd.State.Reason,
			CreatedAt: now,
			Data:      cmd.State.Data,
		}
		if cmd.Type == CommandTSetJobState {
			job.SetState(state)
		} else {
			job.AddState(state)
		}

	case CommandTExpireJob:
		if job, ok := db.GetAs[*db.Job](s.db, db.StringKey(cmd.Key)); ok {
			job.SetExpireAt(now.Add(cmd.ExpireIn))
		}

	case CommandTPersistJob:
		if job, ok := db.GetAs[*db.Job](s.db, db.StringKey(cmd.Key)); ok {
			job.Persist()
		}

	case CommandTAddToQueue:
		s.db.Create(&db.QueueEntry{
			ID:      s.db.NextID(db.KindQueueEntry),
			Queue:   cmd.Key,
			JobID:   cmd.Value,
			AddedAt: now,
		})

	case CommandTCounter:
		c := &db.Counter{
			ID:    s.db.NextID(db.KindCounter),
			Name:  cmd.Key,
			Value: cmd.Delta,
		}
		if cmd.ExpireIn > 0 {
			c.SetExpireAt(now.Add(cmd.ExpireIn))
		}
		s.db.Create(c)

	case CommandTAddToSet:
		s.setMember(cmd.Key, cmd.Value).SetScore(cmd.Score)

	case CommandTAddRangeToSet:
		for _, v := range cmd.Values {
			s.setMember(cmd.Key, v)
		}

	case CommandTRemoveFromSet:
		if e, ok := s.db.GetNamed(db.KindSet, db.CompositeKey(cmd.Key, cmd.Value)); ok {
			s.db.Delete(e)
		}

	case CommandTRemoveSet, CommandTRemoveHash:
		kind := db.KindSet
		if cmd.Type == CommandTRemoveHash {
			kind = db.KindHash
		}
		for _, e := range s.db.FindByKey(kind, cmd.Key) {
			s.db.Delete(e)
		}

	case CommandTInsertToList:
		s.db.Create(&db.ListEntry{
			ID:    s.db.NextID(db.KindList),
			Name:  cmd.Key,
			Value: cmd.Value,
		})

	case CommandTRemoveFromList:
		for _, e := range s.db.FindByKey(db.KindList, cmd.Key) {
			if e.(*db.ListEntry).Value == cmd.Value {
				s.db.Delete(e)
			}
		}

	case CommandTTrimList:
		for i, e := range s.db.FindByKey(db.KindList, cmd.Key) {
			if i < cmd.From || i > cmd.To {
				s.db.Delete(e)
			}
		}

	case CommandTSetRangeInHash:
		s.setHashFields(cmd.Key, cmd.Fields)

	case CommandTExpireKey, CommandTPersistKey:
		for _, e := range s.db.FindByKey(cmd.Kind, cmd.Key) {
			x, ok := e.(db.ExpirableEntity)
			if !ok {
				continue
			}
			if cmd.Type == CommandTExpireKey {
				x.SetExpireAt(now.Add(cmd.ExpireIn))
			} else {
				x.Persist()
			}
		}

	default:
		Logger.Errorf("unknown command %s, ignoring", cmd.Type)
	}
}

// setMember returns the member value of set key, creating it with score 0.
func (s *Storage) setMember(key, value string) *db.SetEntry {
	e, _ := s.db.GetOrCreateNamed(db.KindSet, db.CompositeKey(key, value), func() db.Entity {
		return &db.SetEntry{
			ID:    s.db.NextID(db.KindSet),
			Name:  key,
			Value: value,
		}
	})
	return e.(*db.SetEntry)
}

// setHashFields upserts the given fields of hash key. Fields are written in
// sorted order so new rows get deterministic ids.
func (s *Storage) setHashFields(key string, fields map[string]string) {
	for _, field := range slices.Sorted(maps.Keys(fields)) {
		e, _ := s.db.GetOrCreateNamed(db.KindHash, db.CompositeKey(key, field), func() db.Entity {
			return &db.HashEntry{
				ID:    s.db.NextID(db.KindHash),
				Name:  key,
				Field: field,
			}
		})
		e.(*db.HashEntry).SetValue(fields[field])
	}
}
