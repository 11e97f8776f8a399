package maintenance

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"time"
)

// ExpirationManager deletes expired entities of every expirable kind.
//
// Thread-safety: Execute and SweepKind may run concurrently with all store
// operations. Running two sweeps at the same time is safe but pointless.
type ExpirationManager struct {
	db   *db.DB
	opts *store.Options

	removed  map[db.Kind]*metrics.Counter
	duration *metrics.Histogram
}

// NewExpirationManager creates an expiration manager for d. The metrics are
// registered in set.
func NewExpirationManager(d *db.DB, opts *store.Options, set *metrics.Set) *ExpirationManager {
	m := &ExpirationManager{
		db:       d,
		opts:     opts.WithDefaults(),
		removed:  make(map[db.Kind]*metrics.Counter, len(db.ExpirableKinds)),
		duration: set.NewHistogram("memjob_expiration_cycle_duration_seconds"),
	}
	for _, k := range db.ExpirableKinds {
		m.removed[k] = set.NewCounter(fmt.Sprintf(`memjob_expired_total{kind=%q}`, k))
	}
	return m
}

func (m *ExpirationManager) String() string {
	return "expiration manager"
}

// Run sweeps all expirable kinds every ExpirationCheckInterval.
func (m *ExpirationManager) Run(ctx context.Context) error {
	return loop(ctx, m.String(), m.opts.ExpirationCheckInterval, m.Execute)
}

// Execute sweeps every expirable kind once, in the order of
// db.ExpirableKinds.
func (m *ExpirationManager) Execute(ctx context.Context) error {
	start := time.Now()
	total := 0
	for _, kind := range db.ExpirableKinds {
		removed, err := m.SweepKind(ctx, kind)
		total += removed
		if err != nil {
			return err
		}
	}
	m.duration.UpdateDuration(start)
	if total > 0 {
		Logger.Infof("removed %d expired entities in %v", total, time.Since(start))
	}
	return nil
}

// SweepKind removes the expired entities of kind in batches of BatchSize,
// pausing PassDelay between non-empty batches, until a batch removes nothing.
// Entities expiring after the sweep started are left alone. It returns the
// number of removed entities.
func (m *ExpirationManager) SweepKind(ctx context.Context, kind db.Kind) (int, error) {
	if !kind.Expirable() {
		return 0, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("kind %s does not expire", kind))
	}

	sweepStart := m.opts.Now()
	stillExpired := func(e db.Entity) bool {
		return e.(db.ExpirableEntity).ExpiredBefore(sweepStart)
	}

	total := 0
	for {
		if ctx.Err() != nil {
			return total, cancelled(ctx, "sweeping "+kind.String())
		}

		batch := m.db.Expired(kind, sweepStart, m.opts.BatchSize)
		var removed int
		if kind == db.KindAggregatedCounter {
			// a combined counter read must not see a half removed counter
			m.db.WithCounterCompaction(func() {
				removed = m.db.DeleteIf(batch, stillExpired)
			})
		} else {
			// the expiry may have been moved or cleared since the selection
			removed = m.db.DeleteIf(batch, stillExpired)
		}
		total += removed
		m.removed[kind].Add(removed)

		if removed == 0 {
			return total, nil
		}
		Logger.Debugf("removed %d expired %s entities", removed, kind)

		if !sleep(ctx, m.opts.PassDelay) {
			return total, cancelled(ctx, "sweeping "+kind.String())
		}
	}
}
