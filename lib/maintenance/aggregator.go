package maintenance

import (
	"context"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"time"
)

// CounterAggregator merges raw counter rows into one aggregated counter per
// key.
//
// A merge deletes the raw rows and adds their sum to the aggregated counter
// within db.WithCounterCompaction, so combined counter reads taken with
// db.WithCounterSnapshot never count a row twice or not at all.
//
// Thread-safety: Execute and AggregatePass may run concurrently with all
// store operations and with each other.
type CounterAggregator struct {
	db   *db.DB
	opts *store.Options

	merged   *metrics.Counter
	duration *metrics.Histogram
}

// group is the sum and maximum expiry of the merged rows of one key.
type group struct {
	sum      int64
	expireAt time.Time
}

// NewCounterAggregator creates a counter aggregator for d. The metrics are
// registered in set.
func NewCounterAggregator(d *db.DB, opts *store.Options, set *metrics.Set) *CounterAggregator {
	return &CounterAggregator{
		db:       d,
		opts:     opts.WithDefaults(),
		merged:   set.NewCounter("memjob_counters_aggregated_total"),
		duration: set.NewHistogram("memjob_aggregation_cycle_duration_seconds"),
	}
}

func (a *CounterAggregator) String() string {
	return "counter aggregator"
}

// Run aggregates the raw counters every CountersAggregateInterval.
func (a *CounterAggregator) Run(ctx context.Context) error {
	return loop(ctx, a.String(), a.opts.CountersAggregateInterval, a.Execute)
}

// Execute runs aggregation passes, pausing PassDelay between non-empty
// passes, until a pass merges nothing.
func (a *CounterAggregator) Execute(ctx context.Context) error {
	start := time.Now()
	total := 0
	for {
		if ctx.Err() != nil {
			return cancelled(ctx, "aggregating counters")
		}

		merged := a.AggregatePass()
		total += merged
		if merged == 0 {
			break
		}

		if !sleep(ctx, a.opts.PassDelay) {
			return cancelled(ctx, "aggregating counters")
		}
	}
	a.duration.UpdateDuration(start)
	if total > 0 {
		Logger.Infof("aggregated %d counter rows in %v", total, time.Since(start))
	}
	return nil
}

// AggregatePass merges up to BatchSize raw counter rows and returns how many
// rows were merged.
func (a *CounterAggregator) AggregatePass() int {
	var batch []*db.Counter
	a.db.Range(db.KindCounter, func(e db.Entity) bool {
		batch = append(batch, e.(*db.Counter))
		return len(batch) < a.opts.BatchSize
	})
	if len(batch) == 0 {
		return 0
	}

	merged := 0
	a.db.WithCounterCompaction(func() {
		groups := make(map[string]*group)
		for _, c := range batch {
			// only rows this pass removed are added, a concurrent pass or the
			// expiration manager may have taken the others
			if !a.db.Delete(c) {
				continue
			}
			merged++

			g, ok := groups[c.Name]
			if !ok {
				g = &group{}
				groups[c.Name] = g
			}
			g.sum += c.Value
			if at, ok := c.ExpireAt(); ok && at.After(g.expireAt) {
				g.expireAt = at
			}
		}

		for key, g := range groups {
			e, _ := a.db.GetOrCreateNamed(db.KindAggregatedCounter, key, func() db.Entity {
				return &db.AggregatedCounter{
					ID:   a.db.NextID(db.KindAggregatedCounter),
					Name: key,
				}
			})
			agg := e.(*db.AggregatedCounter)
			agg.Add(g.sum)
			agg.RaiseExpireAt(g.expireAt)
		}
	})

	a.merged.Add(merged)
	return merged
}
