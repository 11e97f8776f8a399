package lstore

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/db/util"
	"github.com/ValentinKolb/memjob/lib/lockmgr"
	"github.com/ValentinKolb/memjob/lib/maintenance"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
	"io"
	"sync"
	"time"
)

var Logger = logger.GetLogger("store")

// Storage is an in-memory job storage. It owns the entity store, the named
// lock registry, the fetch critical section and the wake signal; nothing is
// shared between two Storage instances.
//
// Thread-safety: All methods are safe for concurrent use.
type Storage struct {
	db    *db.DB
	locks lockmgr.ILockManager
	opts  *store.Options

	fetchMu sync.Mutex   // spans scan-and-claim of FetchNextJob
	wake    *util.Signal // notified on every commit and requeue

	metricSet *metrics.Set
	metrics   storageMetrics

	expiration *maintenance.ExpirationManager
	aggregator *maintenance.CounterAggregator
}

type storageMetrics struct {
	commits      *metrics.Counter
	commands     *metrics.Counter
	fetched      *metrics.Counter
	removed      *metrics.Counter
	requeued     *metrics.Counter
	lockTimeouts *metrics.Counter
	fetchWait    *metrics.Histogram
}

// NewLocalStorage creates a new storage with the given options (optional).
// Zero fields of opts are replaced by their defaults.
func NewLocalStorage(opts *store.Options) *Storage {
	opts = opts.WithDefaults()

	s := &Storage{
		db:        db.New(),
		locks:     lockmgr.NewLockManager(),
		opts:      opts,
		wake:      util.NewSignal(),
		metricSet: metrics.NewSet(),
	}

	s.metrics = storageMetrics{
		commits:      s.metricSet.NewCounter("memjob_transaction_commits_total"),
		commands:     s.metricSet.NewCounter("memjob_transaction_commands_total"),
		fetched:      s.metricSet.NewCounter("memjob_queue_fetched_total"),
		removed:      s.metricSet.NewCounter("memjob_queue_removed_total"),
		requeued:     s.metricSet.NewCounter("memjob_queue_requeued_total"),
		lockTimeouts: s.metricSet.NewCounter("memjob_lock_timeouts_total"),
		fetchWait:    s.metricSet.NewHistogram("memjob_queue_fetch_wait_seconds"),
	}
	for _, k := range db.Kinds {
		kind := k
		s.metricSet.NewGauge(fmt.Sprintf(`memjob_entities{kind=%q}`, kind), func() float64 {
			return float64(s.db.Count(kind))
		})
	}
	s.metricSet.NewGauge("memjob_locks", func() float64 {
		return float64(s.locks.Len())
	})

	s.expiration = maintenance.NewExpirationManager(s.db, opts, s.metricSet)
	s.aggregator = maintenance.NewCounterAggregator(s.db, opts, s.metricSet)

	return s
}

// Connection returns a connection to the storage. Connections are cheap and
// stateless, all of them share the storage.
func (s *Storage) Connection() store.IConnection {
	return &connection{s: s}
}

// DB returns the underlying entity store. Monitoring code may enumerate it
// but must not mutate it.
func (s *Storage) DB() *db.DB {
	return s.db
}

// Options returns a copy of the effective options.
func (s *Storage) Options() store.Options {
	return *s.opts
}

// Components returns the background maintenance loops of the storage.
func (s *Storage) Components() []maintenance.Component {
	return []maintenance.Component{s.expiration, s.aggregator}
}

// Run runs all maintenance loops until ctx is done. It returns nil on
// cancellation.
func (s *Storage) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.Components() {
		g.Go(func() error {
			Logger.Infof("starting %s", c)
			defer Logger.Infof("stopped %s", c)
			return c.Run(ctx)
		})
	}
	return g.Wait()
}

// WritePrometheus writes the storage metrics in Prometheus text format.
func (s *Storage) WritePrometheus(w io.Writer) {
	s.metricSet.WritePrometheus(w)
}

// NewTransaction starts a new buffered transaction.
func (s *Storage) NewTransaction() *Transaction {
	return &Transaction{s: s}
}

func (s *Storage) now() time.Time {
	return s.opts.Now()
}
