package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/memjob/cmd/util"
	"github.com/ValentinKolb/memjob/lib/common"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/ValentinKolb/memjob/lib/store/lstore"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("cli")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory job storage with a demo workload",
		Long: `Run an in-memory job storage together with producers enqueueing demo jobs and workers processing them.
Storage metrics are served in Prometheus format on /metrics, a storage summary on /info.
The configuration can be set via command line flags or environment variables. The format of the environment variables is MEMJOB_<flag> (e.g. MEMJOB_FETCH_TIMEOUT=10m)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupStorageFlags(ServeCmd)

	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the HTTP server will listen"))

	key = "queues"
	ServeCmd.PersistentFlags().String(key, "critical,default", cmdUtil.WrapString("Comma-separated list of queues, the producers fill them in turn"))

	key = "producers"
	ServeCmd.PersistentFlags().Int(key, 2, cmdUtil.WrapString("Number of goroutines enqueueing jobs"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Number of goroutines processing jobs"))

	key = "jobs-per-second"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("Number of jobs each producer enqueues per second"))

	key = "lock-resource"
	ServeCmd.PersistentFlags().String(key, "demo:recurring", cmdUtil.WrapString("Named lock held by the workers while they process a job of the first queue"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Storage = *cmdUtil.GetStorageOptions().WithDefaults()
	serveCmdConfig.Producers = viper.GetInt("producers")
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.JobsPerSecond = viper.GetInt("jobs-per-second")
	serveCmdConfig.LockResource = viper.GetString("lock-resource")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Queues = nil
	for _, q := range strings.Split(viper.GetString("queues"), ",") {
		if q = strings.TrimSpace(q); q != "" {
			serveCmdConfig.Queues = append(serveCmdConfig.Queues, q)
		}
	}
	if len(serveCmdConfig.Queues) == 0 {
		return fmt.Errorf("at least one queue is required")
	}
	if serveCmdConfig.Workers <= 0 {
		return fmt.Errorf("at least one worker is required")
	}
	if serveCmdConfig.JobsPerSecond <= 0 {
		return fmt.Errorf("jobs-per-second must be positive")
	}
	return nil
}

// run starts the storage, the demo workload and the HTTP server
func run(_ *cobra.Command, _ []string) error {
	fmt.Println(serveCmdConfig.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	storage := lstore.NewLocalStorage(&serveCmdConfig.Storage)
	demo := newWorkload(storage, serveCmdConfig)

	srv := &http.Server{
		Addr:    serveCmdConfig.Endpoint,
		Handler: newMux(storage),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return storage.Run(ctx)
	})
	g.Go(func() error {
		return demo.run(ctx)
	})
	g.Go(func() error {
		Logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	Logger.Infof("stopped")
	return err
}

// --------------------------------------------------------------------------
// HTTP
// --------------------------------------------------------------------------

// info is the response of /info
type info struct {
	Servers int                           `json:"servers"`
	Queues  map[string]lstore.QueueCounts `json:"queues"`
	Storage db.DatabaseInfo               `json:"storage"`
	Options map[string]string             `json:"options"`
}

func newMux(storage *lstore.Storage) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
		storage.WritePrometheus(w)
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, _ *http.Request) {
		opts := storage.Options()
		resp := info{
			Servers: storage.DB().Count(db.KindServer),
			Queues:  make(map[string]lstore.QueueCounts),
			Storage: storage.DB().GetInfo(),
			Options: map[string]string{
				"fetch-timeout":        opts.FetchNextJobTimeout.String(),
				"expiration-interval":  opts.ExpirationCheckInterval.String(),
				"aggregation-interval": opts.CountersAggregateInterval.String(),
			},
		}
		for _, q := range storage.Queues() {
			resp.Queues[q] = storage.EnqueuedAndFetchedCount(q)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			Logger.Warningf("failed to write info: %v", err)
		}
	})

	return mux
}

// --------------------------------------------------------------------------
// Demo Workload
// --------------------------------------------------------------------------

// workload enqueues and processes demo jobs through the storage connection,
// the way a job framework would.
type workload struct {
	conn     store.IConnection
	conf     *common.ServerConfig
	serverID string
}

func newWorkload(storage *lstore.Storage, conf *common.ServerConfig) *workload {
	return &workload{
		conn:     storage.Connection(),
		conf:     conf,
		serverID: "memjob:" + uuid.NewString(),
	}
}

func (w *workload) run(ctx context.Context) error {
	if err := w.conn.AnnounceServer(w.serverID, store.ServerContext{
		WorkerCount: w.conf.Workers,
		Queues:      w.conf.Queues,
	}); err != nil {
		return err
	}
	defer func() {
		if err := w.conn.RemoveServer(w.serverID); err != nil {
			Logger.Warningf("failed to remove server: %v", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.heartbeat(ctx)
	})
	for i := range w.conf.Producers {
		g.Go(func() error {
			return w.produce(ctx, i)
		})
	}
	for i := range w.conf.Workers {
		g.Go(func() error {
			return w.work(ctx, i)
		})
	}
	return g.Wait()
}

// heartbeat keeps the server record alive and removes servers that stopped
// sending heartbeats.
func (w *workload) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := w.conn.Heartbeat(w.serverID); err != nil {
			return err
		}
		removed, err := w.conn.RemoveTimedOutServers(5 * time.Minute)
		if err != nil {
			return err
		}
		if removed > 0 {
			Logger.Infof("removed %d timed out servers", removed)
		}
	}
}

func (w *workload) produce(ctx context.Context, producer int) error {
	ticker := time.NewTicker(time.Second / time.Duration(w.conf.JobsPerSecond))
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		queue := w.conf.Queues[n%len(w.conf.Queues)]
		payload := fmt.Sprintf(`{"producer":%d,"n":%d}`, producer, n)
		id, err := w.conn.CreateExpiredJob([]byte(payload), map[string]string{"queue": queue}, time.Now(), time.Hour)
		if err != nil {
			return err
		}

		tx := w.conn.CreateWriteTransaction()
		_ = tx.SetJobState(id, store.State{Name: "Enqueued", Reason: "created by producer"})
		_ = tx.AddToQueue(queue, id)
		_ = tx.PersistJob(id)
		_ = tx.IncrementCounter("stats:enqueued")
		if err := tx.Commit(); err != nil {
			return err
		}
	}
}

func (w *workload) work(ctx context.Context, worker int) error {
	for {
		job, err := w.conn.FetchNextJob(ctx, w.conf.Queues)
		if errors.Is(err, store.ErrCancelled) {
			return nil
		} else if err != nil {
			return err
		}

		if err := w.process(job); err != nil {
			Logger.Warningf("worker %d: %s failed: %v", worker, job.JobID(), err)
			_ = job.Requeue()
			continue
		}
		if err := job.RemoveFromQueue(); err != nil {
			return err
		}
	}
}

// process moves a job through Processing to Succeeded. Jobs of the first
// queue run under the named lock.
func (w *workload) process(job store.IFetchedJob) error {
	if job.Queue() == w.conf.Queues[0] {
		lock, err := w.conn.AcquireDistributedLock(w.conf.LockResource, time.Second)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	tx := w.conn.CreateWriteTransaction()
	_ = tx.SetJobState(job.JobID(), store.State{Name: "Processing", Data: map[string]string{"server": w.serverID}})
	if err := tx.Commit(); err != nil {
		return err
	}

	// simulated work
	time.Sleep(10 * time.Millisecond)

	tx = w.conn.CreateWriteTransaction()
	_ = tx.SetJobState(job.JobID(), store.State{Name: "Succeeded"})
	_ = tx.ExpireJob(job.JobID(), 10*time.Minute)
	_ = tx.IncrementCounter("stats:succeeded")
	_ = tx.IncrementCounterE("stats:succeeded:"+time.Now().Format("2006-01-02-15"), 24*time.Hour)
	// the list keeps the first 100 succeeded jobs
	_ = tx.InsertToList("succeeded", job.JobID())
	_ = tx.TrimList("succeeded", 0, 99)
	_ = tx.AddToSetWithScore("recurring-runs", job.Queue(), float64(time.Now().Unix()))
	return tx.Commit()
}
