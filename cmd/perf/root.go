package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/memjob/cmd/util"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/ValentinKolb/memjob/lib/store/lstore"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the in-memory job storage",
		Long:    "Runs parallel benchmarks of the storage operations against a fresh in-process storage and prints throughput and latency percentiles.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__perf"
	perfNumThreads = 10
	perfKeySpread  = 100
	perfSkip       = make([]string, 0)
)

func init() {
	util.SetupStorageFlags(PerfCmd)

	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. enqueue,lock)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU used by the benchmarks"))
	key = "keys"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// perfTest is a single benchmark. prepare runs before the timer starts and
// may use b.N, op is called once per iteration.
type perfTest struct {
	name    string
	prepare func(b *testing.B, conn store.IConnection)
	op      func(conn store.IConnection, getKey func(int) string, i int) error
}

// perfResult is the outcome of a perfTest
type perfResult struct {
	bench   testing.BenchmarkResult
	latency metrics.Timer
}

var perfTests = []perfTest{
	{
		name: "enqueue",
		op: func(conn store.IConnection, getKey func(int) string, i int) error {
			id, err := conn.CreateExpiredJob([]byte("{}"), nil, time.Now(), time.Hour)
			if err != nil {
				return err
			}
			tx := conn.CreateWriteTransaction()
			_ = tx.SetJobState(id, store.State{Name: "Enqueued"})
			_ = tx.AddToQueue(getKey(i), id)
			return tx.Commit()
		},
	},
	{
		name: "fetch",
		prepare: func(b *testing.B, conn store.IConnection) {
			tx := conn.CreateWriteTransaction()
			for i := range b.N {
				_ = tx.AddToQueue(perfKeyPrefix, fmt.Sprintf("job-%d", i))
			}
			if err := tx.Commit(); err != nil {
				b.Fatal(err)
			}
		},
		op: func(conn store.IConnection, _ func(int) string, _ int) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			job, err := conn.FetchNextJob(ctx, []string{perfKeyPrefix})
			if err != nil {
				return err
			}
			return job.RemoveFromQueue()
		},
	},
	{
		name: "counter",
		op: func(conn store.IConnection, getKey func(int) string, i int) error {
			tx := conn.CreateWriteTransaction()
			_ = tx.IncrementCounter(getKey(i))
			return tx.Commit()
		},
	},
	{
		name: "get-counter",
		prepare: func(b *testing.B, conn store.IConnection) {
			tx := conn.CreateWriteTransaction()
			for i := range perfKeySpread {
				_ = tx.IncrementCounter(perfKey("get-counter", i))
			}
			if err := tx.Commit(); err != nil {
				b.Fatal(err)
			}
		},
		op: func(conn store.IConnection, getKey func(int) string, i int) error {
			_, err := conn.GetCounter(getKey(i))
			return err
		},
	},
	{
		name: "set",
		op: func(conn store.IConnection, getKey func(int) string, i int) error {
			tx := conn.CreateWriteTransaction()
			_ = tx.AddToSetWithScore(perfKeyPrefix, getKey(i), float64(i))
			return tx.Commit()
		},
	},
	{
		name: "hash",
		op: func(conn store.IConnection, getKey func(int) string, i int) error {
			return conn.SetRangeInHash(getKey(i), map[string]string{"n": strconv.Itoa(i)})
		},
	},
	{
		name: "lock",
		op: func(conn store.IConnection, getKey func(int) string, i int) error {
			lock, err := conn.AcquireDistributedLock(getKey(i), time.Second)
			if err != nil {
				return err
			}
			lock.Release()
			return nil
		},
	},
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the in-memory job storage")
	fmt.Println()
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Keys:    %d\n", perfKeySpread)
	fmt.Println()
	fmt.Println("starting tests...")

	results := make(map[string]perfResult)
	for _, test := range perfTests {
		if shouldSkip(test.name) {
			printResult(test.name, perfResult{})
			continue
		}
		result := runTest(test)
		results[test.name] = result
		printResult(test.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return err
		}
	}
	return nil
}

// runTest benchmarks test against a fresh storage
func runTest(test perfTest) perfResult {
	latency := metrics.NewTimer()

	bench := testing.Benchmark(func(b *testing.B) {
		// a fresh storage per round, testing.Benchmark calls this with growing b.N
		storage := lstore.NewLocalStorage(util.GetStorageOptions())
		conn := storage.Connection()
		getKey := keyFunc(test.name)
		latency = metrics.NewTimer()

		if test.prepare != nil {
			test.prepare(b, conn)
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := test.op(conn, getKey, counter); err != nil {
					log.Printf("(%s) - error: %v\n", test.name, err)
				}
				latency.UpdateSince(start)
				counter++
			}
		})
	})

	return perfResult{bench: bench, latency: latency}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

func perfKey(prefix string, i int) string {
	return fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i%perfKeySpread)
}

// keyFunc returns a function mapping an iteration to one of perfKeySpread keys
func keyFunc(prefix string) func(int) string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = perfKey(prefix, i)
	}
	return func(i int) string {
		return keys[i%perfKeySpread]
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := result.latency.Percentiles([]float64{0.5, 0.99})

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, time.Duration(ps[0]), time.Duration(ps[1]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "MaxNs",
		"Threads", "Keys Count", "BatchSize", "FetchTimeout",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	opts := util.GetStorageOptions().WithDefaults()
	for _, test := range slices.Sorted(maps.Keys(results)) {
		result := results[test]
		nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1)
		ps := result.latency.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			strconv.FormatInt(result.latency.Max(), 10),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(opts.BatchSize),
			opts.FetchNextJobTimeout.String(),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
