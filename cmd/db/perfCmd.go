package db

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/snowflake-kv/sfdash/cmd/util"
	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	gometrics "github.com/rcrowley/go-metrics"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Load test of the dashboard socket from this client",
		Long:    "Runs concurrent requests through a single socket connection and reports throughput and latency.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__sfdash_perf"
	perfNumThreads = 10
	perfKeySpread  = 100
	perfSkip       = make([]string, 0)
)

// perfResult is the outcome of one test
type perfResult struct {
	bench   testing.BenchmarkResult
	latency gometrics.Timer
	errors  int64
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Tests to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines issuing requests"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return dbSession.Require(access.DBRead, access.DBWrite)
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dbc := dbSession.DB

	fmt.Println("Load test of the dashboard socket")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	tests := []struct {
		name    string
		prepare bool
		op      func(ctx context.Context, key string, i int) error
	}{
		{"set", false, func(ctx context.Context, key string, _ int) error {
			return dbc.SetRaw(ctx, key, `"test"`)
		}},
		{"get", true, func(ctx context.Context, key string, _ int) error {
			_, err := dbc.Get(ctx, key)
			return err
		}},
		{"read", true, func(ctx context.Context, _ string, _ int) error {
			_, err := dbc.Read(ctx, 25, 0)
			return err
		}},
		{"stats", false, func(ctx context.Context, _ string, _ int) error {
			_, err := dbc.Stats(ctx, "entries_count", "usage_bytes")
			return err
		}},
		{"mixed", true, func(ctx context.Context, key string, i int) error {
			var err error
			switch i % 3 {
			case 0: // set
				err = dbc.SetRaw(ctx, key, `"test"`)
			case 1: // get
				_, err = dbc.Get(ctx, key)
			case 2: // read
				_, err = dbc.Read(ctx, 25, 0)
			}
			return err
		}},
	}

	results := make(map[string]perfResult)
	for _, test := range tests {
		if shouldSkip(test.name) {
			printResult(test.name, perfResult{})
			continue
		}
		if test.name == "stats" && !dbSession.Grant().HasAccess(access.DBStats) {
			printResult(test.name, perfResult{})
			continue
		}

		getKey, iter := getKeys(test.name)
		if test.prepare {
			iter(func(k string) {
				if err := dbc.SetRaw(ctx, k, `"test"`); err != nil {
					log.Printf("(%s) - error setting key: %v\n", test.name, err)
				}
			})
		}

		result := perfResult{latency: gometrics.NewTimer()}
		errCount := gometrics.NewCounter()

		result.bench = testing.Benchmark(func(b *testing.B) {
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					start := time.Now()
					if err := test.op(ctx, getKey(counter), counter); err != nil {
						errCount.Inc(1)
					}
					result.latency.UpdateSince(start)
					counter++
				}
			})
		})
		result.errors = errCount.Count()

		// cleanup
		iter(func(k string) {
			_ = dbc.Remove(ctx, k) // ignore error (not every key was set)
		})

		results[test.name] = result
		printResult(test.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 || result.latency == nil {
		fmt.Printf("%-10sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	p := result.latency.Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-10s%.0f ops/sec\tp50 %s\tp99 %s\terrors %d\n",
		test, opsPerSec, time.Duration(p[0]), time.Duration(p[1]), result.errors)
}

// writeResultsToCSV writes the results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Errors",
		"Host", "Port", "Secure", "TimeoutMs",
		"Threads", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1)
		p := result.latency.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", p[0]),
			fmt.Sprintf("%.0f", p[1]),
			strconv.FormatInt(result.errors, 10),
			config.Host,
			strconv.Itoa(config.Port),
			strconv.FormatBool(config.Secure),
			strconv.Itoa(config.TimeoutMillisecond),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
