package db

import (
	"fmt"
	"strconv"

	"github.com/snowflake-kv/sfdash/cmd/util"
	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/rpc/client"
	"github.com/spf13/cobra"

	gometrics "github.com/rcrowley/go-metrics"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Runs the server side entries benchmark",
	Long: `Runs the server side entries benchmark. The server writes, reads and
deletes batches of 1, 10, 100 and 1000 entries and reports the time per batch.`,
	Args: cobra.NoArgs,
	RunE: bench,
}

func bench(cmd *cobra.Command, _ []string) error {
	if err := dbSession.Require(access.DBStats); err != nil {
		return err
	}

	fmt.Println("running benchmark...")
	result, err := dbSession.DB.Benchmark(cmd.Context())
	if err != nil {
		return err
	}

	series := []struct {
		name   string
		points []client.BenchmarkPoint
	}{
		{"write", result.Write},
		{"read", result.Read},
		{"delete", result.Delete},
	}

	rows := make([][]string, 0)
	for _, s := range series {
		for _, p := range s.points {
			rows = append(rows, []string{
				s.name,
				strconv.FormatInt(p.Amount, 10),
				fmt.Sprintf("%.3f ms", p.Time),
			})
		}
	}
	fmt.Println(util.RenderTable([]string{"Test", "Entries", "Time"}, rows))

	summary := make([][]string, 0, len(series))
	for _, s := range series {
		h := perEntryHistogram(s.points)
		if h.Count() == 0 {
			continue
		}
		summary = append(summary, []string{
			s.name,
			fmt.Sprintf("%.2f µs", h.Mean()),
			fmt.Sprintf("%d µs", h.Min()),
			fmt.Sprintf("%d µs", h.Max()),
			fmt.Sprintf("%.2f µs", h.StdDev()),
		})
	}
	fmt.Println(util.SectionStyle.Render(util.TitleStyle.Render("Time per entry")))
	fmt.Println(util.RenderTable([]string{"Test", "Mean", "Min", "Max", "Std. dev."}, summary))
	return nil
}

// perEntryHistogram returns a histogram of the time per entry (in
// microseconds) over all batches of a series
func perEntryHistogram(points []client.BenchmarkPoint) gometrics.Histogram {
	h := gometrics.NewHistogram(gometrics.NewUniformSample(len(points) + 1))
	for _, p := range points {
		if p.Amount <= 0 {
			continue
		}
		h.Update(int64(p.Time * 1000 / float64(p.Amount)))
	}
	return h
}
