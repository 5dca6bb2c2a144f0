package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/snowflake-kv/sfdash/cmd/util"
	"github.com/snowflake-kv/sfdash/lib/monitor"
	"github.com/snowflake-kv/sfdash/lib/stats"
	"github.com/snowflake-kv/sfdash/rpc/client"
	"github.com/spf13/cobra"
)

var (
	monitorSession *util.Session

	// MonitorCommands represents the monitor command group
	MonitorCommands = &cobra.Command{
		Use:                "monitor",
		Short:              "Watch database statistics over time",
		PersistentPreRunE:  setupSession,
		PersistentPostRunE: closeSession,
	}

	heapCmd = &cobra.Command{
		Use:   "heap",
		Short: "Samples the heap usage of the server",
		Long: `Samples the heap usage of the server every refresh-interval-used-heap
milliseconds. An interval of 0 takes a single sample.`,
		Args: cobra.NoArgs,
		RunE: watchHeap,
	}

	typesCmd = &cobra.Command{
		Use:   "types",
		Short: "Repeats the value type analysis of the database",
		Long: `Repeats the value type analysis every refresh-interval-type-analyze
milliseconds. An interval of 0 analyzes once.`,
		Args: cobra.NoArgs,
		RunE: watchTypes,
	}
)

func init() {
	key := "samples"
	MonitorCommands.PersistentFlags().Int(key, stats.DefaultWindowSize, util.WrapString("Stop after this many samples (0 = until interrupted)"))

	MonitorCommands.AddCommand(heapCmd)
	MonitorCommands.AddCommand(typesCmd)
}

func setupSession(cmd *cobra.Command, _ []string) error {
	var err error
	monitorSession, err = util.OpenSession(cmd.Context(), "")
	return err
}

func closeSession(_ *cobra.Command, _ []string) error {
	if monitorSession == nil {
		return nil
	}
	return monitorSession.Close()
}

func watchHeap(cmd *cobra.Command, _ []string) error {
	m := monitor.NewHeapMonitor(monitorSession.DB, monitorSession.Grant)
	ctx, limit := limitSamples(cmd)

	return m.Run(ctx, util.GetRefreshInterval("used-heap"), func(v float64) {
		window := m.Window()
		s := window.Stats()
		fmt.Printf("%s  %-12s %s  (min %s, max %s)\n",
			time.Now().Format("15:04:05"),
			stats.FormatBytes(v, true),
			stats.Sparkline(window.Values()),
			stats.FormatBytes(s.Min, true),
			stats.FormatBytes(s.Max, true),
		)
		limit()
	})
}

func watchTypes(cmd *cobra.Command, _ []string) error {
	m := monitor.NewTypeMonitor(monitorSession.DB, monitorSession.Grant)
	ctx, limit := limitSamples(cmd)

	return m.Run(ctx, util.GetRefreshInterval("type-analyze"), func(counts []client.TypeCount) {
		rows := make([][]string, 0, len(counts))
		for _, c := range counts {
			rows = append(rows, []string{c.Type, strconv.FormatInt(c.Count, 10)})
		}
		fmt.Println(util.FaintStyle.Render(time.Now().Format("15:04:05")))
		fmt.Println(util.RenderTable([]string{"Type", "Entries"}, rows))
		limit()
	})
}

// limitSamples returns a context that is canceled once the returned function
// was called --samples times
func limitSamples(cmd *cobra.Command) (context.Context, func()) {
	samples, _ := cmd.Flags().GetInt("samples")
	ctx, cancel := context.WithCancel(cmd.Context())

	seen := 0
	return ctx, func() {
		seen++
		if samples > 0 && seen >= samples {
			cancel()
		}
	}
}
