package db

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snowflake-kv/sfdash/cmd/util"
	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/lib/monitor"
	"github.com/snowflake-kv/sfdash/lib/stats"
	"github.com/spf13/cobra"
)

// statsParts are all parts the dbStats endpoint knows
var statsParts = []string{
	"used_heap",
	"entries_count",
	"meids_count",
	"usage_bytes",
	"usage_formatted",
	"usage_percent",
	"max_db_size_formatted",
	"is_encrypted",
	"memory_monitor",
}

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dbSession.Require(access.DBRead); err != nil {
				return err
			}
			entry, err := dbSession.DB.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(util.RenderSection(args[0],
				util.Field{Name: "Type", Value: entry.Type},
				util.Field{Name: "Value", Value: entry.Value},
			))
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Long: `Sets the value for a key. With --type auto, JSON literals (numbers,
true, false, null, arrays and objects) keep their type and everything else is
stored as string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dbSession.Require(access.DBWrite); err != nil {
				return err
			}
			valueType, _ := cmd.Flags().GetString("type")
			value, err := parseInput(args[1], valueType)
			if err != nil {
				return err
			}
			if err := dbSession.DB.Set(cmd.Context(), args[0], value); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	rmCmd = &cobra.Command{
		Use:   "rm [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dbSession.Require(access.DBWrite); err != nil {
				return err
			}
			if err := dbSession.DB.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists one page of entries",
		Args:  cobra.NoArgs,
		RunE:  list,
	}
	statsCmd = &cobra.Command{
		Use:   "stats [parts...]",
		Short: "Shows database statistics (all parts if none are given)",
		RunE:  showStats,
	}
	typesCmd = &cobra.Command{
		Use:   "types",
		Short: "Shows the number of entries per value type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := monitor.NewTypeMonitor(dbSession.DB, dbSession.Grant)
			counts, err := m.Poll(cmd.Context())
			if err != nil {
				return err
			}

			var total int64
			for _, c := range counts {
				total += c.Count
			}
			rows := make([][]string, 0, len(counts))
			for _, c := range counts {
				share := 0.0
				if total > 0 {
					share = float64(c.Count) * 100 / float64(total)
				}
				rows = append(rows, []string{c.Type, strconv.FormatInt(c.Count, 10), fmt.Sprintf("%.1f%%", share)})
			}
			fmt.Println(util.RenderTable([]string{"Type", "Entries", "Share"}, rows))
			return nil
		},
	}
	persistCmd = &cobra.Command{
		Use:   "persist",
		Short: "Writes the database to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dbSession.Require(access.CPDatabase); err != nil {
				return err
			}
			took, err := dbSession.DB.Persistent(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("persisted in %s\n", took)
			return nil
		},
	}
	reloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Reloads the database from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dbSession.Require(access.CPDatabase); err != nil {
				return err
			}
			took, err := dbSession.DB.Reload(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("reloaded in %s\n", took)
			return nil
		},
	}
)

func init() {
	key := "type"
	setCmd.Flags().String(key, "auto", util.WrapString("Type of the value (auto, string, number, boolean, null, json, buffer)"))

	key = "page"
	listCmd.Flags().Int(key, 0, util.WrapString("Page to show (zero based)"))
	key = "per-page"
	listCmd.Flags().Int(key, 25, util.WrapString("Entries per page"))
	key = "width"
	listCmd.Flags().Int(key, 40, util.WrapString("Maximum width of the value column"))
}

func list(cmd *cobra.Command, _ []string) error {
	if err := dbSession.Require(access.DBRead); err != nil {
		return err
	}

	page, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")
	width, _ := cmd.Flags().GetInt("width")

	result, err := dbSession.DB.Read(cmd.Context(), perPage, page)
	if err != nil {
		return err
	}

	sizes := stats.NewSizeHistogram()
	rows := make([][]string, 0, len(result.List))
	for _, e := range result.List {
		sizes.AddSample(e.TotalSize)
		rows = append(rows, []string{
			strconv.FormatInt(e.Index, 10),
			e.Key,
			e.Type,
			stats.FormatBytes(float64(e.TotalSize), false),
			truncate(e.Value, width),
		})
	}

	fmt.Println(util.RenderTable([]string{"#", "Key", "Type", "Size", "Value"}, rows))

	pages := int64(1)
	if perPage > 0 && result.EntriesCount > 0 {
		pages = (result.EntriesCount + int64(perPage) - 1) / int64(perPage)
	}
	summary := fmt.Sprintf("page %d of %d, %d entries", page+1, pages, result.EntriesCount)
	if sizes.Count() > 0 {
		summary += fmt.Sprintf(", page size %s (avg %s, p95 ~%s)",
			stats.FormatBytes(float64(sizes.Total()), false),
			stats.FormatBytes(float64(sizes.AverageSize()), false),
			stats.FormatBytes(float64(sizes.PercentileEstimate(95)), false),
		)
	}
	fmt.Println(util.FaintStyle.Render(summary))
	return nil
}

func showStats(cmd *cobra.Command, args []string) error {
	if err := dbSession.Require(access.DBStats); err != nil {
		return err
	}

	parts := args
	if len(parts) == 0 {
		parts = statsParts
	}

	s, err := dbSession.DB.Stats(cmd.Context(), parts...)
	if err != nil {
		return err
	}

	fields := make([]util.Field, 0, len(parts)+3)
	for _, part := range parts {
		value := "n/a"
		switch {
		case !s.Has(part):
		case part == "used_heap" || part == "usage_bytes":
			value = stats.FormatBytes(s.Number(part), true)
		case part == "usage_percent":
			value = fmt.Sprintf("%.2f%%", s.Number(part))
		default:
			value = s.String(part)
		}
		fields = append(fields, util.Field{Name: part, Value: value})
	}

	if s.Has("stats") {
		o := s.Overview()
		fields = append(fields,
			util.Field{Name: "persistent status", Value: o.PersistentStatus},
			util.Field{Name: "last persistent", Value: formatMillis(o.LastPersistent)},
			util.Field{Name: "last reload", Value: formatMillis(o.LastReload)},
		)
	}

	fmt.Println(util.RenderSection("Database statistics", fields...))
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseInput converts a command line value into the value to store
func parseInput(raw, valueType string) (any, error) {
	switch strings.ToLower(valueType) {
	case "", "auto":
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v, nil
		}
		return raw, nil
	case "string":
		return raw, nil
	case "number":
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("value must be a number: %w", err)
		}
		return f, nil
	case "boolean", "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("value must be a boolean: %w", err)
		}
		return b, nil
	case "null":
		return nil, nil
	case "json":
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("value must be valid json: %w", err)
		}
		return v, nil
	case "buffer":
		b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("value must be hex encoded: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("invalid value type %s", valueType)
	}
}

// truncate shortens s to at most width runes
func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
