package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/snowflake-kv/sfdash/lib/eventbus"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/tidwall/gjson"
)

// IFetcher issues correlated requests. It is implemented by SocketHelper and
// by the session controller, which forwards to its current helper.
type IFetcher interface {
	Fetch(ctx context.Context, endpoint string, data any, timeout ...time.Duration) (*common.Envelope, error)
	FetchWithMinDelay(ctx context.Context, endpoint string, data any, minDelay time.Duration) (*common.Envelope, error)
}

// ApplicationError is a response with success=false
type ApplicationError struct {
	Endpoint string
	MsgID    string
	Msg      string
}

func (e *ApplicationError) Error() string {
	switch {
	case e.Msg != "" && e.MsgID != "":
		return fmt.Sprintf("%s failed: %s (%s)", e.Endpoint, e.Msg, e.MsgID)
	case e.Msg != "":
		return fmt.Sprintf("%s failed: %s", e.Endpoint, e.Msg)
	case e.MsgID != "":
		return fmt.Sprintf("%s failed: %s", e.Endpoint, e.MsgID)
	default:
		return fmt.Sprintf("%s failed", e.Endpoint)
	}
}

// --------------------------------------------------------------------------
// Result types
// --------------------------------------------------------------------------

// Entry is one database entry. Value holds the stored (stringified) form.
type Entry struct {
	Key       string `json:"key"`
	KeyHash   string `json:"keyHash"`
	Size      int64  `json:"size"`
	TotalSize int64  `json:"totalSize"`
	Index     int64  `json:"index"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

// Decoded returns the parsed value of the entry
func (e Entry) Decoded() any {
	return common.ParseValue(e.Value)
}

// Page is one page of the entry listing
type Page struct {
	List         []Entry
	EntriesCount int64
}

// DBStats holds the parts returned by the dbStats endpoint
type DBStats struct {
	raw json.RawMessage
}

// Has reports whether the part was returned
func (s DBStats) Has(part string) bool {
	return gjson.GetBytes(s.raw, gjson.Escape(part)).Exists()
}

// Number returns a numeric part (numeric strings are accepted)
func (s DBStats) Number(part string) float64 {
	return gjson.GetBytes(s.raw, gjson.Escape(part)).Float()
}

// String returns a part as string
func (s DBStats) String(part string) string {
	return gjson.GetBytes(s.raw, gjson.Escape(part)).String()
}

// Bool returns a boolean part
func (s DBStats) Bool(part string) bool {
	return gjson.GetBytes(s.raw, gjson.Escape(part)).Bool()
}

// Raw returns the raw json of the stats object
func (s DBStats) Raw() json.RawMessage {
	return s.raw
}

// Overview returns the "stats" part
func (s DBStats) Overview() OverviewStats {
	stats := gjson.GetBytes(s.raw, "stats")
	return OverviewStats{
		PersistentStatus: stats.Get("persistentStatus").String(),
		LastPersistent:   stats.Get("lastPersistent").Int(),
		LastReload:       stats.Get("lastReload").Int(),
	}
}

// OverviewStats is the persistence overview of the database
type OverviewStats struct {
	PersistentStatus string
	LastPersistent   int64 // Unix millis, 0 if never
	LastReload       int64 // Unix millis, 0 if never
}

// TypeCount is the number of entries of one value type
type TypeCount struct {
	Type  string
	Count int64
}

// BenchmarkPoint is one measurement of a benchmark series
type BenchmarkPoint struct {
	Amount int64   // Number of entries processed
	Time   float64 // Milliseconds
}

// BenchmarkResult holds the series of the entries benchmark
type BenchmarkResult struct {
	Write  []BenchmarkPoint
	Read   []BenchmarkPoint
	Delete []BenchmarkPoint
}

// --------------------------------------------------------------------------
// DBClient
// --------------------------------------------------------------------------

// DBClient is a typed client for the database endpoints of the dashboard socket
type DBClient struct {
	fetcher IFetcher
	bus     *eventbus.Bus
}

// NewDBClient creates a new client. Reload events are published on bus after
// successful writes (bus may be nil).
func NewDBClient(f IFetcher, bus *eventbus.Bus) *DBClient {
	return &DBClient{fetcher: f, bus: bus}
}

// Get loads a single entry
func (c *DBClient) Get(ctx context.Context, key string) (*Entry, error) {
	env, err := c.call(ctx, "get", map[string]any{"key": key})
	if err != nil {
		return nil, err
	}

	value := gjson.GetBytes(env.Data, "value")
	entry := &Entry{
		Key:  key,
		Type: gjson.GetBytes(env.Data, "type").String(),
	}
	if value.Type == gjson.String {
		entry.Value = value.Str
	} else {
		entry.Value = value.Raw
	}
	if !value.Exists() || entry.Type == "" {
		return nil, fmt.Errorf("get: incomplete response for key %q", key)
	}
	return entry, nil
}

// Set stores value under key. The value is sent in its stringified form.
func (c *DBClient) Set(ctx context.Context, key string, value any) error {
	raw, err := common.StringifyValue(value)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return c.SetRaw(ctx, key, raw)
}

// SetRaw stores an already stringified value
func (c *DBClient) SetRaw(ctx context.Context, key, raw string) error {
	_, err := c.call(ctx, "set", map[string]any{
		"stringified": true,
		"key":         key,
		"value":       raw,
	})
	if err != nil {
		return err
	}
	c.publish(eventbus.KindReloadDatabase, eventbus.KindReloadDatabaseStats)
	return nil
}

// Remove deletes an entry
func (c *DBClient) Remove(ctx context.Context, key string) error {
	if _, err := c.call(ctx, "remove", map[string]any{"key": key}); err != nil {
		return err
	}
	c.publish(eventbus.KindReloadDatabase, eventbus.KindReloadDatabaseStats)
	return nil
}

// Read lists one page of entries. currentPage starts at 0.
func (c *DBClient) Read(ctx context.Context, perPage, currentPage int) (*Page, error) {
	env, err := c.call(ctx, "read", map[string]any{
		"perPage":     perPage,
		"currentPage": currentPage,
	})
	if err != nil {
		return nil, err
	}

	page := &Page{
		EntriesCount: gjson.GetBytes(env.Data, "entriesCount").Int(),
	}
	if list := gjson.GetBytes(env.Data, "list"); list.IsArray() {
		if err := json.Unmarshal([]byte(list.Raw), &page.List); err != nil {
			return nil, fmt.Errorf("read: failed to decode entries: %w", err)
		}
	}
	return page, nil
}

// Stats requests the given parts of the database statistics
func (c *DBClient) Stats(ctx context.Context, parts ...string) (DBStats, error) {
	env, err := c.call(ctx, "dbStats", map[string]any{"parts": parts})
	if err != nil {
		return DBStats{}, err
	}
	return DBStats{raw: env.Data}, nil
}

// StatsWithMinDelay is Stats with a latency floor (used for loading indicators)
func (c *DBClient) StatsWithMinDelay(ctx context.Context, minDelay time.Duration, parts ...string) (DBStats, error) {
	env, err := c.fetcher.FetchWithMinDelay(ctx, "dbStats", map[string]any{"parts": parts}, minDelay)
	if err != nil {
		return DBStats{}, err
	}
	if err := checkSuccess("dbStats", env); err != nil {
		return DBStats{}, err
	}
	return DBStats{raw: env.Data}, nil
}

// DataTypeAnalyze returns the number of entries per value type in the order
// of common.ValueTypes. Types missing from the response are omitted.
func (c *DBClient) DataTypeAnalyze(ctx context.Context) ([]TypeCount, error) {
	env, err := c.call(ctx, "dataTypeAnalyze", nil)
	if err != nil {
		return nil, err
	}

	analyzed := gjson.GetBytes(env.Data, "analyzed")
	if !analyzed.IsObject() {
		return nil, fmt.Errorf("dataTypeAnalyze: response has no analysis")
	}

	counts := make([]TypeCount, 0, len(common.ValueTypes))
	for _, t := range common.ValueTypes {
		if v := analyzed.Get(t); v.Type == gjson.Number {
			counts = append(counts, TypeCount{Type: t, Count: v.Int()})
		}
	}
	return counts, nil
}

// Benchmark runs the server side benchmark. Without tests the entries benchmark runs.
func (c *DBClient) Benchmark(ctx context.Context, tests ...string) (*BenchmarkResult, error) {
	if len(tests) == 0 {
		tests = []string{"entries"}
	}

	env, err := c.call(ctx, "benchmark", map[string]any{"tests": tests})
	if err != nil {
		return nil, err
	}

	bench := gjson.GetBytes(env.Data, "benchmark")
	write, read, del := bench.Get("entries_write"), bench.Get("entries_read"), bench.Get("entries_delete")
	if !write.IsObject() || !read.IsObject() || !del.IsObject() {
		return nil, fmt.Errorf("benchmark: incomplete response")
	}

	return &BenchmarkResult{
		Write:  benchmarkSeries(write),
		Read:   benchmarkSeries(read),
		Delete: benchmarkSeries(del),
	}, nil
}

// Persistent writes the database to disk and returns the server side duration
func (c *DBClient) Persistent(ctx context.Context) (time.Duration, error) {
	return c.timed(ctx, "persistent")
}

// Reload reloads the database from disk and returns the server side duration
func (c *DBClient) Reload(ctx context.Context) (time.Duration, error) {
	return c.timed(ctx, "reload")
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// call issues a request and converts a failed response into an *ApplicationError
func (c *DBClient) call(ctx context.Context, endpoint string, data any) (*common.Envelope, error) {
	env, err := c.fetcher.Fetch(ctx, endpoint, data)
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(endpoint, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (c *DBClient) timed(ctx context.Context, endpoint string) (time.Duration, error) {
	env, err := c.call(ctx, endpoint, nil)
	if err != nil {
		return 0, err
	}
	c.publish(eventbus.KindReloadOverview)

	ms := gjson.GetBytes(env.Data, "finished").Float()
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func (c *DBClient) publish(kinds ...eventbus.Kind) {
	if c.bus == nil {
		return
	}
	for _, k := range kinds {
		c.bus.Publish(eventbus.Event{Kind: k})
	}
}

func checkSuccess(endpoint string, env *common.Envelope) error {
	if env == nil {
		return &ApplicationError{Endpoint: endpoint}
	}
	if !env.Success {
		return &ApplicationError{Endpoint: endpoint, MsgID: env.MsgID(), Msg: env.Msg()}
	}
	return nil
}

// benchmarkSeries converts {"<amount>": {"time": ms}} into points sorted by amount
func benchmarkSeries(series gjson.Result) []BenchmarkPoint {
	var points []BenchmarkPoint
	series.ForEach(func(key, value gjson.Result) bool {
		amount, err := strconv.ParseInt(key.String(), 10, 64)
		if err != nil {
			return true
		}
		points = append(points, BenchmarkPoint{Amount: amount, Time: value.Get("time").Float()})
		return true
	})
	sort.Slice(points, func(i, j int) bool { return points[i].Amount < points[j].Amount })
	return points
}
