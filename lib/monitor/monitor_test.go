package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/lib/eventbus"
	"github.com/snowflake-kv/sfdash/rpc/client"
	"github.com/snowflake-kv/sfdash/rpc/common"
)

// heapFetcher answers dbStats with a growing used_heap and dataTypeAnalyze
// with fixed counts
type heapFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func (f *heapFetcher) Fetch(ctx context.Context, endpoint string, data any, timeout ...time.Duration) (*common.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[endpoint]++

	if f.fail {
		return &common.Envelope{Success: false, Data: []byte(`{"msgId":"stats_unavailable"}`)}, nil
	}

	switch endpoint {
	case "dbStats":
		heap := f.calls[endpoint] * 1024
		return &common.Envelope{Success: true, Data: []byte(fmt.Sprintf(`{"used_heap":%d}`, heap))}, nil
	case "dataTypeAnalyze":
		return &common.Envelope{Success: true, Data: []byte(`{"analyzed":{"string":3,"number":1,"null":0}}`)}, nil
	}
	return nil, fmt.Errorf("unexpected endpoint %s", endpoint)
}

func (f *heapFetcher) FetchWithMinDelay(ctx context.Context, endpoint string, data any, minDelay time.Duration) (*common.Envelope, error) {
	return f.Fetch(ctx, endpoint, data)
}

func (f *heapFetcher) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func grantOf(permissions ...string) GrantFunc {
	g := access.NewGrant(&common.AccessData{Alias: "test", Permissions: permissions})
	return func() *access.Grant { return g }
}

func newSource(f *heapFetcher) StatsSource {
	return client.NewDBClient(f, eventbus.New())
}

// TestHeapMonitorPollOnce tests that a zero interval polls exactly once
func TestHeapMonitorPollOnce(t *testing.T) {
	f := &heapFetcher{}
	m := NewHeapMonitor(newSource(f), grantOf(access.DBStats))

	var samples []float64
	if err := m.Run(context.Background(), 0, func(v float64) { samples = append(samples, v) }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if f.count("dbStats") != 1 {
		t.Errorf("expected 1 poll, got %d", f.count("dbStats"))
	}
	if len(samples) != 1 || samples[0] != 1024 {
		t.Errorf("unexpected samples %v", samples)
	}
	if m.Window().Len() != 1 {
		t.Errorf("window holds %d samples", m.Window().Len())
	}
}

// TestHeapMonitorWindow tests that only the latest samples are kept
func TestHeapMonitorWindow(t *testing.T) {
	f := &heapFetcher{}
	m := NewHeapMonitor(newSource(f), grantOf(access.Wildcard))

	for i := 0; i < 25; i++ {
		if _, err := m.Poll(context.Background()); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}

	values := m.Window().Values()
	if len(values) != 20 {
		t.Fatalf("expected 20 samples, got %d", len(values))
	}
	if values[0] != 6*1024 || values[19] != 25*1024 {
		t.Errorf("unexpected window bounds %v .. %v", values[0], values[19])
	}
	if s := m.Window().Stats(); s.Last != 25*1024 || s.Min != 6*1024 {
		t.Errorf("unexpected stats %+v", s)
	}
}

// TestHeapMonitorRunInterval tests polling on an interval until cancel
func TestHeapMonitorRunInterval(t *testing.T) {
	f := &heapFetcher{}
	m := NewHeapMonitor(newSource(f), grantOf(access.DBStats))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	samples := make(chan float64, 16)

	go func() {
		done <- m.Run(ctx, 5*time.Millisecond, func(v float64) {
			select {
			case samples <- v:
			default:
			}
		})
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-samples:
		case <-time.After(2 * time.Second):
			t.Fatalf("sample %d not received", i)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

// TestMonitorAccess tests that monitors never poll without db_stats
func TestMonitorAccess(t *testing.T) {
	f := &heapFetcher{}
	grant := grantOf(access.DBRead, access.DBWrite)

	heap := NewHeapMonitor(newSource(f), grant)
	if err := heap.Run(context.Background(), time.Millisecond, nil); !errors.Is(err, ErrNoStatsAccess) {
		t.Errorf("expected ErrNoStatsAccess, got %v", err)
	}

	types := NewTypeMonitor(newSource(f), grant)
	if _, err := types.Poll(context.Background()); !errors.Is(err, ErrNoStatsAccess) {
		t.Errorf("expected ErrNoStatsAccess, got %v", err)
	}

	empty := NewHeapMonitor(newSource(f), func() *access.Grant { return access.Empty })
	if _, err := empty.Poll(context.Background()); !errors.Is(err, ErrNoStatsAccess) {
		t.Errorf("expected ErrNoStatsAccess for the empty grant, got %v", err)
	}

	if f.count("dbStats") != 0 || f.count("dataTypeAnalyze") != 0 {
		t.Errorf("monitor polled without permission")
	}
}

// TestHeapMonitorFailure tests that a failed response adds no sample
func TestHeapMonitorFailure(t *testing.T) {
	f := &heapFetcher{fail: true}
	m := NewHeapMonitor(newSource(f), grantOf(access.DBStats))

	_, err := m.Poll(context.Background())
	var appErr *client.ApplicationError
	if !errors.As(err, &appErr) || appErr.MsgID != "stats_unavailable" {
		t.Errorf("expected application error, got %v", err)
	}
	if m.Window().Len() != 0 {
		t.Errorf("failed poll added a sample")
	}
}

// TestTypeMonitor tests the latest analysis bookkeeping
func TestTypeMonitor(t *testing.T) {
	f := &heapFetcher{}
	m := NewTypeMonitor(newSource(f), grantOf(access.DBStats))

	if counts, at := m.Latest(); len(counts) != 0 || !at.IsZero() {
		t.Errorf("expected no analysis before the first poll")
	}

	var updates int
	if err := m.Run(context.Background(), 0, func([]client.TypeCount) { updates++ }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if updates != 1 {
		t.Errorf("expected 1 update, got %d", updates)
	}

	counts, at := m.Latest()
	want := []client.TypeCount{{Type: "string", Count: 3}, {Type: "number", Count: 1}, {Type: "null", Count: 0}}
	if len(counts) != len(want) || at.IsZero() {
		t.Fatalf("unexpected analysis %v at %v", counts, at)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}
