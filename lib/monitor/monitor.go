package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/lib/stats"
	"github.com/snowflake-kv/sfdash/rpc/client"
)

var Logger = logger.GetLogger("monitor")

var (
	// ErrNoStatsAccess is returned when the current grant lacks db_stats
	ErrNoStatsAccess = errors.New("monitor: missing db_stats permission")

	// ErrMissingPart is returned when the server omitted a requested stats part
	ErrMissingPart = errors.New("monitor: stats part missing in response")
)

const usedHeapPart = "used_heap"

// StatsSource is the part of client.DBClient the monitors need
type StatsSource interface {
	Stats(ctx context.Context, parts ...string) (client.DBStats, error)
	DataTypeAnalyze(ctx context.Context) ([]client.TypeCount, error)
}

// GrantFunc returns the access grant currently in effect
type GrantFunc func() *access.Grant

// --------------------------------------------------------------------------
// Heap monitor
// --------------------------------------------------------------------------

// HeapMonitor samples the heap usage of the server into a fixed size window.
type HeapMonitor struct {
	source StatsSource
	grant  GrantFunc
	window *stats.Window
}

// NewHeapMonitor creates a heap monitor keeping stats.DefaultWindowSize samples
func NewHeapMonitor(source StatsSource, grant GrantFunc) *HeapMonitor {
	return &HeapMonitor{
		source: source,
		grant:  grant,
		window: stats.NewWindow(stats.DefaultWindowSize),
	}
}

// Poll fetches one heap sample and adds it to the window
func (m *HeapMonitor) Poll(ctx context.Context) (float64, error) {
	if !m.grant().HasAccess(access.DBStats) {
		return 0, ErrNoStatsAccess
	}

	s, err := m.source.Stats(ctx, usedHeapPart)
	if err != nil {
		return 0, err
	}
	if !s.Has(usedHeapPart) {
		return 0, fmt.Errorf("%w: %s", ErrMissingPart, usedHeapPart)
	}

	v := s.Number(usedHeapPart)
	m.window.Add(v)
	return v, nil
}

// Run polls until ctx is done. An interval <= 0 polls exactly once.
// onSample may be nil.
func (m *HeapMonitor) Run(ctx context.Context, interval time.Duration, onSample func(float64)) error {
	return run(ctx, interval, func(ctx context.Context) error {
		v, err := m.Poll(ctx)
		if err == nil && onSample != nil {
			onSample(v)
		}
		return err
	})
}

// Window returns the sample window
func (m *HeapMonitor) Window() *stats.Window {
	return m.window
}

// --------------------------------------------------------------------------
// Type monitor
// --------------------------------------------------------------------------

// TypeMonitor keeps the latest value type analysis of the database.
type TypeMonitor struct {
	source StatsSource
	grant  GrantFunc

	mu     sync.RWMutex
	latest []client.TypeCount
	at     time.Time
}

// NewTypeMonitor creates a type monitor without an analysis
func NewTypeMonitor(source StatsSource, grant GrantFunc) *TypeMonitor {
	return &TypeMonitor{
		source: source,
		grant:  grant,
	}
}

// Poll fetches a new analysis and replaces the latest one
func (m *TypeMonitor) Poll(ctx context.Context) ([]client.TypeCount, error) {
	if !m.grant().HasAccess(access.DBStats) {
		return nil, ErrNoStatsAccess
	}

	counts, err := m.source.DataTypeAnalyze(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.latest = counts
	m.at = time.Now()
	m.mu.Unlock()
	return counts, nil
}

// Run polls until ctx is done. An interval <= 0 polls exactly once.
func (m *TypeMonitor) Run(ctx context.Context, interval time.Duration, onUpdate func([]client.TypeCount)) error {
	return run(ctx, interval, func(ctx context.Context) error {
		counts, err := m.Poll(ctx)
		if err == nil && onUpdate != nil {
			onUpdate(counts)
		}
		return err
	})
}

// Latest returns the most recent analysis and when it was taken.
// The time is zero if no poll succeeded yet.
func (m *TypeMonitor) Latest() ([]client.TypeCount, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]client.TypeCount(nil), m.latest...), m.at
}

// --------------------------------------------------------------------------
// Poll loop
// --------------------------------------------------------------------------

// run polls immediately and then on every tick. A failed poll is logged and
// the loop continues, except for a missing permission which ends the loop.
func run(ctx context.Context, interval time.Duration, poll func(context.Context) error) error {
	if err := poll(ctx); err != nil {
		if interval <= 0 || errors.Is(err, ErrNoStatsAccess) {
			return err
		}
		Logger.Warningf("poll failed: %v", err)
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := poll(ctx); err != nil {
				if errors.Is(err, ErrNoStatsAccess) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				Logger.Warningf("poll failed: %v", err)
			}
		}
	}
}
