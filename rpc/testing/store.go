package testing

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/snowflake-kv/sfdash/rpc/common"
)

// MemoryStore is an in-memory stand-in for the Snowflake database answering
// the dashboard endpoints. Values are kept in their stringified form.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]string
	usedHeap float64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]string),
		usedHeap: 1 << 20,
	}
}

// Put stores a raw (already stringified) value
func (s *MemoryStore) Put(key, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = raw
}

// Raw returns the raw value of a key
func (s *MemoryStore) Raw(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.entries[key]
	return raw, ok
}

// Install registers the dashboard endpoints of the store on the backend
func (s *MemoryStore) Install(b *Backend) {
	b.Handle("get", s.get)
	b.Handle("set", s.set)
	b.Handle("remove", s.remove)
	b.Handle("read", s.read)
	b.Handle("dbStats", s.dbStats)
	b.Handle("dataTypeAnalyze", s.dataTypeAnalyze)
	b.Handle("benchmark", s.benchmark)
	b.Handle("persistent", finished(12))
	b.Handle("reload", finished(7))
}

// --------------------------------------------------------------------------
// Endpoints
// --------------------------------------------------------------------------

func (s *MemoryStore) get(req common.Request) Reply {
	key, _ := Field(req, "key").(string)
	raw, ok := s.Raw(key)
	if !ok {
		return Fail("entry_not_found", fmt.Sprintf("entry %q not found", key))
	}
	return OK(map[string]any{
		"value": raw,
		"type":  common.ValueType(common.ParseValue(raw)),
	})
}

func (s *MemoryStore) set(req common.Request) Reply {
	key, _ := Field(req, "key").(string)
	raw, _ := Field(req, "value").(string)
	if key == "" {
		return Fail("invalid_key", "key must not be empty")
	}
	if stringified, _ := Field(req, "stringified").(bool); !stringified {
		return Fail("invalid_value", "value must be stringified")
	}
	s.Put(key, raw)
	return OK(nil)
}

func (s *MemoryStore) remove(req common.Request) Reply {
	key, _ := Field(req, "key").(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return Fail("entry_not_found", fmt.Sprintf("entry %q not found", key))
	}
	delete(s.entries, key)
	return OK(nil)
}

func (s *MemoryStore) read(req common.Request) Reply {
	perPage := intField(req, "perPage", 25)
	currentPage := intField(req, "currentPage", 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.sortedKeys()
	list := make([]map[string]any, 0, perPage)
	for i := currentPage * perPage; i < len(keys) && len(list) < perPage; i++ {
		raw := s.entries[keys[i]]
		list = append(list, map[string]any{
			"key":       keys[i],
			"keyHash":   keyHash(keys[i]),
			"size":      len(raw),
			"totalSize": len(raw) + len(keys[i]),
			"index":     i,
			"value":     raw,
			"type":      common.ValueType(common.ParseValue(raw)),
		})
	}

	return OK(map[string]any{
		"list":         list,
		"entriesCount": len(keys),
	})
}

func (s *MemoryStore) dbStats(req common.Request) Reply {
	parts, _ := Field(req, "parts").([]any)

	s.mu.Lock()
	defer s.mu.Unlock()

	usage := 0
	for k, v := range s.entries {
		usage += len(k) + len(v)
	}
	s.usedHeap += 1024

	all := map[string]any{
		"used_heap":             s.usedHeap,
		"entries_count":         len(s.entries),
		"meids_count":           len(s.entries),
		"usage_bytes":           usage,
		"usage_formatted":       fmt.Sprintf("%d B", usage),
		"usage_percent":         float64(usage) / float64(1<<30) * 100,
		"max_db_size_formatted": "1 GB",
		"is_encrypted":          false,
		"memory_monitor":        true,
		"stats": map[string]any{
			"persistentStatus": "idle",
			"lastPersistent":   nil,
			"lastReload":       0,
		},
	}

	out := make(map[string]any, len(parts))
	for _, p := range parts {
		name, _ := p.(string)
		if v, ok := all[name]; ok {
			out[name] = v
		}
	}
	return OK(out)
}

func (s *MemoryStore) dataTypeAnalyze(req common.Request) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	analyzed := make(map[string]int)
	for _, raw := range s.entries {
		analyzed[common.ValueType(common.ParseValue(raw))]++
	}
	return OK(map[string]any{"analyzed": analyzed})
}

func (s *MemoryStore) benchmark(req common.Request) Reply {
	series := func(base float64) map[string]any {
		out := make(map[string]any)
		for i, amount := range []int{1, 10, 100, 1000} {
			out[fmt.Sprint(amount)] = map[string]any{"time": base * float64(i+1)}
		}
		return out
	}
	return OK(map[string]any{
		"benchmark": map[string]any{
			"entries_write":  series(0.5),
			"entries_read":   series(0.2),
			"entries_delete": series(0.3),
		},
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func finished(ms int) HandlerFunc {
	return func(req common.Request) Reply {
		return OK(map[string]any{"finished": ms})
	}
}

func (s *MemoryStore) sortedKeys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func keyHash(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return fmt.Sprintf("%016x", h.Sum64())
}

func intField(req common.Request, key string, fallback int) int {
	if f, ok := Field(req, key).(float64); ok && f >= 0 {
		return int(f)
	}
	return fallback
}
