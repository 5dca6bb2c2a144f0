// Package testing provides a scripted dashboard socket server for tests.
//
// Backend runs a real WebSocket endpoint on a local port. Tests register a
// HandlerFunc per endpoint, configure the accepted action sent on connect and
// can push unsolicited or malformed frames or drop every connection.
// MemoryStore installs handlers emulating the database endpoints (get, set,
// remove, read, dbStats, dataTypeAnalyze, benchmark, persistent, reload).
//
// Example usage:
//
//	b := testing.NewBackend()
//	defer b.Close()
//	b.SetAccepted(common.AppInfo{Name: "Snowflake"}, &common.AccessData{Permissions: []string{"*"}})
//	testing.NewMemoryStore().Install(b)
//	cfg := b.Config()
package testing
