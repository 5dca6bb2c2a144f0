// Package monitor polls the server statistics a dashboard shows over time.
//
// HeapMonitor samples the used_heap stats part into a window of the latest
// samples, TypeMonitor keeps the latest value type analysis. Both require the
// db_stats permission and take their grant from a GrantFunc, usually
// session.Store.Grant, so a revoked grant stops them.
package monitor
