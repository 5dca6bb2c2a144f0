// Package stats provides the small statistics helpers behind the monitors
// and the command line output.
//
// Key features include:
//   - Summary statistics of a series (Stats, Percentile)
//   - A fixed size sample window keeping the latest values (Window)
//   - An exponential size histogram for entry size overviews (SizeHistogram)
//   - Human readable byte sizes and sparklines
package stats
