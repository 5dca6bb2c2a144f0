// Package cmd implements the command-line interface of sfdash, a client for
// the dashboard socket of a Snowflake key-value database.
//
// The package is organized into several subpackages:
//
//   - account: Commands to save and remove the access key and to show the connection status
//   - db: Commands for entry operations, statistics, maintenance and benchmarks
//   - monitor: Commands polling the heap usage and value type statistics
//   - util: Shared utilities for command-line processing, configuration and rendering (internal use)
//
// See sfdash -help for a list of all commands.
package cmd
