// Package common provides the data structures shared by every layer of the
// dashboard client: the wire protocol, the socket configuration and the
// logging setup.
//
// The package focuses on:
//   - Frame types for the dashboard socket protocol
//   - The Snowflake value encoding used by stringified set requests
//   - Client configuration with documented fallback defaults
//   - Custom logging implementation integrated with Dragonboat's logger facade
//
// Key Components:
//
//   - Request: the frame written for each correlated exchange,
//     {"endpoint", "data", "requestId"}.
//
//   - Envelope: one parsed server frame. Responses carry the requestId of
//     their request, control actions carry a requestId starting with ":",
//     and push messages carry none.
//
//   - AcceptedPayload: data of the ":accepted" control action, holding the
//     application metadata (AppInfo) and the access grant (AccessData).
//
//   - ClientConfig: host, port, secure flag and default request timeout.
//
//   - Logger: CreateLogger / InitLoggers plug a custom formatter into the
//     dragonboat logger registry used by all packages.
package common
