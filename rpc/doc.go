// Package rpc provides the client side of the Snowflake dashboard socket. It
// multiplexes correlated requests over a single WebSocket connection and
// classifies everything the server sends.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the frame protocol, the value encoding, configuration and logging.
//
//   - transport: Connection abstraction (IClientTransport) with the WebSocket
//     implementation in transport/ws.
//
//   - serializer: Frame serialization, converting requests to JSON and server
//     frames into envelopes.
//
//   - client: The request multiplexer (SocketHelper) and the typed database
//     client built on top of it.
//
//   - testing: A scripted dashboard backend for tests.
package rpc
