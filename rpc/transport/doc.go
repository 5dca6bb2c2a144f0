// Package transport defines the transport abstraction the dashboard client
// uses to talk to the Snowflake socket. It decouples the request
// multiplexer and the connection lifecycle from the concrete medium.
//
// The package focuses on:
//   - A callback based client transport carrying whole message frames
//   - A Dialer that produces a new transport per connection attempt
//
// Key Components:
//
//   - IClientTransport: Connect / Send / Close of one persistent connection.
//     Connect is asynchronous. The open, message, error and close events
//     are delivered to a Listener.
//
//   - Listener: the four event callbacks. An error is always followed by a
//     close of the same instance.
//
//   - Dialer: factory used by the lifecycle controller, which replaces the
//     whole transport instance on every reconnect.
//
// The WebSocket implementation lives in the ws sub package.
package transport
