// Package session implements the connection lifecycle of a dashboard session.
//
// The package focuses on:
//   - The lifecycle state machine INIT, CONNECTING, CONNECTED, DISCONNECTED, ERROR
//   - Reconnecting when the credential changes or the user asks for it
//   - The handshake gate: content is ready only after the accepted action
//   - The shared session store holding credential, grant and app metadata
//
// Key Components:
//
//   - Controller: owns the transport and its client.SocketHelper. Every
//     connect creates a new transport through the transport.Dialer and closes
//     the previous one. Events of superseded transports are ignored, and
//     requests still pending on them are rejected. An error reported by a
//     transport takes precedence over its following close: at most one of
//     ERROR and DISCONNECTED is entered per transport. Both revoke the access
//     grant and invalidate the application metadata. There is no automatic
//     reconnect.
//
//   - Store: the state container read by the rest of the application. Only
//     the controller writes grant and metadata.
//
//   - Overlay: the blocking status presentation (status key, spinner,
//     reconnect and logout actions).
//
// State changes are published as eventbus.KindStateChanged with a
// StateChange payload.
package session
