// Package ws implements transport.IClientTransport on top of
// gorilla/websocket.
//
// Connect dials asynchronously and hands every inbound text or binary frame
// to the listener. Writes are serialized and bounded by the configured
// request timeout. A transport instance is single use: once the connection
// ended (failed dial, read error, server close or Close) it reports exactly
// one close event and can not be reconnected. Use NewDialer to obtain a
// transport.Dialer for the lifecycle controller.
package ws
