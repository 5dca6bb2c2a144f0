// Package eventbus provides the publish/subscribe hub that decouples socket
// events from the components reacting to them.
//
// Events are keyed by Kind instead of free-form names. Delivery is
// synchronous: Publish returns after every listener of the kind has run, in
// registration order. There is no persistence, a listener only sees events
// published after it subscribed.
//
// There is no global bus. Each session owns one and hands it to its
// components explicitly. Socket events carry the id of the transport they
// arrived on, so components sharing a bus can tell their own events apart.
package eventbus
