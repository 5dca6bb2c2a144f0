// Package access models the capability grant a dashboard session receives
// from the server. A grant is immutable. The session replaces it wholesale on
// every accepted handshake and resets it to Empty when the connection ends.
package access
