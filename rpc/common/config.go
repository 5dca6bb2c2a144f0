package common

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults (used when the environment does not provide a value)
// --------------------------------------------------------------------------

const (
	DefaultHost               = "localhost"
	DefaultPort               = 6401
	DefaultTimeoutMillisecond = 15000
)

// --------------------------------------------------------------------------
// Socket client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds everything needed to open the dashboard socket.
type ClientConfig struct {
	// Host and Port of the Snowflake server socket
	Host string
	Port int

	// Secure selects wss:// instead of ws://
	Secure bool

	// TimeoutMillisecond is the default timeout of a single request
	TimeoutMillisecond int
}

// Timeout returns the default request timeout, falling back to DefaultTimeoutMillisecond
func (c *ClientConfig) Timeout() time.Duration {
	if c.TimeoutMillisecond <= 0 {
		return DefaultTimeoutMillisecond * time.Millisecond
	}
	return time.Duration(c.TimeoutMillisecond) * time.Millisecond
}

// URL builds the socket url. The credential is passed as the token query parameter.
func (c *ClientConfig) URL(token string) string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}

	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: url.Values{"token": []string{token}}.Encode(),
	}
	return u.String()
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Socket")
	addField("Host", c.Host)
	addField("Port", strconv.Itoa(c.Port))
	addField("Secure", strconv.FormatBool(c.Secure))
	addField("Timeout", c.Timeout().String())

	return sb.String()
}
