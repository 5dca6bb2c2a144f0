package common

import (
	"strings"
	"testing"
	"time"
)

func TestClientConfigURL(t *testing.T) {
	tests := []struct {
		name     string
		config   ClientConfig
		token    string
		expected string
	}{
		{
			name:     "plain",
			config:   ClientConfig{Host: "localhost", Port: 6401},
			token:    "abc",
			expected: "ws://localhost:6401?token=abc",
		},
		{
			name:     "secure",
			config:   ClientConfig{Host: "db.example.com", Port: 443, Secure: true},
			token:    "abc",
			expected: "wss://db.example.com:443?token=abc",
		},
		{
			name:     "defaults and escaping",
			config:   ClientConfig{},
			token:    "a b&c",
			expected: "ws://localhost:6401?token=a+b%26c",
		},
		{
			name:     "ipv6",
			config:   ClientConfig{Host: "::1", Port: 7000},
			token:    "",
			expected: "ws://[::1]:7000?token=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.URL(tt.token); got != tt.expected {
				t.Errorf("URL() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestClientConfigTimeout(t *testing.T) {
	c := ClientConfig{}
	if c.Timeout() != 15*time.Second {
		t.Errorf("Timeout() = %s, want 15s", c.Timeout())
	}
	c.TimeoutMillisecond = 250
	if c.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout() = %s, want 250ms", c.Timeout())
	}
	if !strings.Contains(c.String(), "250ms") {
		t.Errorf("String() does not mention the timeout:\n%s", c.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		if _, err := ParseLogLevel(level); err != nil {
			t.Errorf("ParseLogLevel(%q) error = %v", level, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("ParseLogLevel(verbose) expected an error")
	}
}
