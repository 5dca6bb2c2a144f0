package util

import (
	"context"
	"errors"
	"fmt"

	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/lib/credentials"
	"github.com/snowflake-kv/sfdash/lib/eventbus"
	"github.com/snowflake-kv/sfdash/lib/session"
	"github.com/snowflake-kv/sfdash/rpc/client"
	"github.com/snowflake-kv/sfdash/rpc/serializer"
	"github.com/snowflake-kv/sfdash/rpc/transport/ws"
)

// ErrNotLoggedIn is returned when no access key is saved
var ErrNotLoggedIn = errors.New("not logged in, run `sfdash login` first")

// Session bundles an open dashboard session for a command
type Session struct {
	Controller  *session.Controller
	DB          *client.DBClient
	Bus         *eventbus.Bus
	Credentials *credentials.Store
}

// NewSession prepares a session for the given access key, or for the saved
// one if token is empty. It does not connect.
func NewSession(token string) (*Session, error) {
	config := GetClientConfig()
	creds := GetCredentialStore()

	if token == "" {
		cred, ok, err := creds.Load()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotLoggedIn
		}
		token = cred.Token
	}

	bus := eventbus.New()
	ctrl := session.New(
		*config,
		ws.NewDialer(*config),
		serializer.NewJSONSerializer(),
		bus,
		session.NewStoreWithCredential(token),
		creds.Remove,
	)

	return &Session{
		Controller:  ctrl,
		DB:          client.NewDBClient(ctrl, bus),
		Bus:         bus,
		Credentials: creds,
	}, nil
}

// Connect starts the session and waits for the handshake. The wait is
// bounded by the request timeout.
func (s *Session) Connect(ctx context.Context) error {
	config := GetClientConfig()
	if err := s.Controller.Start(); err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", config.Host, config.Port, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()
	return s.Controller.WaitReady(waitCtx)
}

// OpenSession is NewSession followed by Connect. The session is closed if
// it does not become ready.
func OpenSession(ctx context.Context, token string) (*Session, error) {
	s, err := NewSession(token)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Require returns an error if the grant of the session lacks a capability
func (s *Session) Require(capabilities ...string) error {
	grant := s.Controller.Store().Grant()
	for _, c := range capabilities {
		if !grant.HasAccess(c) {
			return fmt.Errorf("access key %q lacks the %s permission", grant.Alias(), c)
		}
	}
	return nil
}

// Grant returns the access grant currently in effect
func (s *Session) Grant() *access.Grant {
	return s.Controller.Store().Grant()
}

// Close ends the session
func (s *Session) Close() error {
	return s.Controller.Close()
}
