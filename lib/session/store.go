package session

import (
	"sync"

	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/rpc/common"
)

// LoadState tells whether the application metadata has been received
type LoadState uint8

const (
	LoadPending   LoadState = iota // Nothing received yet
	LoadLoaded                     // Received with a control panel grant
	LoadNotLoaded                  // Invalidated by a disconnect
)

// String returns the string representation of a LoadState
func (s LoadState) String() string {
	switch s {
	case LoadPending:
		return "pending"
	case LoadLoaded:
		return "loaded"
	case LoadNotLoaded:
		return "not loaded"
	default:
		return "unknown"
	}
}

// Store holds the session state shared with readers: the credential, the
// access grant and the application metadata. The controller is the only
// writer of grant and metadata, readers get copies or immutable values.
type Store struct {
	mu            sync.RWMutex
	credential    string
	hasCredential bool
	grant         *access.Grant
	info          common.AppInfo
	infoState     LoadState
}

// NewStore creates a store without credential, with an empty grant and pending metadata
func NewStore() *Store {
	return &Store{
		grant:     access.Empty,
		infoState: LoadPending,
	}
}

// NewStoreWithCredential creates a store holding the given credential
func NewStoreWithCredential(token string) *Store {
	s := NewStore()
	s.credential = token
	s.hasCredential = true
	return s
}

// Credential returns the access token and whether one is present
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.hasCredential
}

// Grant returns the current access grant (never nil)
func (s *Store) Grant() *access.Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grant
}

// AppInfo returns the application metadata and its load state
func (s *Store) AppInfo() (common.AppInfo, LoadState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info, s.infoState
}

// --------------------------------------------------------------------------
// Writers (used by the controller)
// --------------------------------------------------------------------------

// setCredential stores token and reports whether it differs from the previous one
func (s *Store) setCredential(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.hasCredential || s.credential != token
	s.credential = token
	s.hasCredential = true
	return changed
}

func (s *Store) clearCredential() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = ""
	s.hasCredential = false
}

func (s *Store) setGrant(g *access.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant = g
}

func (s *Store) markLoaded(info common.AppInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	s.infoState = LoadLoaded
}

// revoke drops the grant and invalidates the metadata
func (s *Store) revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant = access.Empty
	s.infoState = LoadNotLoaded
}

// reset returns grant and metadata to their initial values
func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant = access.Empty
	s.info = common.AppInfo{}
	s.infoState = LoadPending
}
