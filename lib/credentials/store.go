package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pelletier/go-toml/v2"
)

var Logger = logger.GetLogger("credentials")

const (
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".credentials-*.toml.tmp"
)

// Credential is the persisted access token of the dashboard
type Credential struct {
	Token     string     `toml:"token"`
	SavedAt   time.Time  `toml:"saved_at"`
	ExpiresAt *time.Time `toml:"expires_at,omitempty"`
}

// Expired reports whether the credential has expired at now
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Store persists a single credential in a TOML file
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore creates a store for the file at path
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// DefaultPath returns $HOME/.config/sfdash/credentials.toml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), "sfdash")
		return filepath.Join(dir, "credentials.toml")
	}
	return filepath.Join(dir, "sfdash", "credentials.toml")
}

// Path returns the file path of the store
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored credential. A missing, empty or expired credential
// is reported as absent (ok=false) without error.
func (s *Store) Load() (cred Credential, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, false, nil
		}
		return Credential{}, false, fmt.Errorf("read credentials file: %w", err)
	}

	if err := toml.Unmarshal(data, &cred); err != nil {
		return Credential{}, false, fmt.Errorf("decode credentials file: %w", err)
	}
	if cred.Token == "" {
		return Credential{}, false, nil
	}
	if cred.Expired(s.now()) {
		Logger.Infof("Stored credential expired at %s", cred.ExpiresAt.Format(time.RFC3339))
		return Credential{}, false, nil
	}
	return cred, true, nil
}

// Save stores token. A positive expiration limits its lifetime, zero means it never expires.
func (s *Store) Save(token string, expiration time.Duration) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cred := Credential{Token: token, SavedAt: now}
	if expiration > 0 {
		expiresAt := now.Add(expiration)
		cred.ExpiresAt = &expiresAt
	}

	data, err := toml.Marshal(cred)
	if err != nil {
		return Credential{}, fmt.Errorf("encode credentials file: %w", err)
	}
	if err := s.write(data); err != nil {
		return Credential{}, err
	}

	Logger.Debugf("Saved credential to %s", s.path)
	return cred, nil
}

// Remove deletes the stored credential. A missing file is not an error.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials file: %w", err)
	}
	return nil
}

// write replaces the file atomically
func (s *Store) write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp credentials file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}

	cleanup = false
	return nil
}
