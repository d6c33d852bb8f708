// Package session persists the CLI login between invocations.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoSession is returned when nobody is logged in.
var ErrNoSession = errors.New("not logged in, run login first")

// Session is the logged-in registry connection.
type Session struct {
	ServerURL  string    `json:"server_url"`
	User       string    `json:"user"`
	CertFile   string    `json:"cert_file"`
	KeyFile    string    `json:"key_file"`
	CAFile     string    `json:"ca_file"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// Identity returns the registry identity of the session.
func (s *Session) Identity() string {
	if s == nil {
		return ""
	}
	return s.User
}

// Active reports whether the session carries an identity and a server.
func (s *Session) Active() bool {
	return s != nil && s.User != "" && s.ServerURL != ""
}

// Store keeps one Session in a JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath is the session file under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".plmsync-session.json"
	}
	return filepath.Join(dir, "plmsync", "session.json")
}

// Path returns the session file location.
func (s *Store) Path() string { return s.path }

// Load reads the stored session. It returns ErrNoSession when there is none.
func (s *Store) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer f.Close()

	var sess Session
	if err := json.NewDecoder(f).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !sess.Active() {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Save replaces the stored session.
func (s *Store) Save(sess *Session) error {
	if !sess.Active() {
		return errors.New("session without user or server")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session folder: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(sess)
}

// Clear removes the stored session. It is not an error when none exists.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
