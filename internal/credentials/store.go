// Package credentials reads the sign-in state steamcmd leaves in
// config/config.vdf under its home directory.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store caches whether an account is signed in and which one.
type Store struct {
	home string
	log  *slog.Logger

	mu       sync.RWMutex
	signedIn bool
	username string
}

// NewStore creates a Store over the steamcmd home directory.
func NewStore(home string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{home: home, log: log.With("component", "credentials")}
}

// ConfigDir is the directory holding config.vdf.
func (s *Store) ConfigDir() string {
	return filepath.Join(s.home, "config")
}

// Path is the config.vdf path.
func (s *Store) Path() string {
	return filepath.Join(s.ConfigDir(), "config.vdf")
}

// Refresh re-reads config.vdf. A present file means signed in; the
// username comes from AutoLoginUser, else the first cached account.
func (s *Store) Refresh() error {
	f, err := os.Open(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		s.set(false, "")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config.vdf: %w", err)
	}
	defer f.Close()

	root, err := ParseVDF(f)
	if err != nil {
		s.set(true, "")
		return fmt.Errorf("parse config.vdf: %w", err)
	}
	s.set(true, usernameFrom(root))
	return nil
}

func usernameFrom(root *Node) string {
	if n := root.Find("AutoLoginUser"); n != nil && strings.TrimSpace(n.Value) != "" {
		return strings.TrimSpace(n.Value)
	}
	if accounts := root.Find("Accounts"); accounts != nil {
		for _, a := range accounts.Children {
			if a.Key != "" && len(a.Children) > 0 {
				return a.Key
			}
		}
	}
	return ""
}

func (s *Store) set(signedIn bool, username string) {
	s.mu.Lock()
	changed := s.signedIn != signedIn || s.username != username
	s.signedIn = signedIn
	s.username = username
	s.mu.Unlock()
	if changed {
		s.log.Info("sign-in state changed", "signed_in", signedIn, "username", username)
	}
}

// IsSignedIn reports whether config.vdf was present at the last refresh.
func (s *Store) IsSignedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signedIn
}

// CurrentUsername returns the stored account name, if known.
func (s *Store) CurrentUsername() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.username != ""
}

// Forget removes the cached login: the config directory and steamcmd's
// ssfn sentry files. steamcmd itself stays installed.
func (s *Store) Forget() error {
	if err := os.RemoveAll(s.ConfigDir()); err != nil {
		return fmt.Errorf("remove config dir: %w", err)
	}
	sentries, _ := filepath.Glob(filepath.Join(s.home, "ssfn*"))
	for _, p := range sentries {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	s.set(false, "")
	s.log.Info("stored credentials removed")
	return nil
}
