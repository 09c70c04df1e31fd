// Package login drives steamcmd through its interactive login: it owns at
// most one session, turns classified output into state transitions and
// publishes the resulting events to subscribers.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peterje/steamsession/internal/classifier"
	"github.com/peterje/steamsession/internal/config"
	"github.com/peterje/steamsession/internal/process"
)

// CredentialStore is refreshed after a successful login.
type CredentialStore interface {
	Refresh() error
}

// Installer provides steamcmd when it is missing.
type Installer interface {
	IsInstalled() bool
	Install(ctx context.Context) error
}

// Credentials start a login. AfterLogin overrides the configured follow-up commands.
type Credentials struct {
	Username   string
	Password   string
	AfterLogin []string
}

// Settings are the session knobs taken from config.Session.
type Settings struct {
	EagerCredentials bool
	GuardCodeDelay   time.Duration
	LaunchTimeout    time.Duration
	BufferSize       int
	EventBuffer      int
	AfterLogin       []string
}

// SettingsFrom converts the session config section.
func SettingsFrom(c config.Session) Settings {
	return Settings{
		EagerCredentials: c.EagerCredentials,
		GuardCodeDelay:   c.GuardCodeDelay,
		LaunchTimeout:    c.LaunchTimeout,
		BufferSize:       c.BufferSize,
		EventBuffer:      c.EventBuffer,
		AfterLogin:       c.AfterLogin,
	}
}

// Snapshot is the caller-facing view of the current session.
type Snapshot struct {
	SessionID string    `json:"session_id,omitempty"`
	State     State     `json:"state"`
	Username  string    `json:"username,omitempty"`
	NeedsCode bool      `json:"needs_code"`
	Output    string    `json:"output"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
}

// Active reports whether the snapshot describes a session that would make
// Start fail with ErrSessionActive.
func (s Snapshot) Active() bool {
	return s.State != StateIdle && (!s.State.Terminal() || s.Running)
}

// Manager owns at most one login session at a time.
type Manager struct {
	steam     config.Steam
	settings  Settings
	spawner   process.Spawner
	rules     classifier.Rules
	store     CredentialStore
	installer Installer
	log       *slog.Logger
	hub       *hub

	mu      sync.Mutex
	current *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithCredentialStore sets the store refreshed after a successful login.
func WithCredentialStore(s CredentialStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithInstaller sets the installer used when steamcmd is missing.
func WithInstaller(i Installer) Option {
	return func(m *Manager) { m.installer = i }
}

// WithRules overrides the marker table.
func WithRules(r classifier.Rules) Option {
	return func(m *Manager) { m.rules = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a Manager that launches steamcmd through spawner.
func NewManager(steam config.Steam, settings Settings, spawner process.Spawner, opts ...Option) *Manager {
	m := &Manager{
		steam:    steam,
		settings: settings,
		spawner:  spawner,
		rules:    classifier.DefaultRules(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "login")
	m.hub = newHub(settings.EventBuffer, m.log)
	return m
}

// Subscribe returns a channel of events for every session and a function
// that unsubscribes and closes it.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.hub.subscribe()
}

// Start launches a new login session. It fails with ErrSessionActive while
// another session is in progress or its child is still running.
func (m *Manager) Start(ctx context.Context, creds Credentials) (Snapshot, error) {
	if creds.Username == "" || creds.Password == "" {
		return Snapshot{}, ErrInvalidCredentials
	}

	m.mu.Lock()
	if m.current != nil && m.current.active() {
		m.mu.Unlock()
		return Snapshot{}, ErrSessionActive
	}
	id := uuid.New().String()
	sess := newSession(id, creds, m.settings, m.rules, m.store, m.hub.publish,
		m.log.With("session", id[:8], "username", creds.Username))
	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	sess.abort = abort
	m.current = sess
	sess.begin()
	m.mu.Unlock()

	if m.installer != nil && !m.installer.IsInstalled() {
		sess.note("SteamCMD not found. Installing...")
		if err := m.installer.Install(runCtx); err != nil {
			if errors.Is(runCtx.Err(), context.Canceled) && sess.Snapshot().State == StateTerminated {
				return sess.Snapshot(), ErrCancelled
			}
			sess.fail("steamcmd install failed: " + err.Error())
			return sess.Snapshot(), fmt.Errorf("install steamcmd: %w", err)
		}
		sess.note("SteamCMD installed.")
	}

	h, err := m.spawner.Spawn(runCtx, process.Spec{
		Path: m.steam.ExecutablePath(),
		Args: m.steam.Args,
		Dir:  m.steam.Home,
	})
	if err != nil {
		if sess.Snapshot().State == StateTerminated {
			return sess.Snapshot(), ErrCancelled
		}
		sess.fail(err.Error())
		return sess.Snapshot(), fmt.Errorf("start steamcmd: %w", err)
	}
	if !sess.attach(h) {
		h.Terminate()
		return sess.Snapshot(), ErrCancelled
	}
	return sess.Snapshot(), nil
}

// SubmitCode forwards a two-factor code to the current session.
func (m *Manager) SubmitCode(code string) error {
	sess := m.session()
	if sess == nil {
		return ErrNoSession
	}
	return sess.SubmitCode(code)
}

// Cancel terminates the current session. It is safe to call repeatedly and
// with no session.
func (m *Manager) Cancel() {
	if sess := m.session(); sess != nil {
		sess.Cancel()
	}
}

// Snapshot returns the current session view, or an idle snapshot.
func (m *Manager) Snapshot() Snapshot {
	sess := m.session()
	if sess == nil {
		return Snapshot{State: StateIdle}
	}
	return sess.Snapshot()
}

// Shutdown cancels the current session and closes all subscriptions.
func (m *Manager) Shutdown() {
	m.Cancel()
	m.hub.close()
}

func (m *Manager) session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// AppUpdateCommand builds the steamcmd line that installs or updates an app
// into dir and exits.
func AppUpdateCommand(dir string, appID int) string {
	return "force_install_dir " + dir + " +app_update " + strconv.Itoa(appID) + " validate +quit"
}
