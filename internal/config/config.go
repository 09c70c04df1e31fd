// Package config provides hierarchical configuration loading for steamsession.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds all runtime configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Steam    Steam    `yaml:"steam"`
	Session  Session  `yaml:"session"`
	Markers  Markers  `yaml:"markers"`
	Database Database `yaml:"database"`
	Tunnel   Tunnel   `yaml:"tunnel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Format  string `yaml:"format"` // "json" | "text"
}

// Steam describes where steamcmd lives and how to launch it.
type Steam struct {
	Home        string   `yaml:"home"`         // private storage root; also the child's working directory
	Executable  string   `yaml:"executable"`   // defaults to Home/steamcmd.sh (linux) or Home/steamcmd
	Args        []string `yaml:"args"`         // extra arguments passed on launch
	DownloadURL string   `yaml:"download_url"` // official steamcmd tarball
	AutoInstall bool     `yaml:"auto_install"` // install steamcmd on first login when missing
}

// Session holds login session behaviour.
type Session struct {
	Mode             string        `yaml:"mode"`              // "pty" | "pipe"
	EagerCredentials bool          `yaml:"eager_credentials"` // send login right after spawn instead of waiting for the prompt
	GuardCodeDelay   time.Duration `yaml:"guard_code_delay"`  // wait for mobile approval before asking for a code
	LaunchTimeout    time.Duration `yaml:"launch_timeout"`    // give up if no prompt appears; 0 disables
	TerminateGrace   time.Duration `yaml:"terminate_grace"`   // SIGTERM to SIGKILL delay
	BufferSize       int           `yaml:"buffer_size"`       // bytes of output kept for display
	EventBuffer      int           `yaml:"event_buffer"`      // per-subscriber event channel capacity
	AfterLogin       []string      `yaml:"after_login"`       // lines written once authenticated
}

// Markers is the steamcmd output contract. Each list holds substrings that
// produce the corresponding signal.
type Markers struct {
	CredentialPrompt   []string `yaml:"credential_prompt"`
	LoginResponse      []string `yaml:"login_response"` // steamcmd has read the login line
	TwoFactorChallenge []string `yaml:"two_factor_challenge"`
	TwoFactorCode      []string `yaml:"two_factor_code"`
	Success            []string `yaml:"success"`
	Failure            []string `yaml:"failure"`
}

// Database holds SQLite configuration for the attempt history.
type Database struct {
	Path string `yaml:"path"`
}

// Tunnel holds the optional reverse tunnel configuration.
type Tunnel struct {
	GatewayURL string `yaml:"gateway_url"` // wss://gateway.example.com/tunnel; empty disables
	Secret     string `yaml:"secret"`
	// SkipVerify accepts a self-signed gateway certificate; the secret
	// still authenticates the connection.
	SkipVerify bool `yaml:"skip_verify"`
}

// Enabled reports whether a gateway is configured.
func (t Tunnel) Enabled() bool {
	return t.GatewayURL != ""
}

// Defaults returns a Config with sensible default values for a single-user install.
func Defaults() Config {
	home := defaultHome()
	return Config{
		Server: Server{
			Host: "127.0.0.1",
			Port: 8810,
		},
		Logging: Logging{
			Level:   "info",
			Service: "steamsession",
			Format:  "json",
		},
		Steam: Steam{
			Home:        filepath.Join(home, "steam"),
			DownloadURL: defaultDownloadURL(),
			AutoInstall: true,
		},
		Session: Session{
			Mode:           "pty",
			GuardCodeDelay: 2 * time.Second,
			LaunchTimeout:  60 * time.Second,
			TerminateGrace: 5 * time.Second,
			BufferSize:     256 * 1024,
			EventBuffer:    256,
		},
		Markers: DefaultMarkers(),
		Database: Database{
			Path: filepath.Join(home, "steamsession.db"),
		},
	}
}

// DefaultMarkers returns the marker table known to match steamcmd output.
func DefaultMarkers() Markers {
	return Markers{
		// "Loading Steam API...OK" is deliberately absent: it precedes the
		// first prompt, which would then read as a success marker.
		CredentialPrompt: []string{
			"waiting for user credentials",
			"Steam>",
		},
		LoginResponse: []string{
			"Logging in user",
		},
		TwoFactorChallenge: []string{
			"Steam Guard",
			"Two-factor",
			"confirm the login in the Steam Mobile app",
		},
		TwoFactorCode: []string{
			"Steam Guard code:",
			"Two-factor code:",
			"Enter the current code",
		},
		Success: []string{
			"Waiting for user info...OK",
			"Logged in OK",
			"Steam>",
			"Success!",
		},
		Failure: []string{
			"FAILED",
			"Invalid Password",
			"Login Failure",
			"Rate Limit Exceeded",
			"Invalid Login Auth Code",
			"Two-factor code mismatch",
		},
	}
}

// ExecutablePath returns the configured steamcmd path, falling back to the
// launcher script shipped in the official tarball for this platform.
func (s Steam) ExecutablePath() string {
	if s.Executable != "" {
		return s.Executable
	}
	if runtime.GOOS == "linux" {
		return filepath.Join(s.Home, "steamcmd.sh")
	}
	return filepath.Join(s.Home, "steamcmd")
}

// ConfigDir is where steamcmd keeps config.vdf.
func (s Steam) ConfigDir() string {
	return filepath.Join(s.Home, "config")
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".steamsession"
	}
	return filepath.Join(dir, ".steamsession")
}

func defaultDownloadURL() string {
	switch runtime.GOOS {
	case "darwin":
		return "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_osx.tar.gz"
	default:
		return "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz"
	}
}
