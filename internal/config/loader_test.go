package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8810 {
		t.Errorf("expected port 8810, got %d", cfg.Server.Port)
	}
	if cfg.Session.Mode != "pty" {
		t.Errorf("expected pty mode, got %s", cfg.Session.Mode)
	}
	if cfg.Session.GuardCodeDelay != 2*time.Second {
		t.Errorf("expected guard code delay 2s, got %v", cfg.Session.GuardCodeDelay)
	}
	if cfg.Session.EagerCredentials {
		t.Error("credentials should be withheld until the prompt by default")
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: 9090
steam:
  home: /srv/steam
session:
  mode: pipe
  guard_code_delay: 5s
  after_login:
    - "force_install_dir ./game +app_update 740 validate +quit"
markers:
  success:
    - "Logged in OK"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Steam.Home != "/srv/steam" {
		t.Errorf("expected steam home /srv/steam, got %s", cfg.Steam.Home)
	}
	if cfg.Session.Mode != "pipe" {
		t.Errorf("expected pipe mode, got %s", cfg.Session.Mode)
	}
	if cfg.Session.GuardCodeDelay != 5*time.Second {
		t.Errorf("expected guard delay 5s, got %v", cfg.Session.GuardCodeDelay)
	}
	if len(cfg.Session.AfterLogin) != 1 || !strings.HasPrefix(cfg.Session.AfterLogin[0], "force_install_dir") {
		t.Errorf("unexpected after_login: %v", cfg.Session.AfterLogin)
	}
	if len(cfg.Markers.Success) != 1 || cfg.Markers.Success[0] != "Logged in OK" {
		t.Errorf("expected success markers replaced, got %v", cfg.Markers.Success)
	}
	// Unchanged fields keep defaults
	if len(cfg.Markers.Failure) == 0 {
		t.Error("expected default failure markers to survive")
	}
	if cfg.Session.LaunchTimeout != 60*time.Second {
		t.Errorf("expected default launch timeout, got %v", cfg.Session.LaunchTimeout)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("STEAMSESSION_PORT", "7070")
	t.Setenv("STEAMSESSION_MODE", "pipe")
	t.Setenv("STEAMSESSION_GUARD_CODE_DELAY", "750ms")
	t.Setenv("STEAMSESSION_EAGER_CREDENTIALS", "true")
	t.Setenv("STEAMSESSION_AFTER_LOGIN", "app_status 740; quit")
	t.Setenv("STEAMSESSION_GATEWAY_SKIP_VERIFY", "1")

	loadEnv(&cfg)

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Session.Mode != "pipe" {
		t.Errorf("expected pipe mode, got %s", cfg.Session.Mode)
	}
	if cfg.Session.GuardCodeDelay != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", cfg.Session.GuardCodeDelay)
	}
	if !cfg.Session.EagerCredentials {
		t.Error("expected eager credentials")
	}
	if len(cfg.Session.AfterLogin) != 2 || cfg.Session.AfterLogin[1] != "quit" {
		t.Errorf("unexpected after_login: %q", cfg.Session.AfterLogin)
	}
	if !cfg.Tunnel.SkipVerify {
		t.Error("expected gateway skip_verify")
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()

	t.Setenv("STEAMSESSION_PORT", "not-a-number")
	t.Setenv("STEAMSESSION_LAUNCH_TIMEOUT", "soon")

	loadEnv(&cfg)

	if cfg.Server.Port != 8810 {
		t.Errorf("invalid port should be ignored, got %d", cfg.Server.Port)
	}
	if cfg.Session.LaunchTimeout != 60*time.Second {
		t.Errorf("invalid duration should be ignored, got %v", cfg.Session.LaunchTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty home", func(c *Config) { c.Steam.Home = "" }},
		{"unknown mode", func(c *Config) { c.Session.Mode = "tmux" }},
		{"zero guard delay", func(c *Config) { c.Session.GuardCodeDelay = 0 }},
		{"tiny buffer", func(c *Config) { c.Session.BufferSize = 10 }},
		{"no success markers", func(c *Config) { c.Markers.Success = nil }},
		{"tunnel without secret", func(c *Config) { c.Tunnel.GatewayURL = "wss://gw/tunnel" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "steamsession.yaml")
	if err := os.WriteFile(yamlPath, []byte("steam:\n  home: "+dir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STEAMSESSION_LOG_LEVEL", "debug")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Steam.Home != dir {
		t.Errorf("expected home %s, got %s", dir, cfg.Steam.Home)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level from env, got %s", cfg.Logging.Level)
	}
	if got := cfg.Steam.ConfigDir(); got != filepath.Join(dir, "config") {
		t.Errorf("unexpected config dir %s", got)
	}
}

func TestExecutablePathOverride(t *testing.T) {
	s := Steam{Home: "/srv/steam", Executable: "/usr/games/steamcmd"}
	if got := s.ExecutablePath(); got != "/usr/games/steamcmd" {
		t.Errorf("expected explicit executable, got %s", got)
	}
	s.Executable = ""
	if got := s.ExecutablePath(); !strings.HasPrefix(got, "/srv/steam/steamcmd") {
		t.Errorf("expected launcher under home, got %s", got)
	}
}
