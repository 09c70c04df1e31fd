package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "steamsession.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "STEAMSESSION_HOST")
	setInt(&cfg.Server.Port, "STEAMSESSION_PORT")
	setString(&cfg.Logging.Level, "STEAMSESSION_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STEAMSESSION_LOG_SERVICE")
	setString(&cfg.Logging.Format, "STEAMSESSION_LOG_FORMAT")

	setString(&cfg.Steam.Home, "STEAMSESSION_STEAM_HOME")
	setString(&cfg.Steam.Executable, "STEAMSESSION_STEAMCMD")
	setString(&cfg.Steam.DownloadURL, "STEAMSESSION_STEAMCMD_URL")
	setBool(&cfg.Steam.AutoInstall, "STEAMSESSION_AUTO_INSTALL")

	setString(&cfg.Session.Mode, "STEAMSESSION_MODE")
	setBool(&cfg.Session.EagerCredentials, "STEAMSESSION_EAGER_CREDENTIALS")
	setDuration(&cfg.Session.GuardCodeDelay, "STEAMSESSION_GUARD_CODE_DELAY")
	setDuration(&cfg.Session.LaunchTimeout, "STEAMSESSION_LAUNCH_TIMEOUT")
	setDuration(&cfg.Session.TerminateGrace, "STEAMSESSION_TERMINATE_GRACE")
	setInt(&cfg.Session.BufferSize, "STEAMSESSION_BUFFER_SIZE")
	setList(&cfg.Session.AfterLogin, "STEAMSESSION_AFTER_LOGIN")

	setString(&cfg.Database.Path, "STEAMSESSION_DB")

	// Tunnel
	setString(&cfg.Tunnel.GatewayURL, "STEAMSESSION_GATEWAY_URL")
	setString(&cfg.Tunnel.Secret, "STEAMSESSION_GATEWAY_SECRET")
	setBool(&cfg.Tunnel.SkipVerify, "STEAMSESSION_GATEWAY_SKIP_VERIFY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.Steam.Home == "" {
		return errors.New("steam.home is required")
	}
	if cfg.Session.Mode != "pty" && cfg.Session.Mode != "pipe" {
		return fmt.Errorf("session.mode must be \"pty\" or \"pipe\", got %q", cfg.Session.Mode)
	}
	if cfg.Session.GuardCodeDelay <= 0 {
		return errors.New("session.guard_code_delay must be > 0")
	}
	if cfg.Session.LaunchTimeout < 0 {
		return errors.New("session.launch_timeout must be >= 0")
	}
	if cfg.Session.BufferSize < 1024 {
		return errors.New("session.buffer_size must be >= 1024")
	}
	if cfg.Session.EventBuffer < 1 {
		return errors.New("session.event_buffer must be >= 1")
	}
	if len(cfg.Markers.CredentialPrompt) == 0 || len(cfg.Markers.Success) == 0 {
		return errors.New("markers.credential_prompt and markers.success must not be empty")
	}
	if cfg.Tunnel.Enabled() && cfg.Tunnel.Secret == "" {
		return errors.New("tunnel.secret is required when tunnel.gateway_url is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setList splits a ';'-separated value; commands themselves contain spaces.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
