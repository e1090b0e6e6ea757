package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultSecretEnv is the environment variable holding the account secret
// when the config does not name another one.
const DefaultSecretEnv = "LINED_SECRET"

// Config is read from the global ~/.lined/config.toml (default_session) and
// from each session's config.toml (everything else).
type Config struct {
	DefaultSession string        `toml:"default_session,omitempty"`
	Account        AccountConfig `toml:"account"`
	Server         ServerConfig  `toml:"server"`
	Sync           SyncConfig    `toml:"sync"`
	Log            LogConfig     `toml:"log"`
}

// AccountConfig names the credentials used to log in. The secret itself is
// never stored in the file.
type AccountConfig struct {
	Identity  string `toml:"identity"`
	SecretEnv string `toml:"secret_env"`
}

// ServerConfig locates the remote service endpoints.
type ServerConfig struct {
	CommandAddr string `toml:"command_addr"`
	SyncAddr    string `toml:"sync_addr"`
	Application string `toml:"application,omitempty"`
	Insecure    bool   `toml:"insecure"`
}

// SyncConfig tunes the sync loop.
type SyncConfig struct {
	BatchSize            int `toml:"batch_size"`
	HistoryDepth         int `toml:"history_depth"`
	PollTimeoutSeconds   int `toml:"poll_timeout_seconds"`
	RetryIntervalSeconds int `toml:"retry_interval_seconds"`
}

// LogConfig selects the log level (debug, info, warn, error).
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Account: AccountConfig{SecretEnv: DefaultSecretEnv},
		Server:  ServerConfig{CommandAddr: "gd2.line.naver.jp:443"},
		Sync: SyncConfig{
			BatchSize:            50,
			HistoryDepth:         15,
			PollTimeoutSeconds:   90,
			RetryIntervalSeconds: 5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate reports settings the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Account.Identity == "" {
		errs = append(errs, errors.New("account.identity is required"))
	}
	if c.Server.CommandAddr == "" {
		errs = append(errs, errors.New("server.command_addr is required"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.HistoryDepth < 0 {
		errs = append(errs, fmt.Errorf("sync.history_depth must not be negative, got %d", c.Sync.HistoryDepth))
	}
	return errors.Join(errs...)
}

// Secret reads the account secret from the configured environment variable.
func (c *Config) Secret() (string, error) {
	name := c.Account.SecretEnv
	if name == "" {
		name = DefaultSecretEnv
	}
	secret := os.Getenv(name)
	if secret == "" {
		return "", fmt.Errorf("environment variable %s is empty", name)
	}
	return secret, nil
}

// PollTimeout is the client-side bound on one long-poll call.
func (s SyncConfig) PollTimeout() time.Duration {
	return time.Duration(s.PollTimeoutSeconds) * time.Second
}

// RetryInterval is the pause before the daemon re-runs a failed sync loop.
func (s SyncConfig) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalSeconds) * time.Second
}
