package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL      string   `toml:"server_url"`
	StatePath      string   `toml:"state_path"`
	DeviceID       string   `toml:"device_id"`
	RenderMarkdown bool     `toml:"render_markdown"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Duration wraps time.Duration so it can be written as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultClientConfig returns the configuration used when no file exists yet.
func DefaultClientConfig(dir string) ClientConfig {
	return ClientConfig{
		ServerURL:      "http://localhost:8080",
		StatePath:      filepath.Join(dir, "chat-storage.json"),
		RenderMarkdown: true,
		// Matches the abort timeout the web client used for chat requests.
		RequestTimeout: Duration{30 * time.Second},
	}
}

// ClientConfigPath resolves the client config location: $NEUROBOT_CONFIG, or
// config.toml under the user config directory.
func ClientConfigPath() (string, error) {
	if p := os.Getenv("NEUROBOT_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "neurobot", "config.toml"), nil
}

// LoadClient reads the client configuration from path. A missing file yields the
// defaults and is written back so the user has something to edit.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig(filepath.Dir(path))

	_, err := toml.DecodeFile(path, &cfg)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := SaveClient(path, &cfg); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("decode client config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	return &cfg, nil
}

// SaveClient writes cfg to path as TOML.
func SaveClient(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open client config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode client config: %w", err)
	}
	return f.Close()
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url cannot be empty")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path cannot be empty")
	}
	if c.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	return nil
}
