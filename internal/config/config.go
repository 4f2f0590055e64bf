// Package config handles limenode configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/limenode/config.yaml, /config/config.yaml,
// /etc/limenode/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "limenode", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/limenode/config.yaml")
	return paths
}

// searchPathsFunc is indirected so tests can substitute a fake search list
// without touching the real filesystem locations.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all limenode configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
	HTTPEmu   HTTPEmuConfig   `yaml:"http_emulation"`
	Storage   StorageConfig   `yaml:"storage"`
	Node      NodeConfig      `yaml:"node"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // "text" (default) or "json"
}

// NodeConfig identifies this node on the network.
type NodeConfig struct {
	Name   string `yaml:"name"`
	Domain string `yaml:"domain"`
}

// ListenConfig defines the raw transport listener settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// WebSocketConfig defines the WebSocket transport listener.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// SessionConfig defines the negotiation/authentication options a server
// offers and the timeouts applied to each handshake step.
type SessionConfig struct {
	// CompressionOptions advertised during negotiation, in preference order.
	CompressionOptions []string `yaml:"compression_options"`
	// EncryptionOptions advertised during negotiation, in preference order.
	EncryptionOptions []string `yaml:"encryption_options"`
	// SchemeOptions advertised during authentication, in preference order.
	SchemeOptions []string `yaml:"scheme_options"`
	// NegotiationTimeoutSec bounds each negotiation/authentication round trip.
	NegotiationTimeoutSec int `yaml:"negotiation_timeout_sec"`
	// ChannelBufferSize is the per-envelope-kind inbound queue capacity.
	ChannelBufferSize int `yaml:"channel_buffer_size"`
	// RemoteIdleTimeoutSec triggers a liveness ping when no envelope has
	// been received for this long. Zero disables the ping.
	RemoteIdleTimeoutSec int `yaml:"remote_idle_timeout_sec"`
}

// NegotiationTimeout returns the configured negotiation timeout as a Duration.
func (c SessionConfig) NegotiationTimeout() time.Duration {
	return time.Duration(c.NegotiationTimeoutSec) * time.Second
}

// RemoteIdleTimeout returns the configured idle timeout as a Duration.
func (c SessionConfig) RemoteIdleTimeout() time.Duration {
	return time.Duration(c.RemoteIdleTimeoutSec) * time.Second
}

// HTTPEmuConfig defines the HTTP emulation listener.
type HTTPEmuConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// RequestTimeoutSec bounds how long a long-poll or correlated request
	// waits before returning 408.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// WriteExceptionsToOutput includes the stringified error in 5xx bodies.
	WriteExceptionsToOutput bool `yaml:"write_exceptions_to_output"`
	// Webhooks maps a recipient identity ("name@domain") to a URL that gets
	// POSTed a copy of each message stored for it. Identities absent from
	// this map are unaffected; delivery remains long-poll only for them.
	Webhooks map[string]string `yaml:"webhooks"`
}

// RequestTimeout returns the configured HTTP request timeout as a Duration.
func (c HTTPEmuConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// StorageConfig selects and configures the envelope storage backend.
type StorageConfig struct {
	// Backend is "memory" (default) or "sqlite".
	Backend string `yaml:"backend"`
	// SQLitePath is the database file path when Backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${LIMENODE_DATA_DIR}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 55321
	}
	if c.WebSocket.Port == 0 {
		c.WebSocket.Port = 8880
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ws"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Node.Domain == "" {
		c.Node.Domain = "localhost"
	}
	if len(c.Session.CompressionOptions) == 0 {
		c.Session.CompressionOptions = []string{"none"}
	}
	if len(c.Session.EncryptionOptions) == 0 {
		c.Session.EncryptionOptions = []string{"none", "tls"}
	}
	if len(c.Session.SchemeOptions) == 0 {
		c.Session.SchemeOptions = []string{"guest"}
	}
	if c.Session.NegotiationTimeoutSec == 0 {
		c.Session.NegotiationTimeoutSec = 60
	}
	if c.Session.ChannelBufferSize == 0 {
		c.Session.ChannelBufferSize = 1
	}
	if c.HTTPEmu.Port == 0 {
		c.HTTPEmu.Port = 8080
	}
	if c.HTTPEmu.RequestTimeoutSec == 0 {
		c.HTTPEmu.RequestTimeoutSec = 60
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.DataDir, "envelopes.db")
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.HTTPEmu.Enabled && (c.HTTPEmu.Port < 1 || c.HTTPEmu.Port > 65535) {
		return fmt.Errorf("http_emulation.port %d out of range (1-65535)", c.HTTPEmu.Port)
	}
	if c.WebSocket.Enabled && (c.WebSocket.Port < 1 || c.WebSocket.Port > 65535) {
		return fmt.Errorf("websocket.port %d out of range (1-65535)", c.WebSocket.Port)
	}
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.backend %q unsupported (valid: memory, sqlite)", c.Storage.Backend)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
