package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limenode.yaml")
	if err := os.WriteFile(path, []byte("node:\n  domain: example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/limenode.yaml")
	if err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	found := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(found, []byte("node:\n  domain: example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "missing.yaml"), found}
	}
	defer func() { searchPathsFunc = orig }()

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != found {
		t.Errorf("got %q, want %q", got, found)
	}
}

func TestFindConfig_NoneFound(t *testing.T) {
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{"/nonexistent/a.yaml", "/nonexistent/b.yaml"}
	}
	defer func() { searchPathsFunc = orig }()

	if _, err := FindConfig(""); err == nil {
		t.Fatal("expected error when no config file is found")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("LIMENODE_TEST_DOMAIN", "nodes.example.com")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "node:\n  name: alice\n  domain: ${LIMENODE_TEST_DOMAIN}\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Domain != "nodes.example.com" {
		t.Errorf("Node.Domain = %q, want %q", cfg.Node.Domain, "nodes.example.com")
	}
}

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("node:\n  name: bob\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 55321 {
		t.Errorf("Listen.Port = %d, want 55321", cfg.Listen.Port)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q, want memory", cfg.Storage.Backend)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "storage:\n  backend: postgres\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unsupported storage backend")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	cases := []struct {
		name string
		got  any
		want any
	}{
		{"Listen.Port", cfg.Listen.Port, 55321},
		{"WebSocket.Port", cfg.WebSocket.Port, 8880},
		{"WebSocket.Path", cfg.WebSocket.Path, "/ws"},
		{"DataDir", cfg.DataDir, "./data"},
		{"Node.Domain", cfg.Node.Domain, "localhost"},
		{"Session.NegotiationTimeoutSec", cfg.Session.NegotiationTimeoutSec, 60},
		{"Session.ChannelBufferSize", cfg.Session.ChannelBufferSize, 1},
		{"HTTPEmu.Port", cfg.HTTPEmu.Port, 8080},
		{"HTTPEmu.RequestTimeoutSec", cfg.HTTPEmu.RequestTimeoutSec, 60},
		{"Storage.Backend", cfg.Storage.Backend, "memory"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	wantCompression := []string{"none"}
	if len(cfg.Session.CompressionOptions) != 1 || cfg.Session.CompressionOptions[0] != wantCompression[0] {
		t.Errorf("Session.CompressionOptions = %v, want %v", cfg.Session.CompressionOptions, wantCompression)
	}

	wantEncryption := []string{"none", "tls"}
	if len(cfg.Session.EncryptionOptions) != 2 ||
		cfg.Session.EncryptionOptions[0] != wantEncryption[0] ||
		cfg.Session.EncryptionOptions[1] != wantEncryption[1] {
		t.Errorf("Session.EncryptionOptions = %v, want %v", cfg.Session.EncryptionOptions, wantEncryption)
	}

	wantScheme := filepath.Join(cfg.DataDir, "envelopes.db")
	if cfg.Storage.SQLitePath != wantScheme {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, wantScheme)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Listen: ListenConfig{Port: 1000},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "/var/lib/limenode/custom.db",
		},
	}
	cfg.applyDefaults()

	if cfg.Listen.Port != 1000 {
		t.Errorf("Listen.Port = %d, want 1000 (explicit value overwritten)", cfg.Listen.Port)
	}
	if cfg.Storage.SQLitePath != "/var/lib/limenode/custom.db" {
		t.Errorf("Storage.SQLitePath = %q, explicit value overwritten", cfg.Storage.SQLitePath)
	}
}

func TestValidate_ListenPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range listen port")
	}
}

func TestValidate_HTTPEmuPortOnlyCheckedWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.HTTPEmu.Enabled = false
	cfg.HTTPEmu.Port = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate returned error for disabled http_emulation with zero port: %v", err)
	}

	cfg.HTTPEmu.Enabled = true
	cfg.HTTPEmu.Port = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled http_emulation with invalid port")
	}
}

func TestValidate_WebSocketPortOnlyCheckedWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.WebSocket.Enabled = true
	cfg.WebSocket.Port = 99999

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid websocket port")
	}

	cfg.WebSocket.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate returned error for disabled websocket with invalid port: %v", err)
	}
}

func TestValidate_StorageBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "redis"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported storage backend")
	}

	cfg.Storage.Backend = "sqlite"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate returned error for supported backend: %v", err)
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}

	cfg.LogLevel = "debug"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate returned error for valid log level: %v", err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() config failed validation: %v", err)
	}
}

func TestSessionConfig_Durations(t *testing.T) {
	c := SessionConfig{NegotiationTimeoutSec: 30, RemoteIdleTimeoutSec: 15}
	if got, want := c.NegotiationTimeout().Seconds(), 30.0; got != want {
		t.Errorf("NegotiationTimeout() = %vs, want %vs", got, want)
	}
	if got, want := c.RemoteIdleTimeout().Seconds(), 15.0; got != want {
		t.Errorf("RemoteIdleTimeout() = %vs, want %vs", got, want)
	}
}

func TestHTTPEmuConfig_RequestTimeout(t *testing.T) {
	c := HTTPEmuConfig{RequestTimeoutSec: 60}
	if got, want := c.RequestTimeout().Seconds(), 60.0; got != want {
		t.Errorf("RequestTimeout() = %vs, want %vs", got, want)
	}
}
