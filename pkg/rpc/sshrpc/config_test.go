package sshrpc

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	// Any readable file satisfies the existence check; parsing only
	// happens in BuildClientConfig, which these tests avoid.
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, []byte("placeholder"), 0o600); err != nil {
		t.Fatalf("write key fixture: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("deployer")

	if cfg.User != "deployer" || cfg.Port != 22 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("strict host key checking should default on")
	}
	if cfg.MaxInFlight <= 0 || cfg.InlineOptionsLimit <= 0 {
		t.Errorf("bounds not defaulted: %+v", cfg)
	}
	if cfg.ConnectTimeout != 15*time.Second {
		t.Errorf("connect timeout = %v", cfg.ConnectTimeout)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig("deployer")
		cfg.PrivateKeyPath = writeTestKey(t)
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing user", func(c *Config) { c.User = "" }, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
		{"missing key file", func(c *Config) { c.PrivateKeyPath = "/nonexistent/key" }, true},
		{"strict without known_hosts", func(c *Config) { c.KnownHostsPath = "" }, true},
		{"lenient without known_hosts", func(c *Config) {
			c.KnownHostsPath = ""
			c.StrictHostKeyChecking = false
		}, false},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, true},
		{"missing runner command", func(c *Config) { c.RunnerCommand = "" }, true},
		{"zero in-flight bound", func(c *Config) { c.MaxInFlight = 0 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig("deployer")
	cfg.Port = 2222
	if got := cfg.Address("web1"); got != "web1:2222" {
		t.Errorf("Address = %q", got)
	}
}
