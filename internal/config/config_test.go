package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if config.Service.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", config.Service.BaseURL)
	}
	if config.Socket.Path != "/socket" || config.Socket.Namespace != "/rtc" {
		t.Errorf("socket = %+v", config.Socket)
	}
	if config.Timeouts.Event != 10*time.Second {
		t.Errorf("event timeout = %v", config.Timeouts.Event)
	}
	if config.Timeouts.Settling <= 0 {
		t.Error("settling interval should be positive by default")
	}
	if config.Archive.Path != "" {
		t.Error("archive should be disabled by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"relative base url", func(c *Config) { c.Service.BaseURL = "localhost:8080" }, "base URL"},
		{"ws base url", func(c *Config) { c.Service.BaseURL = "ws://localhost" }, "base URL"},
		{"zero http timeout", func(c *Config) { c.Service.HTTPTimeout = 0 }, "HTTP timeout"},
		{"namespace without slash", func(c *Config) { c.Socket.Namespace = "rtc" }, "namespace"},
		{"zero connect timeout", func(c *Config) { c.Socket.ConnectTimeout = 0 }, "connect timeout"},
		{"negative settling", func(c *Config) { c.Timeouts.Settling = -time.Second }, "settling"},
		{"bad staff email", func(c *Config) { c.Credentials.StaffEmail = "nobody" }, "staff email"},
		{"archive without timeout", func(c *Config) { c.Archive.Path = "x.db"; c.Archive.Timeout = 0 }, "archive timeout"},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"missing section", func(c *Config) { c.Timeouts = nil }, "timeouts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error %q should mention %q", err, tt.substr)
			}
		})
	}

	config := DefaultConfig()
	config.Timeouts.Settling = 0
	if err := config.Validate(); err != nil {
		t.Errorf("zero settling should be allowed: %v", err)
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CALLPROBE_BASE_URL", "https://calls.example.com")
	t.Setenv("CALLPROBE_EVENT_TIMEOUT", "3s")
	t.Setenv("CALLPROBE_SETTLING_INTERVAL", "50ms")
	t.Setenv("CALLPROBE_LIVE", "true")
	t.Setenv("CALLPROBE_BUFFER_SIZE", "not-a-number")
	t.Setenv("CALLPROBE_STAFF_EMAIL", "ops@example.com")

	config := LoadFromEnv()
	if config.Service.BaseURL != "https://calls.example.com" {
		t.Errorf("BaseURL = %q", config.Service.BaseURL)
	}
	if config.Timeouts.Event != 3*time.Second || config.Timeouts.Settling != 50*time.Millisecond {
		t.Errorf("timeouts = %+v", config.Timeouts)
	}
	if !config.Service.Live {
		t.Error("Live should be true")
	}
	if config.Socket.BufferSize != 100 {
		t.Errorf("malformed buffer size should fall back to default, got %d", config.Socket.BufferSize)
	}
	if config.Credentials.StaffEmail != "ops@example.com" {
		t.Errorf("StaffEmail = %q", config.Credentials.StaffEmail)
	}
}

func TestConfig_LoadFromYAML(t *testing.T) {
	path := writeFile(t, "probe.yaml", `
service:
  base_url: http://127.0.0.1:9999
  http_timeout: 5s
socket:
  namespace: /calls
timeouts:
  event: 2s
  settling: 100ms
credentials:
  staff_email: lead@example.edu
  org_id: campus-a
`)
	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if config.Service.BaseURL != "http://127.0.0.1:9999" || config.Service.HTTPTimeout != 5*time.Second {
		t.Errorf("service = %+v", config.Service)
	}
	if config.Socket.Namespace != "/calls" || config.Socket.Path != "/socket" {
		t.Errorf("socket = %+v", config.Socket)
	}
	if config.Timeouts.Settling != 100*time.Millisecond {
		t.Errorf("settling = %v", config.Timeouts.Settling)
	}
	if config.Credentials.StaffEmail != "lead@example.edu" || config.Credentials.OrgID != "campus-a" {
		t.Errorf("credentials = %+v", config.Credentials)
	}
	if config.Credentials.ClientID != "test-client-123" {
		t.Errorf("unset credential should keep default, got %q", config.Credentials.ClientID)
	}
}

func TestConfig_LoadFromJSONC(t *testing.T) {
	path := writeFile(t, "probe.jsonc", `{
  // local fake service
  "service": {"base_url": "http://127.0.0.1:7000", "live": false},
  "archive": {"path": "run.db", "timeout": "10s",},
}`)
	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if config.Service.BaseURL != "http://127.0.0.1:7000" {
		t.Errorf("BaseURL = %q", config.Service.BaseURL)
	}
	if config.Archive.Path != "run.db" || config.Archive.Timeout != 10*time.Second {
		t.Errorf("archive = %+v", config.Archive)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	bad := writeFile(t, "bad.yaml", "timeouts:\n  event: soon\n")
	_, err := LoadFromFile(bad)
	if err == nil || !strings.Contains(err.Error(), "timeouts.event") {
		t.Errorf("bad duration error = %v", err)
	}

	invalid := writeFile(t, "invalid.json", `{"socket": {"namespace": "rtc"}}`)
	if _, err := LoadFromFile(invalid); err == nil {
		t.Error("invalid namespace should fail validation")
	}
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CALLPROBE_BASE_URL", "http://env.example.com")
	t.Setenv("CALLPROBE_CLIENT_ID", "env-client")

	path := writeFile(t, "override.yml", "service:\n  base_url: http://file.example.com\n")
	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence: %v", err)
	}
	if config.Service.BaseURL != "http://file.example.com" {
		t.Errorf("file should win over env, got %q", config.Service.BaseURL)
	}
	if config.Credentials.ClientID != "env-client" {
		t.Errorf("env should win over defaults, got %q", config.Credentials.ClientID)
	}

	envOnly, err := LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatalf("env only: %v", err)
	}
	if envOnly.Service.BaseURL != "http://env.example.com" {
		t.Errorf("env BaseURL = %q", envOnly.Service.BaseURL)
	}
}
