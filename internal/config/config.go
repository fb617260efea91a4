package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ARCHITECTURAL DISCOVERY: Every endpoint, timeout and credential the harness
// uses flows from this struct. Nothing reads process globals after loading.
type Config struct {
	Service     *ServiceConfig     `json:"service"`
	Socket      *SocketConfig      `json:"socket"`
	Timeouts    *TimeoutConfig     `json:"timeouts"`
	Credentials *CredentialsConfig `json:"credentials"`
	Archive     *ArchiveConfig     `json:"archive"`
	Server      *ServerConfig      `json:"server"`
}

// ServiceConfig locates the service under test
type ServiceConfig struct {
	BaseURL           string        `json:"base_url"`
	HTTPTimeout       time.Duration `json:"http_timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	Live              bool          `json:"live"`
}

// SocketConfig describes the push channel endpoint and transport limits
type SocketConfig struct {
	Path           string        `json:"path"`
	Namespace      string        `json:"namespace"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
}

// TimeoutConfig holds scenario-level waits.
// FUNCTIONAL DISCOVERY: Settling is the pause after a room join. The server
// sends no join acknowledgement, so this is the only ordering guarantee
// between "join sent" and "room-scoped events will be delivered".
type TimeoutConfig struct {
	Event    time.Duration `json:"event"`
	Settling time.Duration `json:"settling"`
	Teardown time.Duration `json:"teardown"`
}

// CredentialsConfig names the accounts scenarios log in with
type CredentialsConfig struct {
	StaffEmail    string `json:"staff_email" yaml:"staff_email"`
	StaffPassword string `json:"staff_password" yaml:"staff_password"`
	ClientID      string `json:"client_id" yaml:"client_id"`
	ClientName    string `json:"client_name" yaml:"client_name"`
	OrgID         string `json:"org_id" yaml:"org_id"`
}

// ArchiveConfig enables the SQLite event archive when Path is set
type ArchiveConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// ServerConfig configures the standalone fake service binary
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	PingInterval time.Duration `json:"ping_interval"`
	PingTimeout  time.Duration `json:"ping_timeout"`
}

// Defaults match the service's local development setup
const (
	DefaultBaseURL    = "http://localhost:8080"
	DefaultSocketPath = "/socket"
	DefaultNamespace  = "/rtc"
)

func DefaultConfig() *Config {
	return &Config{
		Service: &ServiceConfig{
			BaseURL:           DefaultBaseURL,
			HTTPTimeout:       30 * time.Second,
			RequestsPerSecond: 20,
			Burst:             5,
		},
		Socket: &SocketConfig{
			Path:           DefaultSocketPath,
			Namespace:      DefaultNamespace,
			ConnectTimeout: 5 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
		},
		Timeouts: &TimeoutConfig{
			Event:    10 * time.Second,
			Settling: 500 * time.Millisecond,
			Teardown: 10 * time.Second,
		},
		Credentials: &CredentialsConfig{
			StaffEmail:    "staff.tester@example.edu",
			StaffPassword: "Password123!",
			ClientID:      "test-client-123",
			ClientName:    "Test Client",
			OrgID:         "default",
		},
		Archive: &ArchiveConfig{
			Timeout: 30 * time.Second,
		},
		Server: &ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			PingInterval: 25 * time.Second,
			PingTimeout:  20 * time.Second,
		},
	}
}

// FUNCTIONAL DISCOVERY: Validation catches unusable settings before any
// socket is opened, so a bad config never shows up as a flaky timeout.
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service configuration is required")
	}
	u, err := url.Parse(c.Service.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("service base URL must be an absolute http(s) URL, got %q", c.Service.BaseURL)
	}
	if c.Service.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}
	if c.Service.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}

	if c.Socket == nil {
		return fmt.Errorf("socket configuration is required")
	}
	if !strings.HasPrefix(c.Socket.Path, "/") {
		return fmt.Errorf("socket path must start with /")
	}
	if !strings.HasPrefix(c.Socket.Namespace, "/") {
		return fmt.Errorf("socket namespace must start with /")
	}
	if c.Socket.ConnectTimeout <= 0 {
		return fmt.Errorf("socket connect timeout must be positive")
	}
	if c.Socket.WriteTimeout <= 0 {
		return fmt.Errorf("socket write timeout must be positive")
	}
	if c.Socket.BufferSize <= 0 {
		return fmt.Errorf("socket buffer size must be positive")
	}

	if c.Timeouts == nil {
		return fmt.Errorf("timeouts configuration is required")
	}
	if c.Timeouts.Event <= 0 {
		return fmt.Errorf("event timeout must be positive")
	}
	if c.Timeouts.Settling < 0 {
		return fmt.Errorf("settling interval cannot be negative")
	}
	if c.Timeouts.Teardown <= 0 {
		return fmt.Errorf("teardown timeout must be positive")
	}

	if c.Credentials == nil {
		return fmt.Errorf("credentials configuration is required")
	}
	if c.Credentials.StaffEmail == "" || !strings.Contains(c.Credentials.StaffEmail, "@") {
		return fmt.Errorf("staff email must be an email address")
	}
	if c.Credentials.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}
	if c.Credentials.OrgID == "" {
		return fmt.Errorf("org ID cannot be empty")
	}

	if c.Archive == nil {
		return fmt.Errorf("archive configuration is required")
	}
	if c.Archive.Path != "" && c.Archive.Timeout <= 0 {
		return fmt.Errorf("archive timeout must be positive")
	}

	if c.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 0 and 65535")
	}
	if c.Server.PingInterval <= 0 || c.Server.PingTimeout <= 0 {
		return fmt.Errorf("server ping interval and timeout must be positive")
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults with fallback.
// Malformed values are ignored, matching how CI matrices inject partial overrides.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envString("CALLPROBE_BASE_URL", &config.Service.BaseURL)
	envDuration("CALLPROBE_HTTP_TIMEOUT", &config.Service.HTTPTimeout)
	if v := os.Getenv("CALLPROBE_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			config.Service.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("CALLPROBE_LIVE"); v != "" {
		if live, err := strconv.ParseBool(v); err == nil {
			config.Service.Live = live
		}
	}

	envString("CALLPROBE_SOCKET_PATH", &config.Socket.Path)
	envString("CALLPROBE_NAMESPACE", &config.Socket.Namespace)
	envDuration("CALLPROBE_CONNECT_TIMEOUT", &config.Socket.ConnectTimeout)
	envDuration("CALLPROBE_WRITE_TIMEOUT", &config.Socket.WriteTimeout)
	envInt("CALLPROBE_BUFFER_SIZE", &config.Socket.BufferSize)

	envDuration("CALLPROBE_EVENT_TIMEOUT", &config.Timeouts.Event)
	envDuration("CALLPROBE_SETTLING_INTERVAL", &config.Timeouts.Settling)
	envDuration("CALLPROBE_TEARDOWN_TIMEOUT", &config.Timeouts.Teardown)

	envString("CALLPROBE_STAFF_EMAIL", &config.Credentials.StaffEmail)
	envString("CALLPROBE_STAFF_PASSWORD", &config.Credentials.StaffPassword)
	envString("CALLPROBE_CLIENT_ID", &config.Credentials.ClientID)
	envString("CALLPROBE_CLIENT_NAME", &config.Credentials.ClientName)
	envString("CALLPROBE_ORG_ID", &config.Credentials.OrgID)

	envString("CALLPROBE_ARCHIVE_PATH", &config.Archive.Path)
	envDuration("CALLPROBE_ARCHIVE_TIMEOUT", &config.Archive.Timeout)

	envString("CALLPROBE_SERVER_HOST", &config.Server.Host)
	envInt("CALLPROBE_SERVER_PORT", &config.Server.Port)
	envDuration("CALLPROBE_SERVER_PING_INTERVAL", &config.Server.PingInterval)
	envDuration("CALLPROBE_SERVER_PING_TIMEOUT", &config.Server.PingTimeout)

	return config
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile mirrors Config with duration strings for file parsing
type ConfigFile struct {
	Service     *ServiceConfigFile `json:"service" yaml:"service"`
	Socket      *SocketConfigFile  `json:"socket" yaml:"socket"`
	Timeouts    *TimeoutConfigFile `json:"timeouts" yaml:"timeouts"`
	Credentials *CredentialsConfig `json:"credentials" yaml:"credentials"`
	Archive     *ArchiveConfigFile `json:"archive" yaml:"archive"`
	Server      *ServerConfigFile  `json:"server" yaml:"server"`
}

type ServiceConfigFile struct {
	BaseURL           string  `json:"base_url" yaml:"base_url"`
	HTTPTimeout       string  `json:"http_timeout" yaml:"http_timeout"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
	Live              *bool   `json:"live" yaml:"live"`
}

type SocketConfigFile struct {
	Path           string `json:"path" yaml:"path"`
	Namespace      string `json:"namespace" yaml:"namespace"`
	ConnectTimeout string `json:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout   string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize     int    `json:"buffer_size" yaml:"buffer_size"`
}

type TimeoutConfigFile struct {
	Event    string `json:"event" yaml:"event"`
	Settling string `json:"settling" yaml:"settling"`
	Teardown string `json:"teardown" yaml:"teardown"`
}

type ArchiveConfigFile struct {
	Path    string `json:"path" yaml:"path"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type ServerConfigFile struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	PingInterval string `json:"ping_interval" yaml:"ping_interval"`
	PingTimeout  string `json:"ping_timeout" yaml:"ping_timeout"`
}

// LoadFromFile reads a YAML (.yaml/.yml) or JSON-with-comments file on top
// of the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := mergeFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults.
// Unlike environment parsing, a named file that cannot be used is an error.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := mergeFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func parseFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		// TECHNICAL DISCOVERY: jsonc strips comments and trailing commas so
		// hand-edited scenario configs stay valid JSON
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	return &file, nil
}

func mergeFile(config *Config, path string) error {
	file, err := parseFile(path)
	if err != nil {
		return err
	}

	var errs []string
	dur := func(field, raw string, dst *time.Duration) {
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
			return
		}
		*dst = d
	}

	if s := file.Service; s != nil {
		if s.BaseURL != "" {
			config.Service.BaseURL = s.BaseURL
		}
		dur("service.http_timeout", s.HTTPTimeout, &config.Service.HTTPTimeout)
		if s.RequestsPerSecond > 0 {
			config.Service.RequestsPerSecond = s.RequestsPerSecond
		}
		if s.Burst > 0 {
			config.Service.Burst = s.Burst
		}
		if s.Live != nil {
			config.Service.Live = *s.Live
		}
	}

	if s := file.Socket; s != nil {
		if s.Path != "" {
			config.Socket.Path = s.Path
		}
		if s.Namespace != "" {
			config.Socket.Namespace = s.Namespace
		}
		dur("socket.connect_timeout", s.ConnectTimeout, &config.Socket.ConnectTimeout)
		dur("socket.write_timeout", s.WriteTimeout, &config.Socket.WriteTimeout)
		if s.BufferSize > 0 {
			config.Socket.BufferSize = s.BufferSize
		}
	}

	if t := file.Timeouts; t != nil {
		dur("timeouts.event", t.Event, &config.Timeouts.Event)
		dur("timeouts.settling", t.Settling, &config.Timeouts.Settling)
		dur("timeouts.teardown", t.Teardown, &config.Timeouts.Teardown)
	}

	if c := file.Credentials; c != nil {
		if c.StaffEmail != "" {
			config.Credentials.StaffEmail = c.StaffEmail
		}
		if c.StaffPassword != "" {
			config.Credentials.StaffPassword = c.StaffPassword
		}
		if c.ClientID != "" {
			config.Credentials.ClientID = c.ClientID
		}
		if c.ClientName != "" {
			config.Credentials.ClientName = c.ClientName
		}
		if c.OrgID != "" {
			config.Credentials.OrgID = c.OrgID
		}
	}

	if a := file.Archive; a != nil {
		if a.Path != "" {
			config.Archive.Path = a.Path
		}
		dur("archive.timeout", a.Timeout, &config.Archive.Timeout)
	}

	if s := file.Server; s != nil {
		if s.Host != "" {
			config.Server.Host = s.Host
		}
		if s.Port > 0 {
			config.Server.Port = s.Port
		}
		dur("server.ping_interval", s.PingInterval, &config.Server.PingInterval)
		dur("server.ping_timeout", s.PingTimeout, &config.Server.PingTimeout)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %s", path, strings.Join(errs, "; "))
	}
	return nil
}
