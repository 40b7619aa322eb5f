package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAPIURL         = "http://localhost:5000/api"
	defaultRequestTimeout = 30 * time.Second
)

type BackendConfig struct {
	APIURL                string `toml:"api_url"`
	SocketURL             string `toml:"socket_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

type DevServerConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	DatabasePath string `toml:"database_path"`
	OllamaHost   string `toml:"ollama_host"`
	OllamaModel  string `toml:"ollama_model"`
}

type SystemConfig struct {
	DataDirectory string          `toml:"data_directory"`
	Backend       BackendConfig   `toml:"backend"`
	DevServer     DevServerConfig `toml:"devserver"`
}

type Config struct {
	DataDirectory  string
	APIURL         string
	SocketURL      string
	RequestTimeout time.Duration

	DevListenAddr   string
	DevDatabasePath string
	OllamaHost      string
	OllamaModel     string
}

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// APIBaseURL returns the request/response base URL. An empty setting
// resolves to the local backend origin.
func (c *Config) APIBaseURL() string {
	if strings.TrimSpace(c.APIURL) == "" {
		return defaultAPIURL
	}
	return strings.TrimRight(c.APIURL, "/")
}

// PushURL returns the websocket URL for the push channel. When unset it is
// derived from the API URL: same host, ws/wss scheme, path /ws.
func (c *Config) PushURL() (string, error) {
	if strings.TrimSpace(c.SocketURL) != "" {
		return c.SocketURL, nil
	}

	u, err := url.Parse(c.APIBaseURL())
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	// The websocket endpoint lives at the origin root, not under the API prefix
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return c.RequestTimeout
}

func (c *Config) DatabasePath() string {
	if c.DevDatabasePath == "" {
		return DefaultDatabasePath(c.DataDir())
	}
	return ExpandPath(c.DevDatabasePath)
}

func (c *Config) applySystemConfig(sys *SystemConfig) {
	if sys.DataDirectory != "" {
		c.DataDirectory = sys.DataDirectory
	}
	// Empty URLs stay empty here; APIBaseURL and PushURL resolve them
	c.APIURL = sys.Backend.APIURL
	c.SocketURL = sys.Backend.SocketURL
	if sys.Backend.RequestTimeoutSeconds > 0 {
		c.RequestTimeout = time.Duration(sys.Backend.RequestTimeoutSeconds) * time.Second
	}
	if sys.DevServer.ListenAddr != "" {
		c.DevListenAddr = sys.DevServer.ListenAddr
	}
	c.DevDatabasePath = sys.DevServer.DatabasePath
	c.OllamaHost = sys.DevServer.OllamaHost
	c.OllamaModel = sys.DevServer.OllamaModel
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HELIX_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("HELIX_SOCKET_URL"); v != "" {
		c.SocketURL = v
	}
	if v := os.Getenv("HELIX_DATA_DIR"); v != "" {
		c.DataDirectory = v
	}
	if v := os.Getenv("HELIX_REQUEST_TIMEOUT"); v != "" {
		// An unparsable value keeps the settings.toml timeout
		if d, err := parseTimeout(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := os.Getenv("HELIX_OLLAMA_HOST"); v != "" {
		c.OllamaHost = v
	}
	if v := os.Getenv("HELIX_OLLAMA_MODEL"); v != "" {
		c.OllamaModel = v
	}
}

// parseTimeout accepts a Go duration ("15s") or a bare number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("timeout must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}

func CheckDebug() bool {
	debug := os.Getenv("HELIX_DEBUG")
	return debug == "true" || debug == "1"
}

// Load builds the runtime config: defaults, then settings.toml, then .env,
// then HELIX_* environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	sys, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	cfg.applySystemConfig(sys)

	// A missing .env is the normal case
	_ = godotenv.Load(".env")
	cfg.applyEnvOverrides()

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Ensure data directory has correct permissions (fix if needed)
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	return cfg, nil
}
