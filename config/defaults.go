package config

import "path/filepath"

const defaultDevListenAddr = "localhost:5000"

// Defaults returns the built-in runtime config.
func Defaults() *Config {
	return &Config{
		DataDirectory:  "~/.local/share/helix",
		RequestTimeout: defaultRequestTimeout,
		DevListenAddr:  defaultDevListenAddr,
	}
}

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/helix",
		Backend: BackendConfig{
			RequestTimeoutSeconds: int(defaultRequestTimeout.Seconds()),
		},
		DevServer: DevServerConfig{
			ListenAddr: defaultDevListenAddr,
		},
	}
}

// DefaultDatabasePath is where the development backend keeps its sqlite file.
func DefaultDatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "devserver.db")
}

func GenerateSystemConfigTemplate() string {
	return `# Helix Configuration
# Location: ~/.config/helix/settings.toml
# This file uses TOML format: https://toml.io

# Directory where the client id, session pointer and logs are stored
data_directory = "~/.local/share/helix"

[backend]
# Base URL of the request/response API.
# Empty means the local backend: http://localhost:5000/api
api_url = ""

# Websocket URL of the push channel.
# Empty derives it from api_url (same host, path /ws)
socket_url = ""

# Per-request timeout
request_timeout_seconds = 30

[devserver]
# Address for "helix devserver"
listen_addr = "localhost:5000"

# sqlite file; empty means <data_directory>/devserver.db
database_path = ""

# Optional ollama model used for assistant replies (scripted replies when empty)
ollama_host = ""
ollama_model = ""
`
}
