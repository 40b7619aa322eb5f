package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadSystemConfig reads settings.toml, creating it from the commented
// template on first run.
func LoadSystemConfig() (*SystemConfig, error) {
	cfg := DefaultSystemConfig()
	settingsPath := GetSettingsFilePath()

	if !FileExists(settingsPath) {
		if err := CreateDefaultSystemConfig(); err != nil {
			return nil, fmt.Errorf("failed to create system config: %w", err)
		}
		return cfg, nil
	}

	return LoadSystemConfigFromPath(settingsPath)
}

// LoadSystemConfigFromPath decodes a settings file over the defaults.
func LoadSystemConfigFromPath(path string) (*SystemConfig, error) {
	cfg := DefaultSystemConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	return cfg, nil
}

// SystemConfigExists checks if the system config file exists
// without creating it (unlike LoadSystemConfig which creates if missing)
func SystemConfigExists() bool {
	return FileExists(GetSettingsFilePath())
}

// SaveSystemConfig overwrites settings.toml with cfg (0600, user-only).
func SaveSystemConfig(cfg *SystemConfig) error {
	configDir := GetConfigDir()
	if err := EnsureDir(configDir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GetSettingsFilePath()
	f, err := os.OpenFile(settingsPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create system config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode system config: %w", err)
	}

	return nil
}

// RememberBackend writes the given backend URLs into settings.toml so later
// runs use them without flags. Empty values leave the stored ones alone.
func RememberBackend(apiURL, socketURL string) error {
	cfg, err := LoadSystemConfig()
	if err != nil {
		return err
	}

	changed := false
	if apiURL != "" && apiURL != cfg.Backend.APIURL {
		cfg.Backend.APIURL = apiURL
		changed = true
	}
	if socketURL != "" && socketURL != cfg.Backend.SocketURL {
		cfg.Backend.SocketURL = socketURL
		changed = true
	}
	if !changed {
		return nil
	}

	// Note: re-encoding drops the comments of the generated template
	return SaveSystemConfig(cfg)
}

func CreateDefaultSystemConfig() error {
	configDir := GetConfigDir()
	if err := EnsureDir(configDir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GetSettingsFilePath()
	if FileExists(settingsPath) {
		return nil
	}

	content := GenerateSystemConfigTemplate()
	if err := os.WriteFile(settingsPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write system config: %w", err)
	}

	return nil
}
