// Package syncconfig reads and writes the tool's global configuration
// and auth credentials under ~/.config/tsync.
package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ServerConfig holds remote API settings.
type ServerConfig struct {
	URL    string `json:"url"`
	UserID string `json:"user_id"`
}

// ProxyConfig holds settings for the serve daemon.
type ProxyConfig struct {
	Listen   string   `json:"listen,omitempty"`   // default 127.0.0.1:8787
	Origin   string   `json:"origin,omitempty"`   // upstream origin for asset requests
	Precache []string `json:"precache,omitempty"` // asset paths refreshed on wake-up
}

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // nil = default true
}

// Config is the global config stored at ~/.config/tsync/config.json.
type Config struct {
	Server ServerConfig   `json:"server"`
	Proxy  ProxyConfig    `json:"proxy"`
	Auto   AutoSyncConfig `json:"auto"`
}

// AuthCredentials stores authentication state at ~/.config/tsync/auth.json.
type AuthCredentials struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

const (
	defaultServerURL = "http://localhost:8090"
	defaultProxyAddr = "127.0.0.1:8787"
)

// ConfigDir returns the config directory, creating it if necessary.
// TSYNC_CONFIG_DIR overrides the default for tests and sandboxes.
func ConfigDir() (string, error) {
	if v := os.Getenv("TSYNC_CONFIG_DIR"); v != "" {
		if err := os.MkdirAll(v, 0755); err != nil {
			return "", fmt.Errorf("create config dir: %w", err)
		}
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "tsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// AuthPath returns the path of the auth credentials file. The serve
// daemon watches this file to hot-reload the bearer token.
func AuthPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth.json"), nil
}

// LoadConfig reads the global config. A missing file is an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials. Returns nil, nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	path, err := AuthPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	path, err := AuthPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	path, err := AuthPath()
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the remote API base URL.
// Priority: TSYNC_SERVER_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("TSYNC_SERVER_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Server.URL != "" {
		return cfg.Server.URL
	}
	return defaultServerURL
}

// GetUserID returns the opaque user identifier scoping the item
// collection. Priority: TSYNC_USER_ID env > auth.json > config.json.
func GetUserID() string {
	if v := os.Getenv("TSYNC_USER_ID"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil && creds.UserID != "" {
		return creds.UserID
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Server.UserID != "" {
		return cfg.Server.UserID
	}
	return ""
}

// GetToken returns the bearer token.
// Priority: TSYNC_AUTH_TOKEN env > auth.json.
func GetToken() string {
	if v := os.Getenv("TSYNC_AUTH_TOKEN"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.Token
	}
	return ""
}

// IsAuthenticated returns true if a bearer token is available.
func IsAuthenticated() bool {
	return GetToken() != ""
}

// GetProxyListen returns the serve daemon listen address.
// Priority: TSYNC_PROXY_LISTEN env > config.json > default.
func GetProxyListen() string {
	if v := os.Getenv("TSYNC_PROXY_LISTEN"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Proxy.Listen != "" {
		return cfg.Proxy.Listen
	}
	return defaultProxyAddr
}

// GetProxyOrigin returns the upstream origin for non-API requests.
// Empty when no origin is configured; asset interception is then
// limited to what is already cached.
func GetProxyOrigin() string {
	if v := os.Getenv("TSYNC_PROXY_ORIGIN"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Proxy.Origin != "" {
		return cfg.Proxy.Origin
	}
	return ""
}

// GetPrecachePaths returns the fixed set of asset paths the daemon
// refreshes on its periodic wake-up.
func GetPrecachePaths() []string {
	cfg, err := LoadConfig()
	if err == nil && len(cfg.Proxy.Precache) > 0 {
		return cfg.Proxy.Precache
	}
	return []string{"/", "/index.html", "/offline.html"}
}

// GetDeviceID returns the device ID from auth.json, generating and
// persisting one on first use so the identity survives across runs.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}

	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(creds); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetAutoSyncEnabled returns whether auto-sync after mutating commands
// is enabled. Priority: TSYNC_AUTO_SYNC env > config.json > true.
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("TSYNC_AUTO_SYNC"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Auto.Enabled != nil {
		return *cfg.Auto.Enabled
	}
	return true
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	switch v {
	case "":
		return nil
	case "1", "true":
		b := true
		return &b
	case "0", "false":
		b := false
		return &b
	}
	return nil
}
