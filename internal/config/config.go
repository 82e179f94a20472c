package config

import (
	"strings"
)

type Config struct {
	Server    ServerConfig
	Identity  IdentityConfig
	DataStore DataStoreConfig
	Theme     ThemeConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type IdentityConfig struct {
	BaseURL     string
	AccessToken string
}

type DataStoreConfig struct {
	BaseURL string
}

type ThemeConfig struct {
	Default string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Identity: IdentityConfig{
			BaseURL: "https://auth.lantern.app",
		},
		DataStore: DataStoreConfig{
			BaseURL: "https://data.lantern.app",
		},
		Theme: ThemeConfig{
			Default: "system",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.lanternapp.lantern) and
// the remote access token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/lantern/config.json
// and secrets live in a mode-0600 secrets file under $XDG_DATA_HOME.
//
// Environment variables (LANTERN_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the access token if still empty.
	// A missing token is not an error: the shell starts unauthenticated and
	// the session store reports the fallback state.
	if cfg.Identity.AccessToken == "" {
		if tok, err := kc.Get(secretService, accountAccessToken); err == nil && tok != "" {
			cfg.Identity.AccessToken = tok
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
