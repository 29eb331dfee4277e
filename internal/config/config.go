package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Mistral MistralConfig
	Render  RenderConfig
	Probe   ProbeConfig
	Retry   RetryConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type MistralConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type RenderConfig struct {
	Binary      string
	MediaDir    string
	ScriptDir   string
	ArtifactDir string
	Timeout     time.Duration
}

type ProbeConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BackoffUnit time.Duration
	BackoffCap  time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

const (
	secretService       = "kinema"
	secretAccountAPIKey = "mistral_api_key"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Mistral: MistralConfig{
			Model:   "mistral-medium-latest",
			BaseURL: "https://api.mistral.ai",
		},
		Render: RenderConfig{
			Binary:  "manim",
			Timeout: 5 * time.Minute,
		},
		Probe: ProbeConfig{
			Interval: 500 * time.Millisecond,
			Timeout:  30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffUnit: time.Second,
			BackoffCap:  8 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store, and requires the Mistral API key.
//
// On macOS the backend is UserDefaults (domain: com.kinema.app) and the API
// key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/kinema/config.json
// and the API key falls back to a secrets file under $XDG_DATA_HOME.
//
// Environment variables (KINEMA_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, true)
}

// LoadUnvalidated reads configuration like Load but does not require the API
// key. Client commands that only need the server address use this.
func LoadUnvalidated() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, false)
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, requireKey bool) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API key if still empty.
	if cfg.Mistral.APIKey == "" {
		if key, err := kc.Get(secretService, secretAccountAPIKey); err == nil && key != "" {
			cfg.Mistral.APIKey = key
		}
	}

	// Render directories default under the data dir, resolved only after all
	// overrides so a custom data dir carries them along.
	if cfg.Render.MediaDir == "" {
		cfg.Render.MediaDir = filepath.Join(cfg.Storage.DataDir, "media")
	}
	if cfg.Render.ScriptDir == "" {
		cfg.Render.ScriptDir = filepath.Join(cfg.Storage.DataDir, "scripts")
	}
	if cfg.Render.ArtifactDir == "" {
		cfg.Render.ArtifactDir = filepath.Join(cfg.Storage.DataDir, "videos")
	}

	if requireKey && cfg.Mistral.APIKey == "" {
		msg := "missing required config: Mistral API key. " +
			"Set it via environment variable KINEMA_MISTRAL_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
