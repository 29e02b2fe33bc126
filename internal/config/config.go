// Package config loads application configuration with Viper.
//
// Configuration lives at ~/.config/mailtriage/config.yaml by default and can
// be overridden with MAILTRIAGE_* environment variables. Only non-secret
// settings are kept here; credentials belong to the vault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// OAuthClient holds the OAuth2 client registration for one provider.
// The client secret of a native app registration is not a user credential,
// but it still never appears in logs.
type OAuthClient struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// LLMConfig holds settings for the local text-completion service.
type LLMConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string `mapstructure:"model" yaml:"model"`
}

// TriageConfig holds settings for the triage engine.
type TriageConfig struct {
	// PollIntervalSec is how often the background poll visits each account.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// MaxMessages bounds how many messages a single triage pass previews.
	MaxMessages int `mapstructure:"max_messages" yaml:"max_messages"`
}

// Config is the top-level application configuration.
type Config struct {
	// DataDir is where learner state and account metadata are persisted.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// CallbackPort is the fixed local port for the OAuth2 redirect listener.
	CallbackPort int `mapstructure:"callback_port" yaml:"callback_port"`

	// MetricsAddr, when non-empty, exposes Prometheus metrics on this address.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	LLM    LLMConfig              `mapstructure:"llm" yaml:"llm"`
	Triage TriageConfig           `mapstructure:"triage" yaml:"triage"`
	OAuth  map[string]OAuthClient `mapstructure:"oauth" yaml:"oauth"`
}

// DefaultConfigPath returns the default configuration file path,
// ~/.config/mailtriage/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailtriage", "config.yaml")
}

// DefaultDataDir returns the default data directory, ~/.local/share/mailtriage.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mailtriage")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "data")
	}
	return filepath.Join(home, ".local", "share", "mailtriage")
}

func defaults() *Config {
	return &Config{
		DataDir:      DefaultDataDir(),
		CallbackPort: 8889,
		LLM: LLMConfig{
			Endpoint: "http://localhost:11434",
			Model:    "qwen2.5:7b-instruct",
		},
		Triage: TriageConfig{
			PollIntervalSec: 300,
			MaxMessages:     50,
		},
		OAuth: map[string]OAuthClient{},
	}
}

// Load reads configuration from path. A missing file yields the defaults;
// environment variables prefixed with MAILTRIAGE_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("callback_port", 8889)
	v.SetDefault("llm.endpoint", "http://localhost:11434")
	v.SetDefault("llm.model", "qwen2.5:7b-instruct")
	v.SetDefault("triage.poll_interval_sec", 300)
	v.SetDefault("triage.max_messages", 50)

	v.SetEnvPrefix("MAILTRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaults(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
