package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults used when a field is absent from the config file.
const (
	DefaultBackendURL = "https://api.achadosufc.br"
	DefaultSocketURL  = "wss://api.achadosufc.br/chat"
)

// Config represents the global ~/.achados/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	BackendURL     string `toml:"backend_url"`
	SocketURL      string `toml:"socket_url"`
}

// Load reads config from the given path and fills defaults for empty
// fields. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Default returns a config with all defaults applied, used when no
// config file exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}
	if c.SocketURL == "" {
		c.SocketURL = DefaultSocketURL
	}
}
