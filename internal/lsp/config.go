package lsp

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config maps language IDs to server definitions. It is decoded from a
// TOML file shaped like:
//
//	[servers.gopls]
//	command = "gopls"
//	args = ["serve"]
//	languages = ["go"]
//	timeout_ms = 30000
type Config struct {
	Servers map[string]ServerDef `toml:"servers"`
}

// ServerDef is one server entry in the configuration file.
type ServerDef struct {
	Command   string   `toml:"command"`
	Args      []string `toml:"args"`
	Languages []string `toml:"languages"`
	TimeoutMS int      `toml:"timeout_ms"`
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for name, def := range cfg.Servers {
		if def.Command == "" {
			return nil, fmt.Errorf("server %q: command is required", name)
		}
		if len(def.Languages) == 0 {
			return nil, fmt.Errorf("server %q: at least one language is required", name)
		}
	}
	return &cfg, nil
}

// ServerFor returns the configuration for the server handling languageID.
func (c *Config) ServerFor(languageID string) (ServerConfig, error) {
	for _, def := range c.Servers {
		for _, lang := range def.Languages {
			if lang == languageID {
				return def.serverConfig(), nil
			}
		}
	}
	return ServerConfig{}, fmt.Errorf("%w for language %q", ErrNoServer, languageID)
}

func (d ServerDef) serverConfig() ServerConfig {
	cfg := ServerConfig{
		Command: d.Command,
		Args:    d.Args,
	}
	if d.TimeoutMS > 0 {
		cfg.Timeout = time.Duration(d.TimeoutMS) * time.Millisecond
	}
	return cfg
}
