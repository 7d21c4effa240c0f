package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Engine returns the configured transport engine, defaulting to nethttp.
func (c *Config) Engine() string {
	if c.Server.Engine == "" {
		return "nethttp"
	}
	return c.Server.Engine
}

// OpsAddr returns host:port for the ops listener (/metrics, /docs).
func (c *Config) OpsAddr() string {
	if c.Server.OpsAddress == "" {
		return "0.0.0.0:9090"
	}
	return c.Server.OpsAddress
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `PORTICO_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PORTICO_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
