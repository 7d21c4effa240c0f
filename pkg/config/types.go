package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Adapter AdapterConfig `yaml:"adapter"`
	Logging LoggingConfig `yaml:"logging"`
	Edge    EdgeConfig    `yaml:"edge"`
	Demo    DemoConfig    `yaml:"demo"`
}

// ServerConfig holds the listen address and the transport engine. The ops
// address is a second listener carrying /metrics and /docs, kept off the
// kernel socket so host concerns never enter the request pipeline.
type ServerConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	Engine     string `yaml:"engine"` // nethttp | fasthttp
	OpsAddress string `yaml:"ops_address"`
}

// AdapterConfig holds the per-request limits handed to the platform
// adapters. The body cap binds everywhere; the timeout binds only the
// socket server, the one platform that owns its own clock.
type AdapterConfig struct {
	Timeout      Duration  `yaml:"timeout"`
	MaxBodyBytes SizeBytes `yaml:"max_body_bytes"`
	Production   bool      `yaml:"production"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// EdgeConfig holds the worker bindings the demo process provisions:
// the durable KV path, the deploy context stamp, and an optional local
// cron schedule.
type EdgeConfig struct {
	KVPath        string `yaml:"kv_path"`
	DeployContext string `yaml:"deploy_context"`
	Cron          string `yaml:"cron"`
}

// DemoConfig tunes the demo application's rate limiting.
type DemoConfig struct {
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
