package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	KV     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult holds the result of LoadEffectiveConfig.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	KVPath string
	Source string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	kvPtr := flag.String("kv", "./.kv", "Pebble KV path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, KV: *kvPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return &Config{}, false, nil
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads PORTICO_* environment variables into a fresh Config
// and reports whether any were present. This function does not mutate any
// caller provided config.
func ParseConfigEnvs() (*Config, bool) {
	envCfg := &Config{}
	envUsed := false

	parseBool := func(v string) bool {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true
		}
		return false
	}

	// Server address/port
	if v := os.Getenv("PORTICO_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("PORTICO_ADDRESS"); host != "" {
			envUsed = true
			envCfg.Server.Address = host
		}
		if port := os.Getenv("PORTICO_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				envCfg.Server.Port = pi
			}
		}
	}
	if v := os.Getenv("PORTICO_ENGINE"); v != "" {
		envUsed = true
		envCfg.Server.Engine = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PORTICO_OPS_ADDR"); v != "" {
		envUsed = true
		envCfg.Server.OpsAddress = v
	}

	// Adapter limits
	if v := os.Getenv("PORTICO_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Adapter.Timeout = Duration(time.Duration(n) * time.Millisecond)
		}
	}
	if v := os.Getenv("PORTICO_MAX_BODY_BYTES"); v != "" {
		if b, err := humanize.ParseBytes(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Adapter.MaxBodyBytes = SizeBytes(b)
		}
	}
	if v := os.Getenv("PORTICO_PRODUCTION"); v != "" {
		envUsed = true
		envCfg.Adapter.Production = parseBool(v)
	}

	// Logging
	if v := os.Getenv("PORTICO_LOG_LEVEL"); v != "" {
		envUsed = true
		envCfg.Logging.Level = v
	}
	if v := os.Getenv("PORTICO_LOG_FORMAT"); v != "" {
		envUsed = true
		envCfg.Logging.Format = v
	}

	// Edge bindings
	if v := os.Getenv("PORTICO_KV_PATH"); v != "" {
		envUsed = true
		envCfg.Edge.KVPath = v
	}
	if v := os.Getenv("PORTICO_DEPLOY_CONTEXT"); v != "" {
		envUsed = true
		envCfg.Edge.DeployContext = v
	}
	if v := os.Getenv("PORTICO_CRON"); v != "" {
		envUsed = true
		envCfg.Edge.Cron = v
	}

	// Demo rate limit
	if v := os.Getenv("PORTICO_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.Demo.RateRPS = f
		}
	}
	if v := os.Getenv("PORTICO_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Demo.RateBurst = n
		}
	}

	return envCfg, envUsed
}

// LoadEffectiveConfig decides which single source to use (flags, config
// file, or env) and returns the effective config plus resolved addr and
// kvPath. It honors an explicit flags.Config (user provided --config)
// by using the config file only; otherwise it uses flags if any flags
// are set; else if a config file exists it uses that; otherwise env.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	// If user explicitly passed --config, require the file to exist and use it.
	if flags.Set["config"] {
		if !fileExists {
			return res, fmt.Errorf("config file %s not found", flags.Config)
		}
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.KVPath = fileCfg.Edge.KVPath
		res.Source = "config"
		return res, nil
	}

	// If user passed any non-config flags (addr/kv), use flags exclusively.
	if flags.Set["addr"] || flags.Set["kv"] {
		addr := flags.Addr
		if !flags.Set["addr"] {
			addr = envCfg.Addr()
			if addr == "" {
				addr = fileCfg.Addr()
			}
		}
		kvPath := flags.KV
		if !flags.Set["kv"] {
			if p := strings.TrimSpace(envCfg.Edge.KVPath); p != "" {
				kvPath = p
			} else if p := strings.TrimSpace(fileCfg.Edge.KVPath); p != "" {
				kvPath = p
			}
		}
		out := &Config{}
		out.Server.Address = addr
		out.Server.Port = parsePortFromAddr(addr)
		out.Edge.KVPath = kvPath
		res.Config = out
		res.Addr = addr
		res.KVPath = kvPath
		res.Source = "flags"
		return res, nil
	}

	// No explicit flags: prefer file config if present, otherwise env.
	if fileExists {
		res.Config = fileCfg
		res.Addr = fileCfg.Addr()
		res.KVPath = fileCfg.Edge.KVPath
		res.Source = "config"
		return res, nil
	}
	// fallback to env
	res.Config = envCfg
	res.Addr = envCfg.Addr()
	res.KVPath = envCfg.Edge.KVPath
	res.Source = "env"
	return res, nil
}

// parsePortFromAddr extracts port integer from host:port string.
func parsePortFromAddr(a string) int {
	if a == "" {
		return 0
	}
	if _, p, err := net.SplitHostPort(a); err == nil {
		if pi, err := strconv.Atoi(p); err == nil {
			return pi
		}
	}
	return 0
}
