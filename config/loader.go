package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/memflow/types"
)

// Loader loads configuration with the precedence defaults → YAML → env.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memflow.yaml").
//	    WithEnvPrefix("MEMFLOW").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with no file and the MEMFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "MEMFLOW"}
}

// WithConfigPath sets the YAML file to load. Empty means defaults only.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment overrides.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load builds the configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, types.ConfigurationError("read config file %s", l.configPath).WithCause(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, types.ConfigurationError("parse config file %s", l.configPath).WithCause(err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides scalar settings from the environment.
func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.env("EMBEDDING_DIMENSION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.ConfigurationError("invalid %s_EMBEDDING_DIMENSION %q", l.envPrefix, v).WithCause(err)
		}
		cfg.EmbeddingDimension = n
	}
	if v, ok := l.env("MAINTENANCE_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return types.ConfigurationError("invalid %s_MAINTENANCE_INTERVAL %q", l.envPrefix, v).WithCause(err)
		}
		cfg.MaintenanceInterval = d
	}
	if v, ok := l.env("OPERATION_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return types.ConfigurationError("invalid %s_OPERATION_TIMEOUT %q", l.envPrefix, v).WithCause(err)
		}
		cfg.OperationTimeout = d
	}
	if v, ok := l.env("STM_BACKEND"); ok {
		cfg.Tiers.STM.Backend.Type = BackendType(v)
	}
	if v, ok := l.env("MTM_BACKEND"); ok {
		cfg.Tiers.MTM.Backend.Type = BackendType(v)
	}
	if v, ok := l.env("LTM_BACKEND"); ok {
		cfg.Tiers.LTM.Backend.Type = BackendType(v)
	}
	if v, ok := l.env("GRAPH_TYPE"); ok {
		cfg.Graph.Type = GraphType(v)
	}
	if v, ok := l.env("REDIS_ADDR"); ok {
		for _, name := range types.Tiers() {
			tc := cfg.Tiers.Tier(name)
			if tc.Backend.Type == BackendRedis && tc.Backend.Redis.Addr == "" {
				tc.Backend.Redis.Addr = v
			}
		}
		if cfg.Graph.Type == GraphRedis && cfg.Graph.Redis.Addr == "" {
			cfg.Graph.Redis.Addr = v
		}
	}
	return nil
}

func (l *Loader) env(key string) (string, bool) {
	v, ok := os.LookupEnv(fmt.Sprintf("%s_%s", l.envPrefix, key))
	return v, ok && v != ""
}
