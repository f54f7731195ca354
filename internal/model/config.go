package model

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Fatal startup misconfigurations.
var (
	ErrConfigMissing       = errors.New("model config file missing")
	ErrDefaultGroupMissing = errors.New("default model group not present in model config")
)

// EndpointParams mirrors one litellm_params table in the TOML config.
type EndpointParams struct {
	Model      string  `toml:"model"`
	Weight     int     `toml:"weight"`
	APIKey     string  `toml:"api_key"`
	BaseURL    string  `toml:"base_url"`
	APIVersion string  `toml:"api_version"`
	Timeout    float64 `toml:"timeout"`
}

// ModelEntry is one [[model]] block: a named group member.
type ModelEntry struct {
	ModelName string         `toml:"model_name"`
	Params    EndpointParams `toml:"litellm_params"`
}

// RouterConfig is the [router_config] table.
type RouterConfig struct {
	RoutingStrategy      string                `toml:"routing_strategy"`
	Fallbacks            []map[string][]string `toml:"fallbacks"`
	DefaultLitellmParams map[string]any        `toml:"default_litellm_params"`
}

// Config is the parsed model configuration file.
type Config struct {
	Models       []ModelEntry `toml:"model"`
	RouterConfig RouterConfig `toml:"router_config"`
}

// LoadConfig reads and parses the TOML model config, then verifies that the
// default group exists. Both failure modes are fatal at startup.
func LoadConfig(path, defaultGroup string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigMissing, path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config %s: %w", path, err)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("%w: no [[model]] entries in %s", ErrConfigMissing, path)
	}
	if defaultGroup != "" && !cfg.HasGroup(defaultGroup) {
		return nil, fmt.Errorf("%w: %q", ErrDefaultGroupMissing, defaultGroup)
	}
	return &cfg, nil
}

// HasGroup reports whether any entry declares the given group name.
func (c *Config) HasGroup(name string) bool {
	for _, m := range c.Models {
		if m.ModelName == name {
			return true
		}
	}
	return false
}

// Group returns all entries belonging to the named group.
func (c *Config) Group(name string) []ModelEntry {
	var out []ModelEntry
	for _, m := range c.Models {
		if m.ModelName == name {
			out = append(out, m)
		}
	}
	return out
}

// FallbackFor returns the declared fallback groups for a group, if any.
func (c *Config) FallbackFor(group string) []string {
	for _, m := range c.RouterConfig.Fallbacks {
		if fb, ok := m[group]; ok {
			return fb
		}
	}
	return nil
}
