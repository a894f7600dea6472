// Package config holds the process-wide defaults the CLI driver seeds
// etree.ParseOps from before applying explicit flags: separators, policy
// name, CAS directory, cache behavior and recursion depth.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"enprot/internal/etree"
	"enprot/internal/policy"
)

// Config is the defaulted, possibly file/env-overridden configuration for
// one run.
type Config struct {
	LeftSep  string `mapstructure:"leftsep"`
	RightSep string `mapstructure:"rightsep"`
	Policy   string `mapstructure:"policy"`
	CASDir   string `mapstructure:"casdir"`
	NoCache  bool   `mapstructure:"nocache"`
	MaxDepth int    `mapstructure:"maxdepth"`
	LogLevel string `mapstructure:"loglevel"`
}

// envPrefix scopes environment overrides to ENPROT_*, matching the pack's
// convention of namespacing AutomaticEnv lookups by tool name.
const envPrefix = "enprot"

// Default returns the engine's built-in configuration, matching
// etree's own zero-value defaults.
func Default() *Config {
	return &Config{
		LeftSep:  etree.DefaultLeftSep,
		RightSep: etree.DefaultRightSep,
		Policy:   "default",
		CASDir:   ".enprot-cas",
		MaxDepth: etree.DefaultMaxDepth,
		LogLevel: "error",
	}
}

// Load builds a Config starting from Default, then overlays an optional
// config file at path (YAML, TOML or JSON — viper infers from extension)
// and ENPROT_* environment variables. An empty path skips the file read;
// a missing file at a non-empty path is an error, but a file that simply
// isn't there because the user never asked for one is not.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("leftsep", d.LeftSep)
	v.SetDefault("rightsep", d.RightSep)
	v.SetDefault("policy", d.Policy)
	v.SetDefault("casdir", d.CASDir)
	v.SetDefault("nocache", d.NoCache)
	v.SetDefault("maxdepth", d.MaxDepth)
	v.SetDefault("loglevel", d.LogLevel)

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyTo seeds ops with this Config's values. The CLI driver calls this
// once at startup, before any flag overrides are layered on top.
func (c *Config) ApplyTo(ops *etree.ParseOps) {
	ops.LeftSep = c.LeftSep
	ops.RightSep = c.RightSep
	ops.MaxDepth = c.MaxDepth
	if pol, err := policy.Named(c.Policy); err == nil {
		ops.Policy = pol
	}
	if c.NoCache {
		ops.Cache = nil
	}
}
