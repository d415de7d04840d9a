package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lruproxy "github.com/always-cache/lru-proxy"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Supported       string `yaml:"supported" toml:"supported"`
	Limit           int    `yaml:"limit" toml:"limit"`
	Provider        string `yaml:"provider" toml:"provider"`
	MaxEntries      int    `yaml:"maxEntries" toml:"maxEntries"`
	MaxAge          string `yaml:"maxAge" toml:"maxAge"`
	UpstreamTimeout string `yaml:"upstreamTimeout" toml:"upstreamTimeout"`
	Port            int    `yaml:"port" toml:"port"`
	Quiet           bool   `yaml:"quiet" toml:"quiet"`
	Templates       string `yaml:"templates" toml:"templates"`
}

func defaultConfig() Config {
	return Config{
		Supported:       "https://skimdb.npmjs.com/registry/_design/app/_view/browseAuthors",
		Limit:           10000,
		Provider:        "memory",
		MaxEntries:      5000,
		MaxAge:          "24h",
		UpstreamTimeout: "0s",
		Port:            3300,
	}
}

// getConfig reads a YAML or TOML config file on top of the defaults.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(configBytes, &config)
	case ".toml":
		err = toml.Unmarshal(configBytes, &config)
	default:
		err = fmt.Errorf("unknown config format: %s", filename)
	}
	return config, err
}

// mergeFlags overrides the config with the flags set on the command line.
func mergeFlags(cmd *cobra.Command, config *Config) {
	flags := cmd.Flags()
	if flags.Changed("supported") {
		config.Supported = supportedFlag
	}
	if flags.Changed("limit") {
		config.Limit = limitFlag
	}
	if flags.Changed("provider") {
		config.Provider = providerFlag
	}
	if flags.Changed("max-entries") {
		config.MaxEntries = maxEntriesFlag
	}
	if flags.Changed("max-age") {
		config.MaxAge = maxAgeFlag.String()
	}
	if flags.Changed("upstream-timeout") {
		config.UpstreamTimeout = upstreamTimeoutFlag.String()
	}
	if flags.Changed("port") {
		config.Port = portFlag
	}
	if flags.Changed("quiet") {
		config.Quiet = quietFlag
	}
	if flags.Changed("templates") {
		config.Templates = templatesFlag
	}
}

func (c Config) proxyConfig() (lruproxy.Config, error) {
	maxAge, err := time.ParseDuration(c.MaxAge)
	if err != nil {
		return lruproxy.Config{}, fmt.Errorf("maxAge: %w", err)
	}
	upstreamTimeout, err := time.ParseDuration(c.UpstreamTimeout)
	if err != nil {
		return lruproxy.Config{}, fmt.Errorf("upstreamTimeout: %w", err)
	}
	return lruproxy.Config{
		Supported:       c.Supported,
		Limit:           c.Limit,
		Provider:        c.Provider,
		MaxEntries:      c.MaxEntries,
		MaxAge:          maxAge,
		UpstreamTimeout: upstreamTimeout,
		Quiet:           c.Quiet,
		TemplateDir:     c.Templates,
	}, nil
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}
