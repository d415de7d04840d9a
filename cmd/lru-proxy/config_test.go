package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestYAMLConfig(t *testing.T) {
	path := writeFile(t, "lru-proxy.yaml", `
supported: https://example.com/view
limit: 50
maxAge: 1h
quiet: true
`)
	config, err := getConfig(path)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if config.Supported != "https://example.com/view" || config.Limit != 50 || !config.Quiet {
		t.Fatalf("Config is %+v", config)
	}
	// defaults are kept
	if config.MaxEntries != 5000 || config.Port != 3300 {
		t.Fatalf("Config is %+v", config)
	}
	proxyConfig, err := config.proxyConfig()
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if proxyConfig.MaxAge != time.Hour {
		t.Fatalf("MaxAge is %s", proxyConfig.MaxAge)
	}
}

func TestTOMLConfig(t *testing.T) {
	path := writeFile(t, "lru-proxy.toml", `
supported = "https://example.com/view"
provider = "sqlite"
maxEntries = 10
upstreamTimeout = "30s"
`)
	config, err := getConfig(path)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if config.Provider != "sqlite" || config.MaxEntries != 10 || config.Limit != 10000 {
		t.Fatalf("Config is %+v", config)
	}
	proxyConfig, err := config.proxyConfig()
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if proxyConfig.UpstreamTimeout != 30*time.Second {
		t.Fatalf("UpstreamTimeout is %s", proxyConfig.UpstreamTimeout)
	}
}

func TestUnknownConfigFormat(t *testing.T) {
	path := writeFile(t, "lru-proxy.json", `{}`)
	if _, err := getConfig(path); err == nil {
		t.Fatal("JSON config accepted")
	}
}

func TestInvalidDuration(t *testing.T) {
	config := defaultConfig()
	config.MaxAge = "one day"
	if _, err := config.proxyConfig(); err == nil {
		t.Fatal("Invalid duration accepted")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd)
	if err := cmd.ParseFlags([]string{"--limit", "5", "--max-age", "90s"}); err != nil {
		t.Fatalf("Error: %v", err)
	}
	config := defaultConfig()
	config.Limit = 50
	config.Port = 8080

	mergeFlags(cmd, &config)

	if config.Limit != 5 {
		t.Fatalf("Limit is %d", config.Limit)
	}
	if config.MaxAge != "1m30s" {
		t.Fatalf("MaxAge is %s", config.MaxAge)
	}
	// not set on the command line
	if config.Port != 8080 {
		t.Fatalf("Port is %d", config.Port)
	}
}
