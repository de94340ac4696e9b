package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
)

func TestLoadCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Download.MaxRetries != DefaultMaxRetries || cfg.Schedule.Parser != "gronx" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.HTTPTimeout != DefaultHTTPTimeout || again.DownloadDir != "downloads" {
		t.Fatalf("round trip lost values: %+v", again)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	src := `
data_dir: /srv/ptauto
proxy: socks5://127.0.0.1:1080
http_timeout: 1m
download:
  direct: true
watch:
  kinds: [added, renamed]
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/srv/ptauto" || cfg.Proxy != "socks5://127.0.0.1:1080" || cfg.HTTPTimeout != time.Minute {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !cfg.Download.Direct || cfg.Download.MaxRetries != DefaultMaxRetries {
		t.Fatalf("section not merged: %+v", cfg.Download)
	}
	if cfg.MediaDir != "media" || cfg.Schedule.Parser != "gronx" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	kinds, err := cfg.WatchKinds()
	if err != nil || len(kinds) != 2 || kinds[1] != eventbus.ChangeRenamed {
		t.Fatalf("kinds = %v, %v", kinds, err)
	}

	if err := cfg.Resolve(); err != nil {
		t.Fatal(err)
	}
	if cfg.DownloadDir != filepath.Join("/srv/ptauto", "downloads") {
		t.Fatalf("DownloadDir = %s", cfg.DownloadDir)
	}
	if cfg.DatabasePath() != filepath.Join("/srv/ptauto", "ptauto.db") {
		t.Fatalf("DatabasePath = %s", cfg.DatabasePath())
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("download: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"robfig", func(c *Config) { c.Schedule.Parser = "robfig" }, true},
		{"bad parser", func(c *Config) { c.Schedule.Parser = "quartz" }, false},
		{"bad kind", func(c *Config) { c.Watch.Kinds = []string{"created"} }, false},
		{"zero retries", func(c *Config) { c.Download.MaxRetries = 0 }, false},
		{"negative timeout", func(c *Config) { c.HTTPTimeout = -time.Second }, false},
		{"no media dir", func(c *Config) { c.MediaDir = "" }, false},
	}
	for _, tt := range tests {
		c := Default()
		tt.mutate(c)
		err := c.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v", tt.name, err)
		}
	}
}
