// Package config loads the ptauto YAML configuration.
//
// Values missing from the file keep their defaults, and a missing file is
// created with the defaults. Relative directories are resolved against
// DataDir.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faithleysath/pt-web-automation/internal/eventbus"
	"github.com/faithleysath/pt-web-automation/internal/scheduler"
)

const (
	DefaultFileName        = "config.yaml"
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxRetries      = 3
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	DataDir     string `yaml:"data_dir"`
	DownloadDir string `yaml:"download_dir"`
	MediaDir    string `yaml:"media_dir"`
	PlatformDir string `yaml:"platform_dir"`
	// Proxy is an http, https or socks5 URL used for platform and media
	// requests.
	Proxy           string         `yaml:"proxy"`
	HTTPTimeout     time.Duration  `yaml:"http_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Watch           WatchConfig    `yaml:"watch"`
	Download        DownloadConfig `yaml:"download"`
	Schedule        ScheduleConfig `yaml:"schedule"`
	Metrics         MetricsConfig  `yaml:"metrics"`
	Log             LogConfig      `yaml:"log"`
}

type WatchConfig struct {
	// Kinds lists the change kinds published as FileChanged events:
	// added, modified, deleted, renamed.
	Kinds []string `yaml:"kinds"`
}

type DownloadConfig struct {
	MaxRetries int `yaml:"max_retries"`
	// Direct enables the plain file downloader for mp4, mkv and ass links.
	Direct bool `yaml:"direct"`
}

type ScheduleConfig struct {
	// Parser selects the cron dialect: gronx or robfig.
	Parser string `yaml:"parser"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Debug bool   `yaml:"debug"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ptauto")
	}
	return ".ptauto"
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:         DefaultDataDir(),
		DownloadDir:     "downloads",
		MediaDir:        "media",
		PlatformDir:     "platforms",
		HTTPTimeout:     DefaultHTTPTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Watch:           WatchConfig{Kinds: []string{"added"}},
		Download:        DownloadConfig{MaxRetries: DefaultMaxRetries},
		Schedule:        ScheduleConfig{Parser: "gronx"},
	}
}

// Load reads path over the defaults. A missing file is written with the
// defaults first.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// Save writes c to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Resolve makes the directories absolute, relative ones below DataDir.
func (c *Config) Resolve() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = abs
	for _, p := range []*string{&c.DownloadDir, &c.MediaDir, &c.PlatformDir, &c.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.DataDir, *p)
		}
	}
	return nil
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	if _, err := scheduler.ParserByName(c.Schedule.Parser); err != nil {
		return fmt.Errorf("%w: schedule.parser: %v", ErrInvalidConfig, err)
	}
	if _, err := c.WatchKinds(); err != nil {
		return err
	}
	if c.Download.MaxRetries < 1 {
		return fmt.Errorf("%w: download.max_retries must be at least 1", ErrInvalidConfig)
	}
	if c.HTTPTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.DownloadDir == "" || c.MediaDir == "" {
		return fmt.Errorf("%w: download_dir and media_dir are required", ErrInvalidConfig)
	}
	return nil
}

// WatchKinds parses Watch.Kinds.
func (c *Config) WatchKinds() ([]eventbus.ChangeKind, error) {
	kinds := make([]eventbus.ChangeKind, 0, len(c.Watch.Kinds))
	for _, name := range c.Watch.Kinds {
		k, ok := eventbus.ParseChangeKind(name)
		if !ok {
			return nil, fmt.Errorf("%w: watch.kinds: unknown kind %q", ErrInvalidConfig, name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// DatabasePath is the subscription store below DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "ptauto.db")
}

// LockPath is the single-instance lock file below DataDir.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "ptauto.lock")
}
