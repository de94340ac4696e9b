package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/faithleysath/pt-web-automation/internal/config"
	"github.com/faithleysath/pt-web-automation/internal/store"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

// loadConfig reads the config selected by the global flags and resolves
// its directories.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		dir := dataDir
		if dir == "" {
			dir = config.DefaultDataDir()
		}
		path = filepath.Join(dir, config.DefaultFileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debugLog {
		cfg.Log.Debug = true
	}
	if err := cfg.Resolve(); err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger logs to stderr, and to log.file when set.
func newLogger(cfg *config.Config) (logger.Logger, error) {
	console := logger.NewStandardLogger(log.New(os.Stderr, "", log.LstdFlags), cfg.Log.Debug)
	return withLogFile(cfg, console)
}

// cliLogger is used by the one-shot commands, which print their results
// and only need warnings and errors on stderr. The log file still gets
// everything.
func cliLogger(cfg *config.Config) (logger.Logger, error) {
	console := &quietLogger{logger.NewStandardLogger(log.New(os.Stderr, "", 0), cfg.Log.Debug)}
	return withLogFile(cfg, console)
}

// withLogFile fans console out to the configured log file, if any.
func withLogFile(cfg *config.Config, console logger.Logger) (logger.Logger, error) {
	if cfg.Log.File == "" {
		return console, nil
	}
	file, err := logger.NewFileLogger(cfg.Log.File, cfg.Log.Debug)
	if err != nil {
		return nil, err
	}
	return logger.NewMultiLogger(console, file), nil
}

type quietLogger struct {
	*logger.StandardLogger
}

func (q *quietLogger) Info(format string, args ...interface{}) {
	q.Debug(format, args...)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.Open(cfg.DatabasePath())
}
