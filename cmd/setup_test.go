package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faithleysath/pt-web-automation/internal/config"
	"github.com/faithleysath/pt-web-automation/pkg/logger"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(b)
}

func TestNewLoggerConsoleOnly(t *testing.T) {
	l, err := newLogger(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if _, ok := l.(*logger.StandardLogger); !ok {
		t.Fatalf("logger = %T, want *logger.StandardLogger", l)
	}
}

func TestNewLoggerFansOutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ptauto.log")
	l, err := newLogger(&config.Config{Log: config.LogConfig{File: path}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*logger.MultiLogger); !ok {
		t.Fatalf("logger = %T, want *logger.MultiLogger", l)
	}
	l.Info("watcher %s", "started")
	l.Debug("hidden")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out := readLog(t, path)
	if !strings.Contains(out, "[INFO] watcher started") {
		t.Errorf("log file = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message written without debug: %q", out)
	}
}

func TestCliLoggerKeepsInfoInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptauto.log")
	l, err := cliLogger(&config.Config{Log: config.LogConfig{File: path}})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("checked %s", "s1")
	l.Warning("slow %s", "platform")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out := readLog(t, path)
	for _, want := range []string{"[INFO] checked s1", "[WARNING] slow platform"} {
		if !strings.Contains(out, want) {
			t.Errorf("log file missing %q: %q", want, out)
		}
	}
}

func TestCliLoggerBadFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := cliLogger(&config.Config{Log: config.LogConfig{File: filepath.Join(blocker, "ptauto.log")}}); err == nil {
		t.Fatal("expected error for log file below a regular file")
	}
}
