// Package logger provides the logging interface shared by every ptauto
// component. Components receive a Logger through their constructors and
// never reach for a package-level logger.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Logger defines the interface for leveled, printf-style logging.
type Logger interface {
	// Debug logs a diagnostic message. Implementations may discard it.
	Debug(format string, args ...interface{})

	// Info logs an informational message (e.g., "Job installed for sub-1").
	Info(format string, args ...interface{})

	// Warning logs a warning message (e.g., "Download dropped after 3 retries").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "Platform baha: fetch episodes: timeout").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger (e.g., an open log file).
	// Safe to call multiple times.
	Close() error
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
	debug  bool
	closer io.Closer
	once   sync.Once
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
// Debug messages are only written when debug is true.
func NewStandardLogger(l *log.Logger, debug bool) *StandardLogger {
	return &StandardLogger{logger: l, debug: debug}
}

// NewFileLogger creates a logger appending to the file at path. The parent
// directory is created if needed. Pair it with a console logger through
// NewMultiLogger.
func NewFileLogger(path string, debug bool) (*StandardLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := log.New(f, "", log.LstdFlags)
	return &StandardLogger{logger: l, debug: debug, closer: f}, nil
}

// Debug logs a message with [DEBUG] prefix when debug output is enabled.
func (s *StandardLogger) Debug(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.logger.Printf("[DEBUG] "+format, args...)
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close closes the underlying log file, if any.
func (s *StandardLogger) Close() error {
	var err error
	s.once.Do(func() {
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// Writer exposes the destination of the logger, for libraries that want
// an io.Writer (e.g. progress bars writing below log lines).
func (s *StandardLogger) Writer() io.Writer {
	return s.logger.Writer()
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(format string, args ...interface{})   {}
func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}
func (n *NopLogger) Close() error                               { return nil }

// prefixed tags every message with a component name.
type prefixed struct {
	next   Logger
	prefix string
}

// WithPrefix returns a Logger that prepends "<prefix>: " to every message.
// Close is forwarded to the wrapped logger.
func WithPrefix(l Logger, prefix string) Logger {
	if l == nil {
		l = NewNopLogger()
	}
	return &prefixed{next: l, prefix: prefix + ": "}
}

func (p *prefixed) Debug(format string, args ...interface{}) {
	p.next.Debug(p.prefix+format, args...)
}

func (p *prefixed) Info(format string, args ...interface{}) {
	p.next.Info(p.prefix+format, args...)
}

func (p *prefixed) Warning(format string, args ...interface{}) {
	p.next.Warning(p.prefix+format, args...)
}

func (p *prefixed) Error(format string, args ...interface{}) {
	p.next.Error(p.prefix+format, args...)
}

func (p *prefixed) Close() error { return p.next.Close() }

// Ensure implementations satisfy the Logger interface.
var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
	_ Logger = (*prefixed)(nil)
)

// MockLogger implements Logger for tests. It records every formatted
// message and is safe for use from multiple goroutines.
type MockLogger struct {
	mu       sync.Mutex
	debugs   []string
	infos    []string
	warnings []string
	errors   []string
	closed   bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) record(dst *[]string, format string, args []interface{}) {
	m.mu.Lock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

func (m *MockLogger) Debug(format string, args ...interface{}) {
	m.record(&m.debugs, format, args)
}

func (m *MockLogger) Info(format string, args ...interface{}) {
	m.record(&m.infos, format, args)
}

func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.record(&m.warnings, format, args)
}

func (m *MockLogger) Error(format string, args ...interface{}) {
	m.record(&m.errors, format, args)
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (m *MockLogger) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Infos returns a copy of the recorded info messages.
func (m *MockLogger) Infos() []string { return m.snapshot(&m.infos) }

// Warnings returns a copy of the recorded warning messages.
func (m *MockLogger) Warnings() []string { return m.snapshot(&m.warnings) }

// Errors returns a copy of the recorded error messages.
func (m *MockLogger) Errors() []string { return m.snapshot(&m.errors) }

// Debugs returns a copy of the recorded debug messages.
func (m *MockLogger) Debugs() []string { return m.snapshot(&m.debugs) }

func (m *MockLogger) snapshot(src *[]string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(*src))
	copy(out, *src)
	return out
}

// HasWarning reports whether any warning contains substr.
func (m *MockLogger) HasWarning(substr string) bool { return containsAny(m.Warnings(), substr) }

// HasError reports whether any error contains substr.
func (m *MockLogger) HasError(substr string) bool { return containsAny(m.Errors(), substr) }

// HasInfo reports whether any info message contains substr.
func (m *MockLogger) HasInfo(substr string) bool { return containsAny(m.Infos(), substr) }

func containsAny(msgs []string, substr string) bool {
	for _, msg := range msgs {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

var _ Logger = (*MockLogger)(nil)
