package logger

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestStandardLogger_Levels(t *testing.T) {
	tests := []struct {
		name   string
		log    func(l *StandardLogger)
		prefix string
		msg    string
	}{
		{"info", func(l *StandardLogger) { l.Info("job %d", 1) }, "[INFO]", "job 1"},
		{"warning", func(l *StandardLogger) { l.Warning("retry %s", "3/3") }, "[WARNING]", "retry 3/3"},
		{"error", func(l *StandardLogger) { l.Error("failed: %v", "timeout") }, "[ERROR]", "failed: timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.log(NewStandardLogger(log.New(buf, "", 0), false))
			out := buf.String()
			if !strings.Contains(out, tt.prefix) {
				t.Errorf("expected %s prefix, got: %s", tt.prefix, out)
			}
			if !strings.Contains(out, tt.msg) {
				t.Errorf("expected %q, got: %s", tt.msg, out)
			}
		})
	}
}

func TestStandardLogger_DebugGated(t *testing.T) {
	buf := &bytes.Buffer{}
	NewStandardLogger(log.New(buf, "", 0), false).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no debug output, got: %s", buf.String())
	}

	NewStandardLogger(log.New(buf, "", 0), true).Debug("shown %d", 7)
	if !strings.Contains(buf.String(), "[DEBUG] shown 7") {
		t.Fatalf("expected debug output, got: %s", buf.String())
	}
}

func TestFileLogger_WritesAndCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ptauto.log")
	l, err := NewFileLogger(path, false)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Info("hello %s", "file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// second close is a no-op
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), "[INFO] hello file") {
		t.Fatalf("log file missing message: %q", b)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("test")
	l.Info("test")
	l.Warning("test")
	l.Error("test")
	if err := l.Close(); err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}

func TestWithPrefix(t *testing.T) {
	mock := NewMockLogger()
	l := WithPrefix(mock, "scheduler")
	l.Info("installed %s", "sub-1")
	l.Warning("w")
	l.Error("e")

	if got := mock.Infos(); len(got) != 1 || got[0] != "scheduler: installed sub-1" {
		t.Fatalf("unexpected info calls: %v", got)
	}
	if !mock.HasWarning("scheduler: w") || !mock.HasError("scheduler: e") {
		t.Fatalf("prefix missing: warnings=%v errors=%v", mock.Warnings(), mock.Errors())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mock.Closed() {
		t.Fatal("Close should be forwarded")
	}
}

func TestWithPrefix_NilLogger(t *testing.T) {
	l := WithPrefix(nil, "x")
	l.Info("does not panic")
}

func TestMockLogger_RecordsCalls(t *testing.T) {
	l := NewMockLogger()

	l.Info("info %d", 1)
	l.Info("info %d", 2)
	l.Warning("warn %s", "test")
	l.Error("err %v", "fail")
	l.Debug("dbg")

	infos := l.Infos()
	if len(infos) != 2 || infos[0] != "info 1" || infos[1] != "info 2" {
		t.Errorf("unexpected infos: %v", infos)
	}
	if w := l.Warnings(); len(w) != 1 || w[0] != "warn test" {
		t.Errorf("unexpected warnings: %v", w)
	}
	if e := l.Errors(); len(e) != 1 || e[0] != "err fail" {
		t.Errorf("unexpected errors: %v", e)
	}
	if d := l.Debugs(); len(d) != 1 {
		t.Errorf("unexpected debugs: %v", d)
	}
}

func TestMockLogger_Concurrent(t *testing.T) {
	l := NewMockLogger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Info("msg %d", i)
		}(i)
	}
	wg.Wait()
	if n := len(l.Infos()); n != 50 {
		t.Fatalf("expected 50 messages, got %d", n)
	}
}

func TestMultiLogger_BroadcastsToAll(t *testing.T) {
	mock1 := NewMockLogger()
	mock2 := NewMockLogger()

	multi := NewMultiLogger(mock1, mock2)
	multi.Debug("debug msg")
	multi.Info("info msg")
	multi.Warning("warn msg")
	multi.Error("error msg")

	for i, m := range []*MockLogger{mock1, mock2} {
		if !m.HasInfo("info msg") || !m.HasWarning("warn msg") || !m.HasError("error msg") {
			t.Errorf("mock%d missed a message", i+1)
		}
		if len(m.Debugs()) != 1 {
			t.Errorf("mock%d missed debug message", i+1)
		}
	}
}

type failingCloseLogger struct {
	NopLogger
	err error
}

func (f *failingCloseLogger) Close() error { return f.err }

func TestMultiLogger_CloseReturnsFirstError(t *testing.T) {
	first := errors.New("first")
	mock := NewMockLogger()
	multi := NewMultiLogger(
		&failingCloseLogger{err: first},
		&failingCloseLogger{err: errors.New("second")},
		mock,
	)
	if err := multi.Close(); !errors.Is(err, first) {
		t.Fatalf("expected first error, got %v", err)
	}
	if !mock.Closed() {
		t.Fatal("all loggers should be closed even after an error")
	}
}

func TestMultiLogger_EmptyLoggers(t *testing.T) {
	multi := NewMultiLogger()
	multi.Info("test")
	if err := multi.Close(); err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}
