package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestGronxParser(t *testing.T) {
	tests := []struct {
		expr  string
		valid bool
	}{
		{"0 2 * * *", true},
		{"*/15 * * * *", true},
		{"0 20 * * 1-5", true},
		{"", false},
		{"bad-expr", false},
		{"* * *", false},
		{"61 * * * *", false},
	}
	for _, tt := range tests {
		_, err := GronxParser{}.Parse(tt.expr)
		if tt.valid && err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tt.expr, err)
		}
		if !tt.valid {
			if err == nil {
				t.Errorf("Parse(%q) expected error", tt.expr)
			} else if !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("Parse(%q) error %v is not ErrInvalidSchedule", tt.expr, err)
			}
		}
	}
}

func TestGronxScheduleNext(t *testing.T) {
	s, err := GronxParser{}.Parse("0 2 * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next := s.Next(from)
	if next.Hour() != 2 || next.Minute() != 0 || next.Day() != 1 {
		t.Errorf("expected 2026-03-01 02:00, got %v", next)
	}
	after := s.Next(next)
	if !after.After(next) || after.Day() != 2 {
		t.Errorf("expected the following day, got %v", after)
	}
}

func TestRobfigParser(t *testing.T) {
	p := NewRobfigParser()
	for _, expr := range []string{"0 2 * * *", "30 0 2 * * *", "@daily", "@every 1h"} {
		if _, err := p.Parse(expr); err != nil {
			t.Errorf("Parse(%q): %v", expr, err)
		}
	}
	if _, err := p.Parse("not a cron"); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule, got %v", err)
	}

	s, _ := p.Parse("0 2 * * *")
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if next := s.Next(from); next.Hour() != 2 || next.Day() != 1 {
		t.Errorf("expected 02:00 same day, got %v", next)
	}
}

func TestParserByName(t *testing.T) {
	if p, err := ParserByName(""); err != nil {
		t.Fatal(err)
	} else if _, ok := p.(GronxParser); !ok {
		t.Errorf("default parser = %T, want GronxParser", p)
	}
	if p, err := ParserByName("robfig"); err != nil {
		t.Fatal(err)
	} else if _, ok := p.(*RobfigParser); !ok {
		t.Errorf("robfig parser = %T", p)
	}
	if _, err := ParserByName("quartz"); err == nil {
		t.Error("expected error for unknown parser")
	}
}
