package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
)

// GronxParser accepts 5-field cron expressions and 6-field expressions
// with either a leading seconds field or a trailing year.
type GronxParser struct{}

func (GronxParser) Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if n := len(strings.Fields(expr)); n < 5 || n > 6 {
		return nil, &ScheduleError{Expr: expr, Err: fmt.Errorf("expected 5 or 6 fields, got %d", n)}
	}
	if !gronx.IsValid(expr) {
		return nil, &ScheduleError{Expr: expr, Err: fmt.Errorf("rejected by parser")}
	}
	// Valid syntax can still describe an impossible date such as Feb 30.
	if _, err := gronx.NextTickAfter(expr, time.Now(), false); err != nil {
		return nil, &ScheduleError{Expr: expr, Err: err}
	}
	return gronxSchedule(expr), nil
}

type gronxSchedule string

func (g gronxSchedule) Next(after time.Time) time.Time {
	next, err := gronx.NextTickAfter(string(g), after, false)
	if err != nil {
		return time.Time{}
	}
	return next
}

// RobfigParser accepts standard cron expressions with an optional leading
// seconds field and descriptors such as "@daily" or "@every 1h".
type RobfigParser struct {
	p cron.Parser
}

func NewRobfigParser() *RobfigParser {
	return &RobfigParser{
		p: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (r *RobfigParser) Parse(expr string) (Schedule, error) {
	s, err := r.p.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, &ScheduleError{Expr: expr, Err: err}
	}
	return s, nil
}

// ParserByName returns the parser configured under name ("gronx", the
// default, or "robfig").
func ParserByName(name string) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gronx":
		return GronxParser{}, nil
	case "robfig", "cron":
		return NewRobfigParser(), nil
	}
	return nil, fmt.Errorf("unknown schedule parser %q", name)
}
