// Package cron parses the scheduler's tick schedule. Standard five-field
// expressions and descriptors such as "@every 1m" are accepted.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// maxSamples bounds how many firings Interval inspects.
const maxSamples = 2000

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse compiles expression, evaluating wall-clock fields in timezone.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// Every returns a fixed-interval schedule.
func Every(d time.Duration) Schedule {
	return &schedule{sched: cron.Every(d), loc: time.UTC}
}

// Interval returns the longest gap between consecutive firings during the
// day following from. The delivery window must be at least this long or a
// user could fall between two ticks.
func Interval(s Schedule, from time.Time) time.Duration {
	end := from.Add(24 * time.Hour)
	prev := s.Next(from)
	if prev.IsZero() {
		return 0
	}

	var longest time.Duration
	for i := 0; i < maxSamples && prev.Before(end); i++ {
		next := s.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); gap > longest {
			longest = gap
		}
		prev = next
	}
	return longest
}
