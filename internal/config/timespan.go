package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/bereel/internal/errors"
)

const timespanLayout = "02.01.2006"

// Span is a half-open [Start, End) window over UTC capture instants.
// A zero bound is unbounded.
type Span struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the span.
func (s Span) Contains(t time.Time) bool {
	if !s.Start.IsZero() && t.Before(s.Start) {
		return false
	}
	if !s.End.IsZero() && !t.Before(s.End) {
		return false
	}
	return true
}

// Span returns the capture window selected by Timespan or Year.
// Timespan takes precedence when both are set.
func (c *Config) Span() (Span, error) {
	if c.Timespan != "" {
		return ParseTimespan(c.Timespan)
	}
	if c.Year != 0 {
		return YearSpan(c.Year), nil
	}
	return Span{}, nil
}

// ParseTimespan parses "DD.MM.YYYY-DD.MM.YYYY". Either side may be "*".
// The end date is inclusive.
func ParseTimespan(s string) (Span, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Span{}, invalidTimespan(s)
	}

	var span Span
	if start := strings.TrimSpace(parts[0]); start != "*" {
		t, err := time.ParseInLocation(timespanLayout, start, time.UTC)
		if err != nil {
			return Span{}, invalidTimespan(s)
		}
		span.Start = t
	}
	if end := strings.TrimSpace(parts[1]); end != "*" {
		t, err := time.ParseInLocation(timespanLayout, end, time.UTC)
		if err != nil {
			return Span{}, invalidTimespan(s)
		}
		span.End = t.AddDate(0, 0, 1)
	}
	if !span.Start.IsZero() && !span.End.IsZero() && !span.Start.Before(span.End) {
		return Span{}, errors.NewInvalidRequest(fmt.Sprintf("timespan %q ends before it starts", s))
	}
	return span, nil
}

// YearSpan covers the whole calendar year.
func YearSpan(year int) Span {
	return Span{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func invalidTimespan(s string) error {
	return errors.NewInvalidRequest(fmt.Sprintf("invalid timespan %q; use 'DD.MM.YYYY-DD.MM.YYYY' ('*' for open ends)", s))
}
