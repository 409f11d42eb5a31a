package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Write(_ context.Context, event Event) error {
	ev := s.logger.Info()
	if event.Status == StatusFailure {
		ev = s.logger.Warn().Str("error", event.ErrorMessage)
	}
	ev.Str("audit_id", event.ID).
		Str("action", event.Action).
		Str("rule_id", event.RuleID).
		Str("actor", event.Actor.Display).
		Str("ip", event.Source.IPAddress).
		Str("request_id", event.RequestID).
		Interface("changes", event.Changes).
		Msg("rule audit")
	return nil
}

// MemorySink keeps the most recent events, newest first.
type MemorySink struct {
	mu     sync.RWMutex
	cap    int
	events []Event
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity < 1 {
		capacity = 1
	}
	return &MemorySink{cap: capacity}
}

func (s *MemorySink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append([]Event{event}, s.events...)
	if len(s.events) > s.cap {
		s.events = s.events[:s.cap]
	}
	return nil
}

// Recent returns up to limit events, newest first, optionally for one rule.
func (s *MemorySink) Recent(ruleID string, limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, min(limit, len(s.events)))
	for _, e := range s.events {
		if len(out) == limit {
			break
		}
		if ruleID == "" || e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
