package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
	"github.com/TimurManjosov/tgforwarder/internal/testbench"
)

const DefaultTTL = 30 * time.Minute

// SourceFactory gives every session its own message source.
type SourceFactory func() testbench.Source

// Registry tracks open sessions. Sessions share nothing with each other.
type Registry struct {
	ttl       time.Duration
	now       func() time.Time
	sources   SourceFactory
	benchOpts []testbench.Option
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

type RegistryOption func(*Registry)

// WithTTL sets the idle time after which Sweep drops a session.
func WithTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithBenchOptions(opts ...testbench.Option) RegistryOption {
	return func(r *Registry) { r.benchOpts = append(r.benchOpts, opts...) }
}

func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

func NewRegistry(sources SourceFactory, opts ...RegistryOption) *Registry {
	r := &Registry{
		ttl:      DefaultTTL,
		now:      time.Now,
		sources:  sources,
		logger:   zerolog.Nop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a session on rule and registers it.
func (r *Registry) Create(rule rules.FilterRule) (*Session, error) {
	s, err := newSession(rule, r.now, r.sources(), r.benchOpts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	telemetry.SessionsActive.Set(float64(n))
	r.logger.Debug().Str("session", s.id).Str("rule", rule.ID).Msg("session opened")
	return s, nil
}

// Get returns the session and marks it used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Delete closes and forgets the session.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.Close()
	telemetry.SessionsActive.Set(float64(n))
	return true
}

// List returns the open sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were dropped.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastUsed().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
		r.logger.Debug().Str("session", s.id).Msg("session expired")
	}
	if len(expired) > 0 {
		telemetry.SessionsActive.Set(float64(n))
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	every := r.ttl / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	telemetry.SessionsActive.Set(0)
}
