package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Service records events asynchronously. Log never blocks the request path;
// when the queue is full the event is dropped and the drop is logged.
type Service struct {
	sink   Sink
	now    func() time.Time
	newID  func() string
	logger zerolog.Logger

	queue     chan Event
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService starts the background writer.
func NewService(sink Sink, queueSize int, opts ...Option) *Service {
	if queueSize < 1 {
		queueSize = 1
	}
	s := &Service{
		sink:   sink,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: zerolog.Nop(),
		queue:  make(chan Event, queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.worker()
	return s
}

func (s *Service) worker() {
	defer close(s.done)
	for {
		select {
		case event := <-s.queue:
			s.write(event)
		case <-s.stopCh:
			// drain what was queued before Close
			for {
				select {
				case event := <-s.queue:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.sink.Write(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("action", event.Action).Str("rule_id", event.RuleID).Msg("audit write failed")
	}
}

// Log queues event, filling in its id and timestamp when unset.
func (s *Service) Log(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if event.ID == "" {
		event.ID = s.newID()
	}
	if event.Changes == nil {
		event.Changes = ComputeChanges(event.BeforeState, event.AfterState)
	}

	select {
	case <-s.stopCh:
		return
	default:
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn().Str("action", event.Action).Str("rule_id", event.RuleID).Msg("audit queue full, dropping event")
	}
}

// Close stops accepting events and blocks until the queue is drained.
// Safe to call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.stopCh) })
	<-s.done
}
