// Package testbench runs a logic tree against manual input or a stream of
// synthetic messages and keeps a bounded history of the results.
package testbench

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
)

const (
	DefaultInterval = 800 * time.Millisecond
	DefaultHistory  = 50

	anonymousSender = "Anonymous"
)

var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrClosed       = errors.New("test bench is closed")
)

type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
)

type Mode string

const (
	ModeManual Mode = "manual"
	ModeStream Mode = "stream"
)

// TreeSource yields the tree to evaluate. It is read on every evaluation so
// edits apply to the next message without restarting the stream.
type TreeSource interface {
	Tree() rules.LogicNode
}

// TreeFunc adapts a function to TreeSource.
type TreeFunc func() rules.LogicNode

func (f TreeFunc) Tree() rules.LogicNode { return f() }

// Source produces synthetic messages for streaming mode.
type Source interface {
	Next() engine.MessageRecord
}

// Result is one evaluated message.
type Result struct {
	engine.MessageRecord
	Matched     bool                `json:"result"`
	Mode        Mode                `json:"mode"`
	EvaluatedAt time.Time           `json:"evaluated_at"`
	Diagnostics []engine.Diagnostic `json:"diagnostics,omitempty"`
}

// Stats only counts streamed messages.
type Stats struct {
	Total   int `json:"total"`
	Matches int `json:"matches"`
	Drops   int `json:"drops"`
}

type Snapshot struct {
	State    State    `json:"state"`
	Interval string   `json:"interval"`
	Stats    Stats    `json:"stats"`
	History  []Result `json:"history"`
}

type Bench struct {
	tree       TreeSource
	source     Source
	interval   time.Duration
	historyCap int
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	state   State
	stats   Stats
	history []Result // newest first
	stop    chan struct{}
	done    chan struct{}
	closed  bool

	subMu sync.Mutex
	subs  map[chan Result]struct{}
}

type Option func(*Bench)

func WithInterval(d time.Duration) Option {
	return func(b *Bench) {
		if d > 0 {
			b.interval = d
		}
	}
}

func WithHistory(n int) Option {
	return func(b *Bench) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bench) { b.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bench) { b.logger = logger }
}

func New(tree TreeSource, source Source, opts ...Option) *Bench {
	b := &Bench{
		tree:       tree,
		source:     source,
		interval:   DefaultInterval,
		historyCap: DefaultHistory,
		now:        time.Now,
		logger:     zerolog.Nop(),
		state:      StateIdle,
		subs:       make(map[chan Result]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start begins streaming. It reports false if the bench is already
// streaming or has been closed.
func (b *Bench) Start() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.state == StateStreaming {
		return false
	}
	b.state = StateStreaming
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.loop(b.stop, b.done)
	b.logger.Debug().Dur("interval", b.interval).Msg("bench streaming started")
	return true
}

// Stop halts streaming and waits for an in-flight tick to finish. No tick
// starts after Stop returns.
func (b *Bench) Stop() bool {
	b.mu.Lock()
	if b.state != StateStreaming {
		b.mu.Unlock()
		return false
	}
	stop, done := b.stop, b.done
	b.state = StateIdle
	b.stop, b.done = nil, nil
	b.mu.Unlock()

	close(stop)
	<-done
	b.logger.Debug().Msg("bench streaming stopped")
	return true
}

// Toggle flips between idle and streaming and returns the new state.
func (b *Bench) Toggle() State {
	if !b.Stop() {
		b.Start()
	}
	return b.State()
}

func (b *Bench) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bench) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			b.streamTick()
		}
	}
}

func (b *Bench) streamTick() Result {
	res := b.evaluate(b.source.Next(), ModeStream)
	telemetry.BenchTicks.Inc()

	b.mu.Lock()
	b.stats.Total++
	if res.Matched {
		b.stats.Matches++
	} else {
		b.stats.Drops++
	}
	b.push(res)
	b.mu.Unlock()

	b.publish(res)
	return res
}

// Submit evaluates one operator-typed message. Counters are not touched.
func (b *Bench) Submit(msg engine.MessageRecord) (Result, error) {
	if msg.MessageText == "" {
		return Result{}, ErrEmptyMessage
	}
	if msg.Sender == "" {
		msg.Sender = anonymousSender
	}
	if msg.Timestamp == "" {
		msg.Timestamp = b.now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Result{}, ErrClosed
	}
	b.mu.Unlock()

	res := b.evaluate(msg, ModeManual)
	b.mu.Lock()
	b.push(res)
	b.mu.Unlock()

	b.publish(res)
	return res, nil
}

func (b *Bench) evaluate(msg engine.MessageRecord, mode Mode) Result {
	matched, diags := engine.EvaluateWithDiagnostics(b.tree.Tree(), msg)
	for _, d := range diags {
		if d.Kind == engine.DiagInvalidRegex {
			telemetry.RegexErrors.Inc()
			b.logger.Debug().Str("node_id", d.NodeID).Str("pattern", d.Pattern).Str("mode", string(mode)).Msg(d.Message)
		}
	}
	return Result{
		MessageRecord: msg,
		Matched:       matched,
		Mode:          mode,
		EvaluatedAt:   b.now(),
		Diagnostics:   diags,
	}
}

// push requires b.mu.
func (b *Bench) push(res Result) {
	n := len(b.history) + 1
	if n > b.historyCap {
		n = b.historyCap
	}
	next := make([]Result, n)
	next[0] = res
	copy(next[1:], b.history)
	b.history = next
}

// Clear drops the history and resets the counters.
func (b *Bench) Clear() {
	b.mu.Lock()
	b.history = nil
	b.stats = Stats{}
	b.mu.Unlock()
}

func (b *Bench) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := make([]Result, len(b.history))
	copy(history, b.history)
	return Snapshot{
		State:    b.state,
		Interval: b.interval.String(),
		Stats:    b.stats,
		History:  history,
	}
}

// Subscribe registers a listener for every new result. Slow listeners miss
// results instead of blocking the bench. The channel is closed by the
// returned func or by Close.
func (b *Bench) Subscribe() (<-chan Result, func()) {
	ch := make(chan Result, 16)
	b.subMu.Lock()
	if b.subs == nil {
		close(ch)
	} else {
		b.subs[ch] = struct{}{}
	}
	b.subMu.Unlock()

	unsub := func() {
		b.subMu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.subMu.Unlock()
	}
	return ch, unsub
}

func (b *Bench) publish(res Result) {
	b.subMu.Lock()
	for ch := range b.subs {
		select {
		case ch <- res:
		default:
		}
	}
	b.subMu.Unlock()
}

// Close stops streaming and closes every subscriber channel. The bench
// cannot be restarted.
func (b *Bench) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Stop()

	b.subMu.Lock()
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.subMu.Unlock()
}
