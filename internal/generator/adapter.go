package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
)

const generateTemperature float32 = 0.1

// Result is either a complete tree or a failure, never both.
type Result struct {
	Tree *rules.LogicNode
	Err  error
}

func (r Result) OK() bool { return r.Err == nil && r.Tree != nil }

// Adapter turns natural-language requests into logic trees through a Backend.
// It holds no shared state besides its configuration and is safe for
// concurrent use.
type Adapter struct {
	backend Backend
	model   string
	logger  zerolog.Logger
}

type Option func(*Adapter)

func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// NewAdapter accepts a nil backend; every Generate call then reports
// ErrMissingCredential.
func NewAdapter(backend Backend, opts ...Option) *Adapter {
	a := &Adapter{backend: backend, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate asks the backend for a tree and post-processes the answer. It
// never panics and never returns a partially built tree.
func (a *Adapter) Generate(ctx context.Context, prompt string) (res Result) {
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "error"
			res = Result{Err: fmt.Errorf("%w: backend panic: %v", ErrGeneration, r)}
		}
		telemetry.Generations.WithLabelValues(outcome).Inc()
		if res.Err != nil {
			a.logger.Warn().Err(res.Err).Str("outcome", outcome).Msg("tree generation failed")
		}
	}()

	if strings.TrimSpace(prompt) == "" {
		outcome = "rejected"
		return Result{Err: ErrEmptyPrompt}
	}
	if a.backend == nil {
		outcome = "missing_credential"
		return Result{Err: ErrMissingCredential}
	}

	raw, err := a.backend.Complete(ctx, Request{
		Instruction: Instruction,
		Prompt:      UserPrompt(prompt),
		Model:       a.model,
		Temperature: generateTemperature,
	})
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			outcome = "missing_credential"
			return Result{Err: err}
		}
		outcome = "error"
		return Result{Err: fmt.Errorf("%w: %w", ErrGeneration, err)}
	}
	if strings.TrimSpace(raw) == "" {
		outcome = "empty"
		return Result{Err: ErrEmptyOutput}
	}

	tree, err := ParseTree(raw)
	if err != nil {
		outcome = "malformed"
		return Result{Err: err}
	}
	a.logger.Debug().Int("bytes", len(raw)).Msg("tree generated")
	return Result{Tree: &tree}
}

// ParseTree decodes a single JSON object into a tree and backfills missing
// ids. One surrounding markdown code fence is tolerated; anything else around
// the object is rejected. Field and comparator values are not checked.
func ParseTree(raw string) (rules.LogicNode, error) {
	body := stripFence(strings.TrimSpace(raw))
	if !strings.HasPrefix(body, "{") {
		return rules.LogicNode{}, fmt.Errorf("%w: top-level value is not an object", ErrMalformedOutput)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var node rules.LogicNode
	if err := dec.Decode(&node); err != nil {
		return rules.LogicNode{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return rules.LogicNode{}, fmt.Errorf("%w: trailing content after object", ErrMalformedOutput)
	}

	BackfillIDs(&node)
	return node, nil
}

// BackfillIDs assigns a fresh id to every node that lacks one. Nothing else
// is touched.
func BackfillIDs(n *rules.LogicNode) {
	if n.ID == "" {
		n.ID = rules.NewID()
	}
	for i := range n.Children {
		BackfillIDs(&n.Children[i])
	}
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := s[3 : len(s)-3]
	// drop the language tag on the opening line
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		tag := strings.TrimSpace(inner[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{}[]\"") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}
