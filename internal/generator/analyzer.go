package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

const analyzeTemperature float32 = 0.2

// Failure reasons reported by Analyze. Callers show them verbatim.
const (
	ReasonNoAPIKey = "No API Key"
	ReasonEmpty    = "Empty response"
	ReasonAIError  = "AI Error"
	ReasonDisabled = "ai refinement disabled"
)

// Analysis is the AI verdict on a single message.
type Analysis struct {
	Decision bool   `json:"decision"`
	Reason   string `json:"reason"`
}

// Analyzer applies a rule's AI refinement instruction to message text.
type Analyzer struct {
	backend Backend
	logger  zerolog.Logger
}

func NewAnalyzer(backend Backend, logger zerolog.Logger) *Analyzer {
	return &Analyzer{backend: backend, logger: logger}
}

// Analyze never returns an error; failures come back as a negative decision
// with a reason.
func (a *Analyzer) Analyze(ctx context.Context, cfg rules.AIConfig, text string) (res Analysis) {
	if !cfg.Enabled {
		return Analysis{Decision: true, Reason: ReasonDisabled}
	}
	if a.backend == nil {
		return Analysis{Reason: ReasonNoAPIKey}
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("analyzer backend panicked")
			res = Analysis{Reason: ReasonAIError}
		}
	}()

	raw, err := a.backend.Complete(ctx, Request{
		Prompt:      analysisPrompt(cfg.SystemInstruction, text),
		Model:       cfg.Model,
		Temperature: analyzeTemperature,
	})
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return Analysis{Reason: ReasonNoAPIKey}
		}
		a.logger.Warn().Err(err).Msg("message analysis failed")
		return Analysis{Reason: ReasonAIError}
	}

	raw = stripFence(strings.TrimSpace(raw))
	if raw == "" {
		return Analysis{Reason: ReasonEmpty}
	}
	var out Analysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		a.logger.Warn().Err(err).Msg("analysis response is not JSON")
		return Analysis{Reason: ReasonAIError}
	}
	return out
}
