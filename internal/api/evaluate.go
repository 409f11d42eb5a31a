package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/httprate"

	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/generator"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
	"github.com/TimurManjosov/tgforwarder/internal/validation"
)

type evaluateRequest struct {
	Tree    *rules.LogicNode     `json:"tree"`
	Message engine.MessageRecord `json:"message"`
}

type evaluateResponse struct {
	Matched     bool                `json:"matched"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
	Trace       engine.Trace        `json:"trace"`
}

type matchRequest struct {
	Source  string               `json:"source"`
	Message engine.MessageRecord `json:"message"`
}

type matchResponse struct {
	Count       int                 `json:"count"`
	Rules       []rules.FilterRule  `json:"rules"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Tree        rules.LogicNode `json:"tree"`
	Fingerprint string          `json:"fingerprint"`
	Groups      int             `json:"groups"`
	Conditions  int             `json:"conditions"`
}

type analyzeRequest struct {
	AIConfig    rules.AIConfig `json:"ai_config"`
	MessageText string         `json:"message_text"`
}

// evaluate runs the engine and records the evaluation metrics.
func (s *Server) evaluate(tree rules.LogicNode, msg engine.MessageRecord) (bool, []engine.Diagnostic) {
	matched, diags := engine.EvaluateWithDiagnostics(tree, msg)
	result := "no_match"
	if matched {
		result = "match"
	}
	telemetry.Evaluations.WithLabelValues(result).Inc()
	s.recordDiagnostics(diags)
	return matched, diags
}

func (s *Server) recordDiagnostics(diags []engine.Diagnostic) {
	for _, d := range diags {
		if d.Kind == engine.DiagInvalidRegex {
			telemetry.RegexErrors.Inc()
			s.logger.Debug().Str("rule_id", d.RuleID).Str("node_id", d.NodeID).Str("pattern", d.Pattern).Msg(d.Message)
		}
	}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tree == nil {
		BadRequestError(w, r, ErrCodeMissingField, "tree is required")
		return
	}
	if res := validation.ValidateMessageText(req.Message.MessageText); !res.Valid {
		ValidationError(w, r, "Validation failed", res.Errors)
		return
	}

	matched, diags := s.evaluate(*req.Tree, req.Message)
	if diags == nil {
		diags = []engine.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Matched:     matched,
		Diagnostics: diags,
		Trace:       engine.Explain(*req.Tree, req.Message),
	})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	all, err := s.store.ListRules(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list rules for match")
		InternalError(w, r, "failed to list rules")
		return
	}
	matched, diags := engine.MatchRules(all, req.Source, req.Message)
	s.recordDiagnostics(diags)
	if diags == nil {
		diags = []engine.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, matchResponse{Count: len(matched), Rules: matched, Diagnostics: diags})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if res := validation.ValidatePrompt(req.Prompt); !res.Valid {
		ValidationError(w, r, "Validation failed", res.Errors)
		return
	}

	tree, ok := s.generate(w, r, req.Prompt)
	if !ok {
		return
	}
	groups, conditions := rules.Count(tree)
	writeJSON(w, http.StatusOK, generateResponse{
		Tree:        tree,
		Fingerprint: rules.Fingerprint(tree),
		Groups:      groups,
		Conditions:  conditions,
	})
}

// allowGeneration takes one slot of the per-IP generation budget. It writes
// the 429 response and returns false when the budget is spent.
func (s *Server) allowGeneration(w http.ResponseWriter, r *http.Request) bool {
	key, err := httprate.KeyByIP(r)
	if err != nil {
		InternalError(w, r, "failed to resolve client address")
		return false
	}
	return !s.genLimiter.RespondOnLimit(w, r, key)
}

// generate calls the generator under the configured timeout and writes the
// error response itself on failure.
func (s *Server) generate(w http.ResponseWriter, r *http.Request, prompt string) (rules.LogicNode, bool) {
	if !s.allowGeneration(w, r) {
		return rules.LogicNode{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.generatorTimeout)
	defer cancel()

	res := s.generator.Generate(ctx, prompt)
	if res.OK() {
		return *res.Tree, true
	}
	switch {
	case errors.Is(res.Err, generator.ErrEmptyPrompt):
		BadRequestError(w, r, ErrCodeMissingField, res.Err.Error())
	case res.Err == nil:
		BadGatewayError(w, r, ErrCodeGenerationFailed, "generator returned no tree")
	default:
		BadGatewayError(w, r, ErrCodeGenerationFailed, res.Err.Error())
	}
	return rules.LogicNode{}, false
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if res := validation.ValidateMessageText(req.MessageText); !res.Valid {
		ValidationError(w, r, "Validation failed", res.Errors)
		return
	}
	if req.AIConfig.Model == "" {
		req.AIConfig.Model = rules.DefaultAIModel
	}
	if req.AIConfig.Enabled && !s.allowGeneration(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.generatorTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, s.analyzer.Analyze(ctx, req.AIConfig, req.MessageText))
}
