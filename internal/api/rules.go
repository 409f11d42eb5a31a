package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/tgforwarder/internal/audit"
	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/generator"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/store"
	"github.com/TimurManjosov/tgforwarder/internal/validation"
)

// ruleRequest is the body of POST /rules and PATCH /rules/{id}.
// Absent fields are left unchanged on PATCH.
type ruleRequest struct {
	Name           *string               `json:"name,omitempty"`
	Source         *string               `json:"source,omitempty"`
	Destination    *string               `json:"destination,omitempty"`
	DeliveryMethod *rules.DeliveryMethod `json:"delivery_method,omitempty"`
	IsActive       *bool                 `json:"is_active,omitempty"`
	Filters        *rules.LogicNode      `json:"filters,omitempty"`
	AIConfig       *rules.AIConfig       `json:"ai_config,omitempty"`
}

func (req ruleRequest) applyTo(r *rules.FilterRule) {
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Source != nil {
		r.Source = *req.Source
	}
	if req.Destination != nil {
		r.Destination = *req.Destination
	}
	if req.DeliveryMethod != nil {
		r.DeliveryMethod = *req.DeliveryMethod
	}
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	if req.Filters != nil {
		r.Filters = req.Filters.Clone()
	}
	if req.AIConfig != nil {
		r.AIConfig = *req.AIConfig
	}
}

type ruleTestRequest struct {
	RuleID      ruleRef `json:"rule_id"`
	MessageText string  `json:"message_text"`
}

type ruleTestResponse struct {
	Matches     bool   `json:"matches"`
	RuleID      string `json:"rule_id"`
	MessageText string `json:"message_text"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := parsePagination(r)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}
	all, err := s.store.ListRules(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list rules")
		InternalError(w, r, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, paginate(all, offset, limit))
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.loadRule(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	draft := rules.FilterRule{IsActive: true, AIConfig: rules.DefaultAIConfig()}
	req.applyTo(&draft)
	draft.Normalize()
	generator.BackfillIDs(&draft.Filters)
	if res := validation.ValidateRule(draft); !res.Valid {
		ValidationError(w, r, "Validation failed", res.Errors)
		return
	}

	created, err := s.store.CreateRule(r.Context(), draft)
	if err != nil {
		s.logger.Error().Err(err).Msg("create rule")
		InternalError(w, r, "failed to create rule")
		return
	}
	s.logger.Info().Str("rule_id", created.ID).Str("name", created.Name).Msg("rule created")
	s.record(audit.NewEventBuilder(r).ForRule(created.ID).WithAction(audit.ActionCreated).WithAfter(&created))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	existing, ok := s.loadRule(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	next := existing.Clone()
	req.applyTo(&next)
	next.Normalize()
	generator.BackfillIDs(&next.Filters)
	if res := validation.ValidateRule(next); !res.Valid {
		ValidationError(w, r, "Validation failed", res.Errors)
		return
	}

	updated, err := s.store.UpdateRule(r.Context(), next)
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError(w, r, "Rule not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", next.ID).Msg("update rule")
		InternalError(w, r, "failed to update rule")
		return
	}
	s.logger.Info().Str("rule_id", updated.ID).Msg("rule updated")
	s.record(audit.NewEventBuilder(r).ForRule(updated.ID).WithAction(audit.ActionUpdated).WithBefore(&existing).WithAfter(&updated))
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// the prior state is only needed for the audit trail
	var before *rules.FilterRule
	if s.audit != nil {
		before, _ = s.store.GetRule(r.Context(), id)
	}
	err := s.store.DeleteRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError(w, r, "Rule not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("delete rule")
		InternalError(w, r, "failed to delete rule")
		return
	}
	s.logger.Info().Str("rule_id", id).Msg("rule deleted")
	s.record(audit.NewEventBuilder(r).ForRule(id).WithAction(audit.ActionDeleted).WithBefore(before))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleTestRule evaluates a stored rule against a bare message text.
func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	var req ruleTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RuleID == "" {
		BadRequestError(w, r, ErrCodeMissingField, "rule_id is required")
		return
	}
	if res := validation.ValidateMessageText(req.MessageText); !res.Valid {
		ValidationError(w, r, "Validation failed", res.Errors)
		return
	}
	rule, ok := s.loadRule(w, r, string(req.RuleID))
	if !ok {
		return
	}

	matched, _ := s.evaluate(rule.Filters, engine.MessageRecord{MessageText: req.MessageText})
	writeJSON(w, http.StatusOK, ruleTestResponse{
		Matches:     matched,
		RuleID:      rule.ID,
		MessageText: req.MessageText,
	})
}

// loadRule fetches a rule or writes the error response.
func (s *Server) loadRule(w http.ResponseWriter, r *http.Request, id string) (rules.FilterRule, bool) {
	rule, err := s.store.GetRule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError(w, r, "Rule not found")
		return rules.FilterRule{}, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", id).Msg("get rule")
		InternalError(w, r, "failed to load rule")
		return rules.FilterRule{}, false
	}
	return *rule, true
}
