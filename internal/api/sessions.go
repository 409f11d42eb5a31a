package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/tgforwarder/internal/audit"
	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/session"
	"github.com/TimurManjosov/tgforwarder/internal/store"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
	"github.com/TimurManjosov/tgforwarder/internal/testbench"
	"github.com/TimurManjosov/tgforwarder/internal/validation"
)

const sseHeartbeat = 15 * time.Second

// pathParam accepts a node path either as "/0/2" or as [0, 2].
type pathParam rules.Path

func (p *pathParam) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := rules.ParsePath(s)
		if err != nil {
			return err
		}
		*p = pathParam(parsed)
		return nil
	}
	var idx []int
	if err := json.Unmarshal(b, &idx); err != nil {
		return fmt.Errorf("path must be a string like \"/0/2\" or an array of indices")
	}
	*p = pathParam(idx)
	return nil
}

type createSessionRequest struct {
	RuleID ruleRef `json:"rule_id,omitempty"`
	Prompt string  `json:"prompt,omitempty"`
}

type sessionSummary struct {
	ID       string    `json:"id"`
	RuleID   string    `json:"rule_id,omitempty"`
	Version  int       `json:"version"`
	LastUsed time.Time `json:"last_used"`
}

type updateNodeRequest struct {
	Path      pathParam            `json:"path"`
	Operator  *rules.LogicOperator `json:"operator,omitempty"`
	Field     *rules.Field         `json:"field,omitempty"`
	Condition *rules.Comparator    `json:"condition,omitempty"`
	Value     *string              `json:"value,omitempty"`
}

func (req updateNodeRequest) patch() (func(rules.LogicNode) rules.LogicNode, bool) {
	var patches []func(rules.LogicNode) rules.LogicNode
	if req.Operator != nil {
		patches = append(patches, rules.SetOperator(*req.Operator))
	}
	if req.Field != nil {
		patches = append(patches, rules.SetField(*req.Field))
	}
	if req.Condition != nil {
		patches = append(patches, rules.SetComparator(*req.Condition))
	}
	if req.Value != nil {
		patches = append(patches, rules.SetValue(*req.Value))
	}
	if len(patches) == 0 {
		return nil, false
	}
	return func(n rules.LogicNode) rules.LogicNode {
		for _, p := range patches {
			n = p(n)
		}
		return n
	}, true
}

type addNodeRequest struct {
	Path pathParam      `json:"path"`
	Type rules.NodeType `json:"type"`
}

type addNodeResponse struct {
	Path    string       `json:"path"`
	Session session.View `json:"session"`
}

type removeNodeRequest struct {
	Path pathParam `json:"path"`
}

type benchStateResponse struct {
	State   testbench.State `json:"state"`
	Changed bool            `json:"changed"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RuleID != "" && req.Prompt != "" {
		BadRequestError(w, r, ErrCodeBadRequest, "rule_id and prompt are mutually exclusive")
		return
	}

	var seed rules.FilterRule
	switch {
	case req.RuleID != "":
		rule, ok := s.loadRule(w, r, string(req.RuleID))
		if !ok {
			return
		}
		seed = rule
	case req.Prompt != "":
		if res := validation.ValidatePrompt(req.Prompt); !res.Valid {
			ValidationError(w, r, "Validation failed", res.Errors)
			return
		}
		tree, ok := s.generate(w, r, req.Prompt)
		if !ok {
			return
		}
		seed = rules.FilterRule{Filters: tree}
	}

	sess, err := s.sessions.Create(seed)
	if err != nil {
		if req.Prompt != "" {
			BadGatewayError(w, r, ErrCodeGenerationFailed, err.Error())
			return
		}
		ConflictError(w, r, ErrCodeInvalidTree, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	all := s.sessions.List()
	out := make([]sessionSummary, 0, len(all))
	for _, sess := range all {
		out = append(out, sessionSummary{
			ID:       sess.ID(),
			RuleID:   sess.RuleID(),
			Version:  sess.Version(),
			LastUsed: sess.LastUsed(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(chi.URLParam(r, "sid")) {
		NotFoundError(w, r, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReplaceTree(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var tree rules.LogicNode
	if !decodeJSON(w, r, &tree) {
		return
	}
	if err := sess.ReplaceTree(tree); err != nil {
		BadRequestError(w, r, ErrCodeInvalidTree, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleSetMeta(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var meta session.Meta
	if !decodeJSON(w, r, &meta) {
		return
	}
	sess.SetMeta(meta)
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var req updateNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch, ok := req.patch()
	if !ok {
		BadRequestError(w, r, ErrCodeMissingField, "one of operator, field, condition or value is required")
		return
	}
	if err := sess.Update(rules.Path(req.Path), patch); err != nil {
		writeEditError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var req addNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	added, err := sess.AddChild(rules.Path(req.Path), req.Type)
	if err != nil {
		writeEditError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addNodeResponse{Path: added.String(), Session: sess.View()})
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var req removeNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := sess.Remove(rules.Path(req.Path)); err != nil {
		writeEditError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

var errInvalidDraft = errors.New("draft failed validation")

// handleSaveSession persists the draft: a session opened on a stored rule
// updates it, any other session creates a new rule.
func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var (
		invalid *validation.ValidationResult
		before  *rules.FilterRule
		status  = http.StatusOK
	)
	saved, err := sess.Save(r.Context(), func(ctx context.Context, draft rules.FilterRule) (rules.FilterRule, error) {
		draft.Normalize()
		if res := validation.ValidateRule(draft); !res.Valid {
			invalid = res
			return rules.FilterRule{}, errInvalidDraft
		}
		if draft.ID == "" {
			status = http.StatusCreated
			return s.store.CreateRule(ctx, draft)
		}
		if s.audit != nil {
			before, _ = s.store.GetRule(ctx, draft.ID)
		}
		return s.store.UpdateRule(ctx, draft)
	})
	switch {
	case errors.Is(err, errInvalidDraft):
		ValidationError(w, r, "Validation failed", invalid.Errors)
		return
	case errors.Is(err, store.ErrNotFound):
		NotFoundError(w, r, "Rule not found")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("session", sess.ID()).Msg("save session")
		InternalError(w, r, "failed to save rule")
		return
	}

	s.logger.Info().Str("session", sess.ID()).Str("rule_id", saved.ID).Msg("session saved")
	s.record(audit.NewEventBuilder(r).ForRule(saved.ID).FromSession(sess.ID()).
		WithAction(audit.ActionSaved).WithBefore(before).WithAfter(&saved))
	writeJSON(w, status, saved)
}

func (s *Server) handleBenchSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Bench().Snapshot())
}

func (s *Server) handleBenchManual(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var msg engine.MessageRecord
	if !decodeJSON(w, r, &msg) {
		return
	}
	if res := validation.ValidateMessageText(msg.MessageText); !res.Valid {
		ValidationError(w, r, "Validation failed", res.Errors)
		return
	}
	res, err := sess.Bench().Submit(msg)
	switch {
	case errors.Is(err, testbench.ErrEmptyMessage):
		BadRequestError(w, r, ErrCodeMissingField, "message_text is required")
		return
	case errors.Is(err, testbench.ErrClosed):
		NotFoundError(w, r, "Session not found")
		return
	case err != nil:
		InternalError(w, r, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBenchStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	changed := sess.Bench().Start()
	writeJSON(w, http.StatusOK, benchStateResponse{State: sess.Bench().State(), Changed: changed})
}

func (s *Server) handleBenchStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	changed := sess.Bench().Stop()
	writeJSON(w, http.StatusOK, benchStateResponse{State: sess.Bench().State(), Changed: changed})
}

func (s *Server) handleBenchClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	sess.Bench().Clear()
	writeJSON(w, http.StatusOK, sess.Bench().Snapshot())
}

// handleBenchEvents streams bench results as server-sent events. The first
// event is the current snapshot; every later one is a single result.
func (s *Server) handleBenchEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, r, "streaming unsupported")
		return
	}

	events, unsub := sess.Bench().Subscribe()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	telemetry.SSEClients.Inc()
	defer telemetry.SSEClients.Dec()

	if err := writeEvent(w, "snapshot", sess.Bench().Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, open := <-events:
			if !open {
				_ = writeEvent(w, "closed", map[string]string{"session": sess.ID()})
				flusher.Flush()
				return
			}
			if err := writeEvent(w, "result", res); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// loadSession resolves {sid} or writes a 404.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "sid"))
	if !ok {
		NotFoundError(w, r, "Session not found")
		return nil, false
	}
	return sess, true
}

// writeEditError maps tree algebra failures. A failed edit leaves the tree
// as it was.
func writeEditError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rules.ErrInvalidPath):
		ConflictError(w, r, ErrCodeInvalidPath, err.Error())
	case errors.Is(err, rules.ErrNotGroup):
		ConflictError(w, r, ErrCodeInvalidPath, err.Error())
	case errors.Is(err, rules.ErrUnknownNodeType):
		BadRequestError(w, r, ErrCodeValidation, err.Error())
	case errors.Is(err, rules.ErrRootNotGroup):
		BadRequestError(w, r, ErrCodeInvalidTree, err.Error())
	default:
		InternalError(w, r, err.Error())
	}
}
