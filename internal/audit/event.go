package audit

import (
	"encoding/json"
	"time"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

// Action constants for audit logging
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionSaved   = "saved" // editor session persisted its draft
)

// Status constants for audit logging
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ActorKind constants for audit logging
const (
	ActorKindAdmin     = "admin"
	ActorKindAnonymous = "anonymous"
)

// Actor represents who performed the action
type Actor struct {
	Kind    string `json:"kind"`
	Display string `json:"display"`
}

// Source represents request metadata
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// Event is one recorded change to a stored rule.
type Event struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	RequestID    string         `json:"request_id,omitempty"`
	Actor        Actor          `json:"actor"`
	Source       Source         `json:"source"`
	Action       string         `json:"action"`
	RuleID       string         `json:"rule_id"`
	SessionID    string         `json:"session_id,omitempty"`
	BeforeState  map[string]any `json:"before_state,omitempty"`
	AfterState   map[string]any `json:"after_state,omitempty"`
	Changes      map[string]any `json:"changes,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// RuleState flattens a rule into its wire fields. Timestamps are dropped so
// a diff only shows edits.
func RuleState(r *rules.FilterRule) map[string]any {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var state map[string]any
	if err := json.Unmarshal(b, &state); err != nil {
		return nil
	}
	delete(state, "created_at")
	delete(state, "updated_at")
	return state
}

// ComputeChanges computes the difference between before and after states
func ComputeChanges(before, after map[string]any) map[string]any {
	if before == nil && after == nil {
		return nil
	}

	changes := make(map[string]any)
	for key, afterVal := range after {
		beforeVal, existedBefore := before[key]

		beforeJSON, _ := json.Marshal(beforeVal)
		afterJSON, _ := json.Marshal(afterVal)
		if !existedBefore || string(beforeJSON) != string(afterJSON) {
			changes[key] = map[string]any{
				"before": beforeVal,
				"after":  afterVal,
			}
		}
	}
	for key, beforeVal := range before {
		if _, existsAfter := after[key]; !existsAfter {
			changes[key] = map[string]any{
				"before": beforeVal,
				"after":  nil,
			}
		}
	}

	if len(changes) == 0 {
		return nil
	}
	return changes
}
