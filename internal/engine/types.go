package engine

import "github.com/TimurManjosov/tgforwarder/internal/rules"

// MessageRecord is the input to evaluation. It is never modified.
type MessageRecord struct {
	ID          string `json:"id,omitempty"`
	MessageText string `json:"message_text"`
	Sender      string `json:"sender"`
	ChatName    string `json:"chat_name,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// FieldValue maps a condition field onto the message. An empty field reads
// the message text; unknown fields read as the empty string.
func FieldValue(msg MessageRecord, field rules.Field) string {
	switch field {
	case rules.FieldMessageText, "":
		return msg.MessageText
	case rules.FieldSender:
		return msg.Sender
	case rules.FieldChatName:
		return msg.ChatName
	default:
		return ""
	}
}

// Outcome is the internal result of one comparator check. It keeps "the
// pattern is broken" apart from "no match" even though both evaluate false.
type Outcome int

const (
	OutcomeNoMatch Outcome = iota
	OutcomeMatch
	OutcomeInvalidPattern
	OutcomeUnknownComparator
)

// Matched reports whether the outcome counts as true.
func (o Outcome) Matched() bool { return o == OutcomeMatch }

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeInvalidPattern:
		return "invalid_pattern"
	case OutcomeUnknownComparator:
		return "unknown_comparator"
	default:
		return "no_match"
	}
}

// DiagnosticKind classifies a non-fatal evaluation problem.
type DiagnosticKind string

const (
	DiagInvalidRegex      DiagnosticKind = "invalid_regex"
	DiagUnknownComparator DiagnosticKind = "unknown_comparator"
)

// Diagnostic records a condition that evaluated false because it could not
// be evaluated at all.
type Diagnostic struct {
	RuleID  string         `json:"rule_id,omitempty"`
	NodeID  string         `json:"node_id"`
	Kind    DiagnosticKind `json:"kind"`
	Pattern string         `json:"pattern,omitempty"`
	Message string         `json:"message"`
}

// Trace is the per-node result of an evaluation, shaped like the tree.
type Trace struct {
	NodeID   string         `json:"node_id"`
	Path     string         `json:"path"`
	Type     rules.NodeType `json:"type"`
	Result   bool           `json:"result"`
	Outcome  string         `json:"outcome,omitempty"`
	Children []Trace        `json:"children,omitempty"`
}
