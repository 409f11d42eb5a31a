package rules

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NodeType tags the two LogicNode variants.
type NodeType string

const (
	NodeGroup     NodeType = "group"
	NodeCondition NodeType = "condition"
)

// LogicOperator combines the children of a group.
type LogicOperator string

const (
	OpAnd LogicOperator = "AND"
	OpOr  LogicOperator = "OR"
)

// Field names the message attribute a condition reads.
type Field string

const (
	FieldMessageText Field = "message_text"
	FieldSender      Field = "sender"
	FieldChatName    Field = "chat_name"
)

// Comparator is the comparison a condition applies to its field.
type Comparator string

// Supported comparators (string values for clean JSON serialization).
const (
	CmpContains    Comparator = "contains"
	CmpNotContains Comparator = "not_contains"
	CmpEquals      Comparator = "equals"
	CmpStartsWith  Comparator = "starts_with"
	CmpEndsWith    Comparator = "ends_with"
	CmpRegex       Comparator = "regex"
)

// Fields lists every recognised field in display order.
var Fields = []Field{FieldMessageText, FieldSender, FieldChatName}

// Comparators lists every recognised comparator in display order.
var Comparators = []Comparator{CmpContains, CmpEquals, CmpStartsWith, CmpEndsWith, CmpRegex, CmpNotContains}

// LogicNode is one node of a filter tree: either a group combining its
// children with AND/OR, or a condition comparing one message field with a
// literal. Group-only and condition-only attributes live side by side so the
// struct maps one to one onto the wire format.
//
// Values outside the enumerated sets are kept verbatim; evaluation treats
// them as non-matching.
type LogicNode struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`

	// Group
	Operator LogicOperator `json:"operator,omitempty"`
	Children []LogicNode   `json:"children,omitempty"`

	// Condition
	Field     Field      `json:"field,omitempty"`
	Condition Comparator `json:"condition,omitempty"`
	Value     string     `json:"value,omitempty"`
}

// newID produces node identifiers. Swapped in tests that need stable ids.
var newID = uuid.NewString

// NewID returns a fresh node identifier.
func NewID() string { return newID() }

// NewGroup builds a group node with a fresh id.
func NewGroup(op LogicOperator, children ...LogicNode) LogicNode {
	if children == nil {
		children = []LogicNode{}
	}
	return LogicNode{ID: NewID(), Type: NodeGroup, Operator: op, Children: children}
}

// NewCondition builds a condition node with a fresh id. An empty value is
// allowed; regex operands are not checked here.
func NewCondition(field Field, cmp Comparator, value string) LogicNode {
	return LogicNode{ID: NewID(), Type: NodeCondition, Field: field, Condition: cmp, Value: value}
}

// DefaultRoot is the tree of a blank rule: an empty AND group.
func DefaultRoot() LogicNode {
	return NewGroup(OpAnd)
}

// IsGroup reports whether n is a group node.
func (n LogicNode) IsGroup() bool { return n.Type == NodeGroup }

// IsCondition reports whether n is a condition node.
func (n LogicNode) IsCondition() bool { return n.Type == NodeCondition }

// Clone returns a deep copy of n that shares no slices with it.
func (n LogicNode) Clone() LogicNode {
	c := n
	if n.Children != nil {
		c.Children = make([]LogicNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

type nodeAlias LogicNode

type groupWire struct {
	ID       string        `json:"id"`
	Type     NodeType      `json:"type"`
	Operator LogicOperator `json:"operator"`
	Children []LogicNode   `json:"children"`
}

type conditionWire struct {
	ID        string     `json:"id"`
	Type      NodeType   `json:"type"`
	Field     Field      `json:"field"`
	Condition Comparator `json:"condition"`
	Value     string     `json:"value"`
}

// MarshalJSON writes groups with an explicit children array and conditions
// with an explicit (possibly empty) value.
func (n LogicNode) MarshalJSON() ([]byte, error) {
	switch n.Type {
	case NodeGroup:
		children := n.Children
		if children == nil {
			children = []LogicNode{}
		}
		return json.Marshal(groupWire{ID: n.ID, Type: n.Type, Operator: n.Operator, Children: children})
	case NodeCondition:
		if len(n.Children) == 0 {
			return json.Marshal(conditionWire{ID: n.ID, Type: n.Type, Field: n.Field, Condition: n.Condition, Value: n.Value})
		}
	}
	return json.Marshal(nodeAlias(n))
}

// UnmarshalJSON decodes a node and gives groups without a children array an
// empty, non-nil one, the same shape NewGroup builds.
func (n *LogicNode) UnmarshalJSON(data []byte) error {
	var a nodeAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = LogicNode(a)
	if n.Type == NodeGroup && n.Children == nil {
		n.Children = []LogicNode{}
	}
	return nil
}

// DeliveryMethod selects how a matched message reaches the destination.
type DeliveryMethod string

const (
	DeliveryForward DeliveryMethod = "forward"
	DeliveryCopy    DeliveryMethod = "copy"
)

// DefaultAIModel is the model used for AI refinement when none is configured.
const DefaultAIModel = "gemini-3-flash-preview"

// AIConfig configures the optional AI refinement step of a rule.
type AIConfig struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	SystemInstruction string `json:"system_instruction" yaml:"system_instruction"`
	Model             string `json:"model" yaml:"model"`
}

// DefaultAIConfig returns a disabled refinement config.
func DefaultAIConfig() AIConfig {
	return AIConfig{Model: DefaultAIModel}
}

// FilterRule is a persisted rule: routing metadata, the logic tree and the
// AI refinement settings.
type FilterRule struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Source         string         `json:"source" yaml:"source"`
	Destination    string         `json:"destination" yaml:"destination"`
	DeliveryMethod DeliveryMethod `json:"delivery_method" yaml:"delivery_method"`
	IsActive       bool           `json:"is_active" yaml:"is_active"`
	Filters        LogicNode      `json:"filters" yaml:"filters"`
	AIConfig       AIConfig       `json:"ai_config" yaml:"ai_config"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Clone deep-copies the rule, including its tree.
func (r FilterRule) Clone() FilterRule {
	c := r
	c.Filters = r.Filters.Clone()
	return c
}

// Normalize fills the defaults a stored rule may be missing: an empty AND
// root, the forward delivery method, the default model and a name.
func (r *FilterRule) Normalize() {
	if r.Filters.Type == "" && r.Filters.ID == "" && len(r.Filters.Children) == 0 {
		r.Filters = LogicNode{ID: "root", Type: NodeGroup, Operator: OpAnd, Children: []LogicNode{}}
	}
	if r.DeliveryMethod == "" {
		r.DeliveryMethod = DeliveryForward
	}
	if r.AIConfig.Model == "" {
		r.AIConfig.Model = DefaultAIModel
	}
	if r.Name == "" {
		r.Name = "Untitled"
	}
}
