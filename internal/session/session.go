// Package session holds the state of one rule being edited: its draft
// metadata, its current logic tree and its test bench.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/testbench"
)

// Session serializes all edits through one mutex. Readers get clones.
type Session struct {
	id        string
	createdAt time.Time
	now       func() time.Time
	bench     *testbench.Bench

	// saveMu is taken before mu and is held across the store call of Save.
	saveMu sync.Mutex

	mu       sync.Mutex
	draft    rules.FilterRule // Filters is unused, see tree
	tree     rules.LogicNode
	version  int
	lastUsed time.Time
}

// Meta is a partial update of the rule draft. Nil fields are left alone.
type Meta struct {
	Name           *string               `json:"name,omitempty"`
	Source         *string               `json:"source,omitempty"`
	Destination    *string               `json:"destination,omitempty"`
	DeliveryMethod *rules.DeliveryMethod `json:"delivery_method,omitempty"`
	IsActive       *bool                 `json:"is_active,omitempty"`
	AIConfig       *rules.AIConfig       `json:"ai_config,omitempty"`
}

// View is the serialisable state of a session.
type View struct {
	ID          string             `json:"id"`
	RuleID      string             `json:"rule_id,omitempty"`
	Version     int                `json:"version"`
	Fingerprint string             `json:"fingerprint"`
	Groups      int                `json:"groups"`
	Conditions  int                `json:"conditions"`
	Rule        rules.FilterRule   `json:"rule"`
	Bench       testbench.Snapshot `json:"bench"`
	CreatedAt   time.Time          `json:"created_at"`
	LastUsed    time.Time          `json:"last_used"`
}

// New opens a session on rule. A rule with an id edits that rule; an empty
// id starts a new one. The rule is deep-copied and its tree must have a
// group root.
func New(rule rules.FilterRule, source testbench.Source, benchOpts ...testbench.Option) (*Session, error) {
	return newSession(rule, time.Now, source, benchOpts...)
}

// NewBlank opens a session on an empty rule.
func NewBlank(source testbench.Source, benchOpts ...testbench.Option) *Session {
	s, _ := New(rules.FilterRule{}, source, benchOpts...)
	return s
}

// FromTree opens a session for a new rule seeded with tree, typically the
// output of the natural-language generator.
func FromTree(tree rules.LogicNode, source testbench.Source, benchOpts ...testbench.Option) (*Session, error) {
	return New(rules.FilterRule{Filters: tree}, source, benchOpts...)
}

func newSession(rule rules.FilterRule, now func() time.Time, source testbench.Source, benchOpts ...testbench.Option) (*Session, error) {
	draft := rule.Clone()
	draft.Normalize()
	if err := rules.ValidateRoot(draft.Filters); err != nil {
		return nil, err
	}

	created := now()
	s := &Session{
		id:        uuid.NewString(),
		createdAt: created,
		now:       now,
		draft:     draft,
		tree:      draft.Filters,
		lastUsed:  created,
	}
	s.draft.Filters = rules.LogicNode{}
	s.bench = testbench.New(s, source, benchOpts...)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Bench() *testbench.Bench { return s.bench }

// Tree returns a copy of the current tree. It implements testbench.TreeSource.
func (s *Session) Tree() rules.LogicNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

func (s *Session) RuleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.ID
}

func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Touch marks the session as used without changing it.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = s.now()
	s.mu.Unlock()
}

// apply runs one algebra step. On error the tree is left as it was.
func (s *Session) apply(op func(rules.LogicNode) (rules.LogicNode, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := op(s.tree)
	if err != nil {
		return err
	}
	s.tree = next
	s.version++
	s.lastUsed = s.now()
	return nil
}

func (s *Session) Update(p rules.Path, patch func(rules.LogicNode) rules.LogicNode) error {
	return s.apply(func(root rules.LogicNode) (rules.LogicNode, error) {
		return rules.UpdateAtPath(root, p, patch)
	})
}

// AddChild appends a default node of kind under the group at p and returns
// the new node's path, valid until the next edit.
func (s *Session) AddChild(p rules.Path, kind rules.NodeType) (rules.Path, error) {
	var added rules.Path
	err := s.apply(func(root rules.LogicNode) (rules.LogicNode, error) {
		next, err := rules.AddChildAtPath(root, p, kind)
		if err != nil {
			return next, err
		}
		parent, _ := rules.NodeAt(next, p)
		added = p.Child(len(parent.Children) - 1)
		return next, nil
	})
	return added, err
}

func (s *Session) Remove(p rules.Path) error {
	return s.apply(func(root rules.LogicNode) (rules.LogicNode, error) {
		return rules.RemoveAtPath(root, p)
	})
}

// ReplaceTree swaps the whole tree, for example with generator output.
func (s *Session) ReplaceTree(tree rules.LogicNode) error {
	if err := rules.ValidateRoot(tree); err != nil {
		return err
	}
	return s.apply(func(rules.LogicNode) (rules.LogicNode, error) {
		return tree.Clone(), nil
	})
}

func (s *Session) SetMeta(m Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Name != nil {
		s.draft.Name = *m.Name
	}
	if m.Source != nil {
		s.draft.Source = *m.Source
	}
	if m.Destination != nil {
		s.draft.Destination = *m.Destination
	}
	if m.DeliveryMethod != nil {
		s.draft.DeliveryMethod = *m.DeliveryMethod
	}
	if m.IsActive != nil {
		s.draft.IsActive = *m.IsActive
	}
	if m.AIConfig != nil {
		s.draft.AIConfig = *m.AIConfig
	}
	s.version++
	s.lastUsed = s.now()
}

// Draft returns the rule as it would be persisted now.
func (s *Session) Draft() rules.FilterRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.draft.Clone()
	r.Filters = s.tree.Clone()
	return r
}

// PersistFunc writes a draft to the rule store and returns the stored copy.
type PersistFunc func(ctx context.Context, draft rules.FilterRule) (rules.FilterRule, error)

// Save persists the current draft through persist and records the result.
// Saves of one session run one at a time: the first save of a new rule
// creates it and every later save sees its id. Edits are not blocked while
// the store call runs.
func (s *Session) Save(ctx context.Context, persist PersistFunc) (rules.FilterRule, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	saved, err := persist(ctx, s.Draft())
	if err != nil {
		return rules.FilterRule{}, err
	}
	s.MarkSaved(saved)
	return saved, nil
}

// MarkSaved records the persisted copy so later saves update it.
func (s *Session) MarkSaved(saved rules.FilterRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = saved
	s.draft.Filters = rules.LogicNode{}
	s.lastUsed = s.now()
}

func (s *Session) View() View {
	bench := s.bench.Snapshot()
	draft := s.Draft()

	s.mu.Lock()
	defer s.mu.Unlock()
	groups, conditions := rules.Count(draft.Filters)
	return View{
		ID:          s.id,
		RuleID:      draft.ID,
		Version:     s.version,
		Fingerprint: rules.Fingerprint(draft.Filters),
		Groups:      groups,
		Conditions:  conditions,
		Rule:        draft,
		Bench:       bench,
		CreatedAt:   s.createdAt,
		LastUsed:    s.lastUsed,
	}
}

// Close stops the bench. The session must not be used afterwards.
func (s *Session) Close() {
	s.bench.Close()
}
