package engine

import (
	"fmt"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

// Evaluate reports whether msg matches the tree rooted at node.
//
// An empty group matches everything. AND needs every child, OR (and any
// unrecognised group operator) needs one. Conditions that cannot be
// evaluated (broken regex, unknown comparator) are false and never stop
// evaluation of their siblings.
func Evaluate(node rules.LogicNode, msg MessageRecord) bool {
	e := evaluator{}
	return e.node(node, msg)
}

// EvaluateWithDiagnostics is Evaluate plus the list of conditions that
// could not be evaluated. Every child is visited so the list is complete.
func EvaluateWithDiagnostics(node rules.LogicNode, msg MessageRecord) (bool, []Diagnostic) {
	e := evaluator{collect: true}
	matched := e.node(node, msg)
	return matched, e.diags
}

// Explain evaluates the whole tree and returns the result of every node.
func Explain(node rules.LogicNode, msg MessageRecord) Trace {
	e := evaluator{collect: true}
	return e.trace(node, rules.Path{}, msg)
}

type evaluator struct {
	collect bool
	diags   []Diagnostic
}

func (e *evaluator) node(n rules.LogicNode, msg MessageRecord) bool {
	if n.Type == rules.NodeGroup {
		return e.group(n, msg)
	}
	return e.condition(n, msg).Matched()
}

func (e *evaluator) group(n rules.LogicNode, msg MessageRecord) bool {
	if len(n.Children) == 0 {
		return true
	}

	if n.Operator == rules.OpAnd {
		result := true
		for _, child := range n.Children {
			if !e.node(child, msg) {
				result = false
				if !e.collect {
					return false
				}
			}
		}
		return result
	}

	result := false
	for _, child := range n.Children {
		if e.node(child, msg) {
			result = true
			if !e.collect {
				return true
			}
		}
	}
	return result
}

func (e *evaluator) condition(n rules.LogicNode, msg MessageRecord) Outcome {
	handler, ok := getComparatorHandler(n.Condition)
	if !ok {
		e.record(Diagnostic{
			NodeID:  n.ID,
			Kind:    DiagUnknownComparator,
			Message: fmt.Sprintf("unknown comparator %q", n.Condition),
		})
		return OutcomeUnknownComparator
	}

	outcome, err := handler.Check(FieldValue(msg, n.Field), n.Value)
	if err != nil {
		e.record(Diagnostic{
			NodeID:  n.ID,
			Kind:    DiagInvalidRegex,
			Pattern: n.Value,
			Message: err.Error(),
		})
	}
	return outcome
}

func (e *evaluator) record(d Diagnostic) {
	if e.collect {
		e.diags = append(e.diags, d)
	}
}

func (e *evaluator) trace(n rules.LogicNode, p rules.Path, msg MessageRecord) Trace {
	t := Trace{NodeID: n.ID, Path: p.String(), Type: n.Type}
	if n.Type != rules.NodeGroup {
		outcome := e.condition(n, msg)
		t.Result = outcome.Matched()
		t.Outcome = outcome.String()
		return t
	}

	t.Children = make([]Trace, 0, len(n.Children))
	anyTrue, allTrue := false, true
	for i, child := range n.Children {
		ct := e.trace(child, p.Child(i), msg)
		anyTrue = anyTrue || ct.Result
		allTrue = allTrue && ct.Result
		t.Children = append(t.Children, ct)
	}
	switch {
	case len(n.Children) == 0:
		t.Result = true
	case n.Operator == rules.OpAnd:
		t.Result = allTrue
	default:
		t.Result = anyTrue
	}
	return t
}
