package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors returned by the mutation operations.
var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrNotGroup        = errors.New("target is not a group")
	ErrUnknownNodeType = errors.New("unknown node type")
)

// Path addresses a node by the child indices leading to it from the root.
// The empty path is the root. Paths are only valid for the tree they were
// computed on; any mutation may shift them.
type Path []int

// Child returns the path of the i-th child of the node at p.
func (p Path) Child(i int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = i
	return out
}

// Parent returns the path of the node's parent. The root's parent is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	out := make(Path, len(p)-1)
	copy(out, p[:len(p)-1])
	return out
}

// IsRoot reports whether p addresses the root.
func (p Path) IsRoot() bool { return len(p) == 0 }

// String renders p as "/0/2"; the root renders as "/".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, i := range p {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

// ParsePath is the inverse of Path.String.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return Path{}, nil
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		i, err := strconv.Atoi(part)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("%w: segment %q in %q", ErrInvalidPath, part, s)
		}
		p = append(p, i)
	}
	return p, nil
}

// NodeAt resolves p against root.
func NodeAt(root LogicNode, p Path) (LogicNode, bool) {
	n := root
	for _, i := range p {
		if n.Type != NodeGroup || i < 0 || i >= len(n.Children) {
			return LogicNode{}, false
		}
		n = n.Children[i]
	}
	return n, true
}

// PathOf finds the current path of the node with the given id.
func PathOf(root LogicNode, id string) (Path, bool) {
	var found Path
	ok := false
	Walk(root, func(p Path, n LogicNode) bool {
		if n.ID == id {
			found, ok = p, true
			return false
		}
		return true
	})
	return found, ok
}

// UpdateAtPath replaces the node at p with patch applied to a copy of it.
// The node keeps its id. root is never modified.
//
// When p does not resolve, the returned tree is an unchanged copy of root
// and the error wraps ErrInvalidPath, so callers that ignore the error get
// a no-op.
func UpdateAtPath(root LogicNode, p Path, patch func(LogicNode) LogicNode) (LogicNode, error) {
	out, err := rebuild(root, p, 0, func(n LogicNode) (LogicNode, error) {
		if patch == nil {
			return n.Clone(), nil
		}
		patched := patch(n.Clone())
		patched.ID = n.ID
		return patched, nil
	})
	if err != nil {
		return root.Clone(), err
	}
	return out, nil
}

// AddChildAtPath appends a new node of the given kind to the group at p. New
// groups are empty AND groups; new conditions test message_text with
// contains and an empty value.
func AddChildAtPath(root LogicNode, p Path, kind NodeType) (LogicNode, error) {
	var child LogicNode
	switch kind {
	case NodeGroup:
		child = NewGroup(OpAnd)
	case NodeCondition:
		child = NewCondition(FieldMessageText, CmpContains, "")
	default:
		return root.Clone(), fmt.Errorf("%w: %q", ErrUnknownNodeType, kind)
	}

	out, err := rebuild(root, p, 0, func(n LogicNode) (LogicNode, error) {
		if n.Type != NodeGroup {
			return LogicNode{}, fmt.Errorf("%w: node %q at %s is a %s", ErrNotGroup, n.ID, p, n.Type)
		}
		c := n.Clone()
		c.Children = append(c.Children, child)
		return c, nil
	})
	if err != nil {
		return root.Clone(), err
	}
	return out, nil
}

// RemoveAtPath removes the node at p from its parent. The root cannot be
// removed: an empty path returns a copy of root and no error.
func RemoveAtPath(root LogicNode, p Path) (LogicNode, error) {
	if len(p) == 0 {
		return root.Clone(), nil
	}
	idx := p[len(p)-1]
	out, err := rebuild(root, p.Parent(), 0, func(parent LogicNode) (LogicNode, error) {
		if parent.Type != NodeGroup || idx < 0 || idx >= len(parent.Children) {
			return LogicNode{}, fmt.Errorf("%w: no node at %s", ErrInvalidPath, p)
		}
		c := parent
		c.Children = make([]LogicNode, 0, len(parent.Children)-1)
		for i, child := range parent.Children {
			if i != idx {
				c.Children = append(c.Children, child.Clone())
			}
		}
		return c, nil
	})
	if err != nil {
		return root.Clone(), err
	}
	return out, nil
}

// rebuild descends along p and replaces the target with fn's result,
// copying every group on the way back up. Siblings are deep-cloned so the
// result shares nothing with the input.
func rebuild(n LogicNode, p Path, depth int, fn func(LogicNode) (LogicNode, error)) (LogicNode, error) {
	if depth == len(p) {
		return fn(n)
	}
	idx := p[depth]
	if n.Type != NodeGroup || idx < 0 || idx >= len(n.Children) {
		return LogicNode{}, fmt.Errorf("%w: %s does not resolve past depth %d", ErrInvalidPath, p, depth)
	}
	replaced, err := rebuild(n.Children[idx], p, depth+1, fn)
	if err != nil {
		return LogicNode{}, err
	}
	out := n
	out.Children = make([]LogicNode, len(n.Children))
	for i, child := range n.Children {
		if i == idx {
			out.Children[i] = replaced
			continue
		}
		out.Children[i] = child.Clone()
	}
	return out, nil
}

// SetOperator returns a patch that changes a group's operator.
func SetOperator(op LogicOperator) func(LogicNode) LogicNode {
	return func(n LogicNode) LogicNode { n.Operator = op; return n }
}

// SetField returns a patch that changes a condition's field.
func SetField(f Field) func(LogicNode) LogicNode {
	return func(n LogicNode) LogicNode { n.Field = f; return n }
}

// SetComparator returns a patch that changes a condition's comparator.
func SetComparator(c Comparator) func(LogicNode) LogicNode {
	return func(n LogicNode) LogicNode { n.Condition = c; return n }
}

// SetValue returns a patch that changes a condition's operand.
func SetValue(v string) func(LogicNode) LogicNode {
	return func(n LogicNode) LogicNode { n.Value = v; return n }
}
