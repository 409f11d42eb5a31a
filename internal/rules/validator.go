package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Sentinel errors returned by the tree validators.
var (
	ErrRootNotGroup         = errors.New("root must be a group")
	ErrMissingID            = errors.New("node id missing")
	ErrDuplicateID          = errors.New("duplicate node id")
	ErrConditionHasChildren = errors.New("condition has children")
)

// ValidateRoot checks the one structural guarantee the editor relies on:
// the root of a rule is a group.
func ValidateRoot(root LogicNode) error {
	if root.Type != NodeGroup {
		return fmt.Errorf("%w: got type %q", ErrRootNotGroup, root.Type)
	}
	return nil
}

// ValidateTree performs structural validation of a whole tree. It does not
// look at fields, comparators or regex operands; unknown values are legal
// and simply never match.
// It is a pure function: it never mutates root.
func ValidateTree(root LogicNode) error {
	if err := ValidateRoot(root); err != nil {
		return err
	}

	seen := make(map[string]Path)
	var firstErr error
	Walk(root, func(p Path, n LogicNode) bool {
		if n.ID == "" {
			firstErr = fmt.Errorf("%w: node at %s", ErrMissingID, p)
			return false
		}
		if prev, dup := seen[n.ID]; dup {
			firstErr = fmt.Errorf("%w: %q at %s and %s", ErrDuplicateID, n.ID, prev, p)
			return false
		}
		seen[n.ID] = p
		if n.Type != NodeGroup && len(n.Children) > 0 {
			firstErr = fmt.Errorf("%w: node %q at %s", ErrConditionHasChildren, n.ID, p)
			return false
		}
		return true
	})
	return firstErr
}

// Walk visits root and its descendants depth-first, parents before
// children. Returning false from fn stops the walk.
func Walk(root LogicNode, fn func(Path, LogicNode) bool) {
	walk(root, Path{}, fn)
}

func walk(n LogicNode, p Path, fn func(Path, LogicNode) bool) bool {
	if !fn(p, n) {
		return false
	}
	for i, child := range n.Children {
		if !walk(child, p.Child(i), fn) {
			return false
		}
	}
	return true
}

// Count returns the number of groups and conditions in the tree.
func Count(root LogicNode) (groups, conditions int) {
	Walk(root, func(_ Path, n LogicNode) bool {
		if n.Type == NodeGroup {
			groups++
		} else {
			conditions++
		}
		return true
	})
	return groups, conditions
}

// Fingerprint hashes the canonical JSON form of a tree. Equal trees have
// equal fingerprints, so it doubles as a version tag for editor state.
func Fingerprint(root LogicNode) string {
	blob, err := json.Marshal(root)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(blob))
}
