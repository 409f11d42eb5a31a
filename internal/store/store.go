package store

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("rule not found")

// Store defines the interface for rule persistence.
// Implementations must be safe for concurrent use. Failures are returned
// as-is; there is no retry policy at this layer.
type Store interface {
	// ListRules returns every rule ordered by id.
	ListRules(ctx context.Context) ([]rules.FilterRule, error)

	// GetRule returns ErrNotFound for unknown ids.
	GetRule(ctx context.Context, id string) (*rules.FilterRule, error)

	// CreateRule assigns the id and both timestamps; any id on draft is ignored.
	CreateRule(ctx context.Context, draft rules.FilterRule) (rules.FilterRule, error)

	// UpdateRule replaces the stored rule with the same id and refreshes
	// UpdatedAt. CreatedAt is kept.
	UpdateRule(ctx context.Context, rule rules.FilterRule) (rules.FilterRule, error)

	// DeleteRule returns ErrNotFound for unknown ids.
	DeleteRule(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	// After Close is called, the store should not be used.
	Close() error
}

// sortByID orders numerically when both ids are numbers.
func sortByID(rs []rules.FilterRule) {
	sort.Slice(rs, func(i, j int) bool {
		a, errA := strconv.ParseInt(rs[i].ID, 10, 64)
		b, errB := strconv.ParseInt(rs[j].ID, 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return rs[i].ID < rs[j].ID
	})
}
