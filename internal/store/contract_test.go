package store

import (
	"context"
	"errors"
	"testing"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

func sampleDraft(name string) rules.FilterRule {
	return rules.FilterRule{
		Name:        name,
		Source:      "-1001",
		Destination: "-1002",
		IsActive:    true,
		Filters: rules.LogicNode{ID: "root", Type: rules.NodeGroup, Operator: rules.OpAnd, Children: []rules.LogicNode{
			{ID: "c1", Type: rules.NodeCondition, Field: rules.FieldMessageText, Condition: rules.CmpContains, Value: "urgent"},
		}},
	}
}

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	empty, err := s.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules on empty store: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty store, got %d rules", len(empty))
	}

	draft := sampleDraft("Outages")
	draft.ID = "ignored"
	created, err := s.CreateRule(ctx, draft)
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if created.ID == "" || created.ID == "ignored" {
		t.Fatalf("store must assign the id, got %q", created.ID)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("timestamps not set: %v / %v", created.CreatedAt, created.UpdatedAt)
	}
	if created.DeliveryMethod != rules.DeliveryForward || created.AIConfig.Model != rules.DefaultAIModel {
		t.Fatalf("defaults not applied: %+v", created)
	}

	second, err := s.CreateRule(ctx, rules.FilterRule{Source: "-2001", Destination: "-2002"})
	if err != nil {
		t.Fatalf("CreateRule without tree: %v", err)
	}
	if second.Name != "Untitled" || second.Filters.ID != "root" || second.Filters.Type != rules.NodeGroup {
		t.Fatalf("missing tree not defaulted: %+v", second)
	}

	got, err := s.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Name != "Outages" || got.Filters.Children[0].Value != "urgent" {
		t.Fatalf("unexpected rule: %+v", got)
	}

	got.Filters.Children[0].Value = "critical"
	got.IsActive = false
	updated, err := s.UpdateRule(ctx, *got)
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("CreatedAt changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Fatal("UpdatedAt went backwards")
	}

	reloaded, err := s.GetRule(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRule after update: %v", err)
	}
	if reloaded.IsActive || reloaded.Filters.Children[0].Value != "critical" {
		t.Fatalf("update not persisted: %+v", reloaded)
	}

	all, err := s.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(all) != 2 || all[0].ID != created.ID || all[1].ID != second.ID {
		t.Fatalf("ListRules order wrong: %+v", all)
	}

	if err := s.DeleteRule(ctx, created.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, err := s.GetRule(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRule after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteRule(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteRule: err = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateRule(ctx, sampleDraft("nobody")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateRule unknown id: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRule(ctx, "999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRule unknown id: err = %v, want ErrNotFound", err)
	}
}
