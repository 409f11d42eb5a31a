package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/tgforwarder/internal/client"
	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/testutil"
)

func newClient(t *testing.T, apiKey string) *client.Client {
	t.Helper()
	ts := testutil.NewTestServer(t, nil)
	srv := httptest.NewServer(ts.Handler)
	t.Cleanup(srv.Close)
	return client.NewClient(srv.URL, apiKey)
}

func TestClient_RuleLifecycle(t *testing.T) {
	c := newClient(t, testutil.AdminKey)
	ctx := context.Background()

	created, err := c.CreateRule(ctx, rules.FilterRule{
		Name:     "Outages",
		Source:   "@ops",
		IsActive: true,
		Filters:  rules.NewGroup(rules.OpAnd, rules.NewCondition(rules.FieldMessageText, rules.CmpContains, "outage")),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := c.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Outages", got.Name)

	matched, err := c.TestRule(ctx, created.ID, "Big OUTAGE in eu-west")
	require.NoError(t, err)
	assert.True(t, matched)

	updated, err := c.UpdateRule(ctx, created.ID, map[string]any{"is_active": false})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "@ops", updated.Source)

	all, err := c.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, c.DeleteRule(ctx, created.ID))
	_, err = c.GetRule(ctx, created.ID)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestClient_APIError(t *testing.T) {
	c := newClient(t, "wrong-key")

	_, err := c.CreateRule(context.Background(), rules.FilterRule{Name: "x"})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
	assert.NotErrorIs(t, err, client.ErrNotFound)
}

func TestClient_Evaluate(t *testing.T) {
	c := newClient(t, "")
	tree := rules.NewGroup(rules.OpOr,
		rules.NewCondition(rules.FieldSender, rules.CmpEquals, "alerts"),
		rules.NewCondition(rules.FieldMessageText, rules.CmpRegex, "(broken"),
	)

	res, err := c.Evaluate(context.Background(), tree, engine.MessageRecord{MessageText: "hi", Sender: "Alerts"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Len(t, res.Diagnostics, 1)
	assert.Len(t, res.Trace.Children, 2)
}

func TestClient_GenerateWithoutBackend(t *testing.T) {
	c := newClient(t, "")

	_, err := c.Generate(context.Background(), "apple news")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 502, apiErr.Status)
	assert.Equal(t, "GENERATION_FAILED", apiErr.Code)
}
