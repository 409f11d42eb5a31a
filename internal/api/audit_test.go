package api_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/tgforwarder/internal/audit"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/testutil"
)

func TestAudit_RuleChangesAreRecorded(t *testing.T) {
	ts := testutil.NewTestServer(t, nil)

	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/rules", Body: urgentRule, Admin: true}).Do(t, ts.Handler)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created rules.FilterRule
	testutil.DecodeJSON(t, rr, &created)

	rr = (&testutil.HTTPRequest{Method: http.MethodPatch, Path: "/rules/" + created.ID, Body: `{"name":"Renamed"}`, Admin: true}).Do(t, ts.Handler)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = (&testutil.HTTPRequest{Method: http.MethodDelete, Path: "/rules/" + created.ID, Admin: true}).Do(t, ts.Handler)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Eventually(t, func() bool {
		return len(ts.Audit.Recent(created.ID, 10)) == 3
	}, 2*time.Second, 5*time.Millisecond)

	events := ts.Audit.Recent(created.ID, 10)
	assert.Equal(t, audit.ActionDeleted, events[0].Action)
	assert.Equal(t, audit.ActionUpdated, events[1].Action)
	assert.Equal(t, audit.ActionCreated, events[2].Action)

	update := events[1]
	assert.Equal(t, audit.ActorKindAdmin, update.Actor.Kind)
	assert.NotEmpty(t, update.RequestID)
	require.Contains(t, update.Changes, "name")
	assert.NotContains(t, update.Changes, "filters", "untouched fields should not show as changes")
	assert.NotContains(t, update.Changes, "updated_at")

	assert.Nil(t, events[0].AfterState)
	assert.Equal(t, "Renamed", events[0].BeforeState["name"])
}

func TestAudit_ListEndpoint(t *testing.T) {
	ts := testutil.NewTestServer(t, nil)

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/audit"}).Do(t, ts.Handler)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/rules", Body: `{"name":"a"}`, Admin: true}).Do(t, ts.Handler)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Eventually(t, func() bool { return len(ts.Audit.Recent("", 10)) == 1 }, 2*time.Second, 5*time.Millisecond)

	rr = (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/audit?limit=5", Admin: true}).Do(t, ts.Handler)
	require.Equal(t, http.StatusOK, rr.Code)
	var events []audit.Event
	testutil.DecodeJSON(t, rr, &events)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCreated, events[0].Action)

	rr = (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/audit?limit=x", Admin: true}).Do(t, ts.Handler)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAudit_SessionSave(t *testing.T) {
	ts := testutil.NewTestServer(t, nil)
	view := createSession(t, ts.Handler, `{}`)

	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/sessions/" + view.ID + "/save", Admin: true}).Do(t, ts.Handler)
	require.Equal(t, http.StatusCreated, rr.Code)

	require.Eventually(t, func() bool { return len(ts.Audit.Recent("", 10)) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := ts.Audit.Recent("", 1)[0]
	assert.Equal(t, audit.ActionSaved, ev.Action)
	assert.Equal(t, view.ID, ev.SessionID)
}
