// Package testutil wires an API server on in-memory collaborators for tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/tgforwarder/internal/api"
	"github.com/TimurManjosov/tgforwarder/internal/audit"
	"github.com/TimurManjosov/tgforwarder/internal/generator"
	"github.com/TimurManjosov/tgforwarder/internal/mockdata"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
	"github.com/TimurManjosov/tgforwarder/internal/session"
	"github.com/TimurManjosov/tgforwarder/internal/store"
	"github.com/TimurManjosov/tgforwarder/internal/testbench"
)

// AdminKey is the bearer token accepted by servers built here.
const AdminKey = "test-admin-key"

// TestServer bundles the handler with the collaborators behind it.
type TestServer struct {
	Server   *api.Server
	Handler  http.Handler
	Store    *store.MemoryStore
	Sessions *session.Registry
	Audit    *audit.MemorySink
}

// NewTestServer creates a server with an in-memory store and a fast bench.
// backend may be nil, in which case generation reports a missing credential.
func NewTestServer(t *testing.T, backend generator.Backend) *TestServer {
	t.Helper()
	memStore := store.NewMemoryStore()
	var seed int64
	registry := session.NewRegistry(
		func() testbench.Source {
			seed++
			return mockdata.NewSeeded(seed)
		},
		session.WithBenchOptions(testbench.WithInterval(10*time.Millisecond)),
	)
	t.Cleanup(registry.Close)

	auditLog := audit.NewMemorySink(100)
	auditSvc := audit.NewService(auditLog, 16)
	t.Cleanup(auditSvc.Close)

	server := api.NewServer(api.Deps{
		Store:       memStore,
		Sessions:    registry,
		Generator:   generator.NewAdapter(backend),
		Analyzer:    generator.NewAnalyzer(backend, zerolog.Nop()),
		AdminAPIKey: AdminKey,
		Logger:      zerolog.Nop(),
		Audit:       auditSvc,
		AuditLog:    auditLog,
	})
	return &TestServer{
		Server:   server,
		Handler:  server.Router(),
		Store:    memStore,
		Sessions: registry,
		Audit:    auditLog,
	}
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Admin   bool // send the admin bearer token
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Admin {
		req.Header.Set("Authorization", "Bearer "+AdminKey)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// DecodeJSON decodes a recorded response body into v.
func DecodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

// SeedRules stores the given drafts and returns them with their ids.
func SeedRules(ctx context.Context, st store.Store, drafts ...rules.FilterRule) ([]rules.FilterRule, error) {
	out := make([]rules.FilterRule, 0, len(drafts))
	for _, d := range drafts {
		created, err := st.CreateRule(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}
