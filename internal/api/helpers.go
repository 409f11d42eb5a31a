package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/tgforwarder/internal/audit"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ===== HTTP Helpers =====

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v and writes the error response
// itself when that fails. An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RequestTooLargeError(w, r, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	BadRequestError(w, r, ErrCodeInvalidJSON, "Invalid JSON: "+err.Error())
	return false
}

// ===== Query Helpers =====

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// parsePagination reads offset and limit. Missing values default to 0 and 100.
func parsePagination(r *http.Request) (offset, limit int, err error) {
	offset, limit = 0, defaultLimit
	if s := r.URL.Query().Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 || limit > maxLimit {
			return 0, 0, fmt.Errorf("limit must be an integer between 0 and %d", maxLimit)
		}
	}
	return offset, limit, nil
}

// paginate returns the window [offset, offset+limit) of items.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// ===== Identifier Helpers =====

// ruleRef accepts a rule id given either as a JSON string or as a number.
type ruleRef string

func (r *ruleRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = ruleRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("rule_id must be a string or a number")
	}
	*r = ruleRef(n.String())
	return nil
}

// ===== Middleware =====

// authAdmin requires the admin bearer token.
func (s *Server) authAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		got := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		if got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		// constant-time compare
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminAPIKey)) != 1 {
			ForbiddenError(w, r, "invalid token")
			return
		}
		ctx := audit.ContextWithActor(r.Context(), audit.Actor{Kind: audit.ActorKindAdmin, Display: "admin"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog logs one line per request.
func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Info()
			if status >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
