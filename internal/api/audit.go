package api

import (
	"net/http"
	"strconv"

	"github.com/TimurManjosov/tgforwarder/internal/audit"
)

const defaultAuditLimit = 50

// record logs a rule change when auditing is enabled.
func (s *Server) record(b *audit.EventBuilder) {
	if s.audit == nil {
		return
	}
	s.audit.Log(b.Build())
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeJSON(w, http.StatusOK, []audit.Event{})
		return
	}
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxLimit {
			BadRequestError(w, r, ErrCodeBadRequest, "limit must be between 0 and 1000")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.auditLog.Recent(r.URL.Query().Get("rule_id"), limit))
}
