package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
)

// handleQueryAudit serves the append-only audit trail with keyset
// pagination. The cursor is the (occurred_at, id) pair of the last entry
// on the previous page.
func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if requireScope(w, r, model.ScopeRead) == nil {
		return
	}
	q := r.URL.Query()
	filter := store.AuditFilter{
		EntityType: q.Get("entity_type"),
		Action:     q.Get("action"),
	}
	if raw := q.Get("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			WriteValidation(w, r, "Malformed entity_id")
			return
		}
		filter.EntityID = &id
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			WriteValidation(w, r, "Malformed actor_id")
			return
		}
		filter.ActorID = &id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteValidation(w, r, "Malformed from timestamp, want RFC 3339")
			return
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteValidation(w, r, "Malformed to timestamp, want RFC 3339")
			return
		}
		filter.To = &t
	}
	if raw := q.Get("cursor_at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			WriteValidation(w, r, "Malformed cursor_at timestamp, want RFC 3339")
			return
		}
		id, err := uuid.Parse(q.Get("cursor_id"))
		if err != nil {
			WriteValidation(w, r, "cursor_at requires a valid cursor_id")
			return
		}
		filter.Cursor = &store.AuditCursor{OccurredAt: at, ID: id}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > store.DefaultAuditPageSize {
			WriteValidation(w, r, "limit must be between 1 and "+strconv.Itoa(store.DefaultAuditPageSize))
			return
		}
		filter.Limit = n
	}

	events, err := s.svc.QueryAudit(r.Context(), filter)
	if err != nil {
		WriteErr(w, r, err)
		return
	}

	body := map[string]any{"events": events}
	if len(events) > 0 {
		last := events[len(events)-1]
		body["next_cursor"] = map[string]string{
			"cursor_at": last.OccurredAt.Format(time.RFC3339Nano),
			"cursor_id": last.ID.String(),
		}
	}
	WriteJSON(w, http.StatusOK, body)
}
