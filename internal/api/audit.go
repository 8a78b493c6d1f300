package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	actionCreate     = "create"
	actionUpdate     = "update"
	actionDelete     = "delete"
	actionBulkUpdate = "bulk_update"
	actionBulkDelete = "bulk_delete"
)

type auditEntry struct {
	ID         string          `json:"id"`
	AdminID    string          `json:"admin_id"`
	ActionType string          `json:"action_type"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Before     json.RawMessage `json:"changes_before,omitempty"`
	After      json.RawMessage `json:"changes_after,omitempty"`
	IP         string          `json:"ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
}

func auditJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func newAuditEntry(r *http.Request, admin adminUser, actionType, targetType, targetID string, before, after any) auditEntry {
	return auditEntry{
		ID:         uuid.NewString(),
		AdminID:    admin.ID,
		ActionType: actionType,
		TargetType: targetType,
		TargetID:   targetID,
		Before:     auditJSON(before),
		After:      auditJSON(after),
		IP:         clientIP(r),
		UserAgent:  clientUserAgent(r),
	}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// insertAudit writes entries inside tx with one multi-row insert.
func insertAudit(ctx context.Context, tx *sqlx.Tx, entries ...auditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO admin_actions (id, admin_id, action_type, target_type, target_id, changes_before, changes_after, ip, user_agent) VALUES ")
	args := make([]any, 0, len(entries)*9)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.ID,
			nullableString(e.AdminID),
			e.ActionType,
			e.TargetType,
			nullableString(e.TargetID),
			nullableJSON(e.Before),
			nullableJSON(e.After),
			nullableString(e.IP),
			nullableString(e.UserAgent),
		)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// afterAudit runs once the entries are committed.
func (s *Server) afterAudit(entries ...auditEntry) {
	for _, e := range entries {
		s.metrics.AdminAction(e.ActionType, e.TargetType)
		s.activity.publish("admin_action", e)
	}
}
