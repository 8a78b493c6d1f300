package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) usersResource() *resource {
	return &resource{
		Name:   "users",
		Target: "user",
		Table:  "profiles",
		Fields: []field{
			required(str("email", 255)),
			required(str("full_name", 200)),
			str("phone", 40),
			enum("role", roleUser, roleSuperAdmin, roleAdmin, roleProvider, roleUser),
			enum("status", "active", "active", "suspended"),
			ref("provider_id"),
			{Name: "password", Kind: kindString, MaxLen: maxPasswordBytes, Virtual: true},
			{Name: "password_hash", Kind: kindString, Hidden: true},
			readOnly(field{Name: "last_login_at", Kind: kindDatetime}),
		},
		Search:      []string{"email", "full_name"},
		Filters:     []string{"role", "status", "provider_id"},
		Sortable:    []string{"email", "full_name", "last_login_at", "role"},
		DefaultSort: "-created_at",
		BulkFields:  []string{"status"},
		Actions: map[string]statusAction{
			"suspend":  {Set: map[string]any{"status": "suspended"}},
			"activate": {Set: map[string]any{"status": "active"}},
		},
		Prepare:      prepareUser,
		GuardIDs:     guardUserIDs,
		BeforeDelete: beforeUserDelete,
		AfterWriteTx: revokeSuspendedSessions,
	}
}

func prepareUser(ctx context.Context, s *Server, m *mutation) error {
	if m.Has("email") && m.vals["email"] != nil {
		email := strings.ToLower(m.String("email"))
		if !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
			return newValidation("email", "email invalido")
		}
		m.Set("email", email)
		var taken bool
		if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM profiles WHERE email = ? AND id <> ?)", email, m.ID).Scan(&taken); err != nil {
			return fmt.Errorf("probe email: %w", err)
		}
		if taken {
			return httpError(http.StatusConflict, "El email ya esta registrado")
		}
	}

	if m.Has("password") {
		password := m.String("password")
		m.Unset("password")
		if password != "" {
			if reason := passwordProblem(password); reason != "" {
				return newValidation("password", reason)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			m.Set("password_hash", string(hash))
		}
	}

	callerIsSuper := m.Admin.Role == roleSuperAdmin
	if !m.IsCreate && !callerIsSuper {
		if existingRole, _ := m.Existing["role"].(string); normalizeRole(existingRole) == roleSuperAdmin {
			return httpError(http.StatusForbidden, "Solo un super_admin puede modificar a otro super_admin")
		}
	}
	if m.Has("role") && m.String("role") == roleSuperAdmin && !callerIsSuper {
		return httpError(http.StatusForbidden, "Solo un super_admin puede otorgar super_admin")
	}

	if !m.IsCreate && m.ID == m.Admin.ID {
		if m.Has("status") && m.String("status") != "active" {
			return httpError(http.StatusForbidden, "No puedes suspender tu propia cuenta")
		}
		if m.Has("role") && roleImportance(m.String("role")) < roleImportance(m.Admin.Role) {
			return httpError(http.StatusForbidden, "No puedes reducir tu propio rol")
		}
	}

	if m.Has("provider_id") && m.vals["provider_id"] != nil {
		if err := requireEntity(ctx, s, "providers", m.String("provider_id"), "provider_id"); err != nil {
			return err
		}
	}
	return nil
}

func beforeUserDelete(ctx context.Context, s *Server, m *mutation) error {
	if m.ID == m.Admin.ID {
		return httpError(http.StatusForbidden, "No puedes eliminar tu propia cuenta")
	}
	if role, _ := m.Existing["role"].(string); normalizeRole(role) == roleSuperAdmin && m.Admin.Role != roleSuperAdmin {
		return httpError(http.StatusForbidden, "Solo un super_admin puede eliminar a otro super_admin")
	}
	return nil
}

// guardUserIDs applies the self and super_admin rules to bulk operations.
func guardUserIDs(ctx context.Context, s *Server, admin adminUser, op string, ids []string) error {
	for _, id := range ids {
		if id == admin.ID && op != "activate" {
			return httpError(http.StatusForbidden, "No puedes aplicar esta accion a tu propia cuenta")
		}
	}
	if admin.Role == roleSuperAdmin {
		return nil
	}
	q, args, err := sqlx.In("SELECT COUNT(*) FROM profiles WHERE role = ? AND id IN (?)", roleSuperAdmin, ids)
	if err != nil {
		return err
	}
	var supers int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&supers); err != nil {
		return fmt.Errorf("probe super admins: %w", err)
	}
	if supers > 0 {
		return httpError(http.StatusForbidden, "Solo un super_admin puede modificar a otro super_admin")
	}
	return nil
}

// revokeSuspendedSessions signs a user out when the account is suspended.
func revokeSuspendedSessions(ctx context.Context, tx *sqlx.Tx, m *mutation) error {
	if m.IsCreate || !m.Has("status") || m.String("status") == "active" {
		return nil
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM admin_sessions WHERE user_id = ?", m.ID)
	return err
}
