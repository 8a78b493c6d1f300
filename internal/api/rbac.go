package api

import (
	"net/http"
	"strings"

	"modtok/internal/httpx"
)

const (
	roleSuperAdmin = "super_admin"
	roleAdmin      = "admin"
	roleProvider   = "provider"
	roleUser       = "user"
)

const roleImportanceAdmin = 90

var defaultRoleImportance = map[string]int{
	roleSuperAdmin: 100,
	roleAdmin:      roleImportanceAdmin,
	roleProvider:   20,
	roleUser:       10,
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	r = strings.ReplaceAll(r, "-", "_")
	if r == "superadmin" || r == "root" {
		return roleSuperAdmin
	}
	if _, ok := defaultRoleImportance[r]; ok {
		return r
	}
	return ""
}

func roleImportance(role string) int {
	return defaultRoleImportance[normalizeRole(role)]
}

func (s *Server) requireRoleImportanceAtLeast(minImportance int) func(http.Handler) http.Handler {
	if minImportance < 0 {
		minImportance = 0
	}
	if minImportance > 100 {
		minImportance = 100
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := adminAuthFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if a.User.RoleImportance < minImportance {
				httpx.WriteError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
