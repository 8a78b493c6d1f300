package api

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"modtok/internal/httpx"
	"modtok/internal/observability"
)

const (
	minPasswordLen = 8
	// bcrypt rejects passwords longer than 72 bytes.
	maxPasswordBytes = 72
)

// passwordProblem returns the validation reason for password, or "".
func passwordProblem(password string) string {
	switch {
	case len(password) < minPasswordLen:
		return fmt.Sprintf("minimo %d caracteres", minPasswordLen)
	case len(password) > maxPasswordBytes:
		return fmt.Sprintf("maximo %d bytes", maxPasswordBytes)
	}
	return ""
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type setPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())

	var req loginRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		httpx.WriteValidation(w, map[string]string{"email": "requerido", "password": "requerido"})
		return
	}

	var (
		userID   string
		fullName string
		role     string
		status   string
		hash     sql.NullString
	)
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, full_name, role, status, password_hash
		FROM profiles
		WHERE email = ?
		LIMIT 1
	`, email).Scan(&userID, &fullName, &role, &status, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.WriteError(w, http.StatusUnauthorized, "Credenciales invalidas")
			return
		}
		log.Error("login lookup failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Error leyendo usuario")
		return
	}
	if !hash.Valid || bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(req.Password)) != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "Credenciales invalidas")
		return
	}
	if status != "active" {
		httpx.WriteError(w, http.StatusForbidden, "Cuenta suspendida")
		return
	}
	normalized := normalizeRole(role)
	if roleImportance(normalized) < roleImportanceAdmin {
		httpx.WriteError(w, http.StatusForbidden, "Tu cuenta no tiene acceso al panel")
		return
	}

	token, tokenSHA, err := newSessionToken()
	if err != nil {
		log.Error("session token generation failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Error creando sesion")
		return
	}
	ttl := s.sessionTTL()
	now := s.now().UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)

	if _, err := s.db.ExecContext(r.Context(), `
		INSERT INTO admin_sessions (token_sha256, user_id, expires_at, ip, user_agent)
		VALUES (?, ?, ?, ?, ?)
	`, tokenSHA, userID, expiresAt, clientIP(r), clientUserAgent(r)); err != nil {
		log.Error("session insert failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Error guardando sesion")
		return
	}
	if _, err := s.db.ExecContext(r.Context(), "UPDATE profiles SET last_login_at = ? WHERE id = ?", now, userID); err != nil {
		log.Warn("last login update failed", zap.Error(err))
	}

	setSessionCookie(w, r, token, expiresAt, ttl)
	w.Header().Set(sessionMovingExpirationHeader, expiresAt.Format(time.RFC3339))

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user": adminUser{
			ID:             userID,
			Email:          email,
			FullName:       fullName,
			Role:           normalized,
			RoleImportance: roleImportance(normalized),
		},
	})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	// Idempotent: always clear cookie.
	if token := sessionToken(r); token != "" {
		if _, err := s.db.ExecContext(r.Context(), "DELETE FROM admin_sessions WHERE token_sha256 = ?", sha256Hex(token)); err != nil {
			observability.FromContext(r.Context()).Warn("session delete failed", zap.Error(err))
		}
	}
	clearSessionCookie(w, r)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleAdminMe(w http.ResponseWriter, r *http.Request) {
	a, ok := adminAuthFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    a.User,
	})
}

func (s *Server) handleAdminSetPassword(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	a, ok := adminAuthFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req setPasswordRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	password := strings.TrimSpace(req.Password)
	if reason := passwordProblem(password); reason != "" {
		httpx.WriteValidation(w, map[string]string{"password": reason})
		return
	}
	if password != strings.TrimSpace(req.ConfirmPassword) {
		httpx.WriteValidation(w, map[string]string{"confirm_password": "las passwords no coinciden"})
		return
	}

	var current sql.NullString
	if err := s.db.QueryRowContext(r.Context(), "SELECT password_hash FROM profiles WHERE id = ?", a.User.ID).Scan(&current); err != nil {
		log.Error("password lookup failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Error leyendo usuario")
		return
	}
	if current.Valid && bcrypt.CompareHashAndPassword([]byte(current.String), []byte(req.CurrentPassword)) != nil {
		httpx.WriteError(w, http.StatusForbidden, "La password actual no es correcta")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "No se pudo guardar password")
		return
	}

	tx, err := s.db.BeginTxx(r.Context(), nil)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "Error iniciando transaccion")
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(r.Context(), "UPDATE profiles SET password_hash = ? WHERE id = ?", string(hash), a.User.ID); err != nil {
		log.Error("password update failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "No se pudo actualizar password")
		return
	}
	// Other sessions of this user are signed out.
	if _, err := tx.ExecContext(r.Context(), "DELETE FROM admin_sessions WHERE user_id = ? AND id <> ?", a.User.ID, a.SessionID); err != nil {
		log.Error("session purge failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "No se pudo actualizar password")
		return
	}
	if err := tx.Commit(); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "Error guardando password")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func newSessionToken() (token string, tokenSHA string, err error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(b[:])
	tokenSHA = sha256Hex(token)
	return token, tokenSHA, nil
}

// EnsureBootstrapAdmin provisions the configured super admin when env
// credentials are set and no profile with that email exists yet.
func (s *Server) EnsureBootstrapAdmin(ctx context.Context) error {
	email := s.cfg.BootstrapAdminEmail
	if email == "" || s.cfg.BootstrapAdminPassword == "" {
		return nil
	}
	id, created, err := CreateAdmin(ctx, s.db, email, s.cfg.BootstrapAdminPassword, s.cfg.BootstrapAdminName)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("bootstrap admin created", zap.String("admin_id", id), zap.String("email", email))
	}
	return nil
}

// CreateAdmin inserts a super admin profile unless the email is taken, in
// which case the existing id is returned with created false.
func CreateAdmin(ctx context.Context, db *sqlx.DB, email, password, name string) (string, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Admin"
	}
	if email == "" || !strings.Contains(email, "@") {
		return "", false, errors.New("email invalido")
	}
	if reason := passwordProblem(password); reason != "" {
		return "", false, fmt.Errorf("password: %s", reason)
	}

	var existing string
	err := db.QueryRowContext(ctx, "SELECT id FROM profiles WHERE email = ? LIMIT 1", email).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", false, fmt.Errorf("hash password: %w", err)
	}
	id := uuid.NewString()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, full_name, role, status, password_hash)
		VALUES (?, ?, ?, ?, 'active', ?)
	`, id, email, name, roleSuperAdmin, string(hash)); err != nil {
		return "", false, fmt.Errorf("insert admin: %w", err)
	}
	return id, true, nil
}
