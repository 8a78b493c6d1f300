package api

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"modtok/internal/httpx"
	"modtok/internal/lib/ratelimit"
	"modtok/internal/observability"
)

const sessionCookieName = "modtok_session"
const sessionMovingExpirationHeader = httpx.MovingExpirationHeader

type adminUser struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	Role           string `json:"role"`
	RoleImportance int    `json:"role_importance"`
	ProviderID     string `json:"provider_id,omitempty"`
}

type adminAuth struct {
	SessionID   int64
	TokenSHA256 string
	User        adminUser
}

type adminAuthKey struct{}

func withAdminAuth(ctx context.Context, a adminAuth) context.Context {
	return context.WithValue(ctx, adminAuthKey{}, a)
}

func adminAuthFromContext(ctx context.Context) (adminAuth, bool) {
	a, ok := ctx.Value(adminAuthKey{}).(adminAuth)
	return a, ok
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// sessionToken reads the session cookie, falling back to a bearer token.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

func (s *Server) requireAdminSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := observability.FromContext(r.Context())
		token := sessionToken(r)
		if token == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		tokenSHA := sha256Hex(token)

		var (
			sessionID  int64
			userID     string
			email      string
			fullName   string
			role       string
			status     string
			providerID sql.NullString
		)
		err := s.db.QueryRowContext(r.Context(), `
			SELECT s.id, u.id, u.email, u.full_name, u.role, u.status, u.provider_id
			FROM admin_sessions s
			JOIN profiles u ON u.id = s.user_id
			WHERE s.token_sha256 = ? AND s.expires_at > ?
			LIMIT 1
		`, tokenSHA, s.now().UTC()).Scan(&sessionID, &userID, &email, &fullName, &role, &status, &providerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			log.Error("session lookup failed", zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "Error validando sesion")
			return
		}
		if status != "active" {
			httpx.WriteError(w, http.StatusUnauthorized, "Cuenta suspendida")
			return
		}

		ttl := s.sessionTTL()
		movingExpiresAt := s.now().UTC().Add(ttl).Truncate(time.Second)
		if _, err := s.db.ExecContext(r.Context(), "UPDATE admin_sessions SET last_seen_at = ?, expires_at = ? WHERE id = ?", s.now().UTC(), movingExpiresAt, sessionID); err != nil {
			log.Error("session heartbeat failed", zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "Error validando sesion")
			return
		}

		setSessionCookie(w, r, token, movingExpiresAt, ttl)
		w.Header().Set(sessionMovingExpirationHeader, movingExpiresAt.Format(time.RFC3339))

		normalized := normalizeRole(role)
		a := adminAuth{
			SessionID:   sessionID,
			TokenSHA256: tokenSHA,
			User: adminUser{
				ID:             userID,
				Email:          email,
				FullName:       fullName,
				Role:           normalized,
				RoleImportance: roleImportance(normalized),
				ProviderID:     providerID.String,
			},
		}
		ctx := withAdminAuth(r.Context(), a)
		ctx = observability.WithLogger(ctx, log.With(zap.String("admin_id", userID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loginRateLimit throttles login attempts per client IP.
func (s *Server) loginRateLimit() func(http.Handler) http.Handler {
	return ratelimit.Middleware(ratelimit.Options{
		Store:      s.loginLimiter,
		Stats:      s.loginStats,
		KeyFn:      ratelimit.ClientIP,
		RetryAfter: 30 * time.Second,
		OnReject: func(w http.ResponseWriter, r *http.Request) {
			s.metrics.LoginRejected()
			observability.FromContext(r.Context()).Warn("login rate limited", zap.String("ip", ratelimit.ClientIP(r)))
			httpx.WriteError(w, http.StatusTooManyRequests, "Demasiados intentos, espera unos segundos")
		},
	})
}

func (s *Server) sessionTTL() time.Duration {
	if s.cfg.SessionTTL > 0 {
		return s.cfg.SessionTTL
	}
	return 7 * 24 * time.Hour
}

func sessionCookieSecure(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   sessionCookieSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt.UTC(),
		MaxAge:   int(ttl.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   sessionCookieSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func clientIP(r *http.Request) string {
	ip := ratelimit.ClientIP(r)
	if len(ip) > 64 {
		ip = ip[:64]
	}
	return ip
}

func clientUserAgent(r *http.Request) string {
	return truncateRunes(strings.TrimSpace(r.Header.Get("User-Agent")), 250)
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
