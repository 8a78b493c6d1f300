package api

import (
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"modtok/internal/config"
	"modtok/internal/httpx"
	"modtok/internal/lib/ratelimit"
	"modtok/internal/observability"
)

// Deps are the collaborators a Server needs besides the database. Zero
// values fall back to no-op or in-memory implementations.
type Deps struct {
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Storage    ObjectStorage
	LoginStats ratelimit.StatsRecorder
}

type Server struct {
	db           *sqlx.DB
	cfg          config.Config
	log          *zap.Logger
	metrics      *observability.Metrics
	storage      ObjectStorage
	activity     *activityHub
	loginLimiter *ratelimit.Store
	loginStats   ratelimit.StatsRecorder
	loc          *time.Location
	now          func() time.Time
	resources    []*resource
}

func NewServer(db *sqlx.DB, cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	storage := deps.Storage
	if storage == nil {
		storage = newBunnyStorage(cfg.Bunny)
	}
	s := &Server{
		db:           db,
		cfg:          cfg,
		log:          logger,
		metrics:      deps.Metrics,
		storage:      storage,
		activity:     newActivityHub(logger),
		loginLimiter: ratelimit.NewStore(cfg.LoginRateRPS, cfg.LoginRateBurst),
		loginStats:   deps.LoginStats,
		loc:          cfg.Location(),
		now:          time.Now,
	}
	s.resources = s.buildResources()
	go s.activity.run()
	return s
}

// Close disconnects activity-feed clients.
func (s *Server) Close() {
	s.activity.Close()
}

// LoginLimiter exposes the login bucket store so callers can run its janitor.
func (s *Server) LoginLimiter() *ratelimit.Store {
	return s.loginLimiter
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Older dashboard builds call /api/admin/*; serve them from /admin.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/admin/") || r.URL.Path == "/api/admin" {
				r.URL.Path = strings.Replace(r.URL.Path, "/api/admin", "/admin", 1)
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(middleware.RequestID)
	r.Use(observability.RequestLogger(s.log, s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.PingContext(r.Context()); err != nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, "Base de datos no disponible")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", s.publicRoutes)

	r.Route("/admin", func(r chi.Router) {
		r.With(s.loginRateLimit()).Post("/login", s.handleAdminLogin)
		r.Post("/logout", s.handleAdminLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdminSession)
			r.Get("/me", s.handleAdminMe)
			r.Post("/me/password", s.handleAdminSetPassword)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRoleImportanceAtLeast(roleImportanceAdmin))
				s.adminRoutes(r)
			})
		})
	})

	if dir := strings.TrimSpace(s.cfg.StaticDir); dir != "" {
		r.NotFound(SPAHandler(dir).ServeHTTP)
	}
	return r
}

// adminRoutes registers every back-office endpoint. Callers must already
// have authenticated the request as an admin.
func (s *Server) adminRoutes(r chi.Router) {
	extras := map[string]func(chi.Router){
		"providers": func(r chi.Router) {
			r.Post("/{id}/verification", s.handleComingSoon("verification"))
			r.Post("/{id}/escalate", s.handleComingSoon("approval_escalation"))
		},
		"services": func(r chi.Router) {
			r.Get("/{id}/coverage", s.handleServiceCoverageGet)
			r.Put("/{id}/coverage", s.handleServiceCoveragePut)
			r.Delete("/{id}/coverage/{region}", s.handleServiceCoverageDelete)
		},
		"slots": func(r chi.Router) {
			r.Get("/active", s.handleSlotsActive)
		},
		"media": func(r chi.Router) {
			r.Post("/upload", s.handleMediaUpload)
			r.Put("/reorder", s.handleMediaReorder)
		},
		"actions": func(r chi.Router) {
			r.Get("/ws", s.handleActivityWS)
		},
	}

	for _, res := range s.resources {
		res := res
		r.Route("/"+res.Name, func(r chi.Router) {
			if extra, ok := extras[res.Name]; ok {
				extra(r)
			}
			r.Get("/", s.handleResourceList(res))
			r.Get("/{id}", s.handleResourceGet(res))
			if res.ReadOnly {
				return
			}
			r.Post("/", s.handleResourceCreate(res))
			r.Put("/", s.handleResourceBulkUpdate(res))
			r.Delete("/", s.handleResourceBulkDelete(res))
			r.Put("/{id}", s.handleResourceUpdate(res))
			r.Delete("/{id}", s.handleResourceDelete(res))
		})
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := "*"
			if s.cfg.CORSAllowOrigins != "" {
				allowed = ""
				for _, o := range strings.Split(s.cfg.CORSAllowOrigins, ",") {
					if strings.EqualFold(strings.TrimSpace(o), origin) {
						allowed = origin
						break
					}
				}
			}
			if allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleComingSoon(feature string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusNotImplemented, map[string]any{
			"success": false,
			"status":  "coming_soon",
			"feature": feature,
			"message": "Funcionalidad disponible proximamente",
		})
	}
}

func SPAHandler(staticDir string) http.Handler {
	fsys := os.DirFS(staticDir)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		// Cache hashed Vite assets aggressively.
		if strings.HasPrefix(path, "assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}

		if _, err := fs.Stat(fsys, path); err == nil {
			http.FileServer(http.FS(fsys)).ServeHTTP(w, r)
			return
		}

		// Fallback to SPA entrypoint for client-side routes.
		r.URL.Path = "/"
		http.FileServer(http.FS(fsys)).ServeHTTP(w, r)
	})
}
