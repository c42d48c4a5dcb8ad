package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentoven/conductor/internal/api/handlers"
	"github.com/agentoven/conductor/internal/api/middleware"
	"github.com/agentoven/conductor/internal/config"
	"github.com/agentoven/conductor/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with every route of §6. authChain
// may be nil in tests, in which case every request is anonymous.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-API-Key", "X-Service-Token"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/spawn", h.SpawnAgent)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Post("/kill", h.KillAgent)
				r.Post("/pause", h.PauseAgent)
				r.Post("/resume", h.ResumeAgent)
				r.Patch("/brief", h.PatchAgentBrief)
				r.Post("/checkpoint", h.RequestCheckpoint)
				r.Get("/checkpoints", h.ListCheckpoints)
				r.Get("/checkpoints/latest", h.LatestCheckpoint)
			})
		})

		r.Route("/decisions", func(r chi.Router) {
			r.Get("/", h.ListDecisions)
			r.Post("/{id}/resolve", h.ResolveDecision)
		})

		r.Route("/tool-gate", func(r chi.Router) {
			r.Post("/request-approval", h.RequestApproval)
			r.Get("/stats", h.ToolGateStats)
		})

		r.Post("/brake", h.EngageBrake)
		r.Post("/brake/release", h.ReleaseBrake)
		r.Get("/brake", h.GetBrake)

		r.Get("/control-mode", h.GetControlMode)
		r.Put("/control-mode", h.SetControlMode)

		r.Route("/trust", func(r chi.Router) {
			r.Get("/profiles", h.ListTrustProfiles)
			r.Get("/{agentId}", h.GetTrust)
			r.Post("/profile/{name}", h.SetTrustCalibration)
		})

		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", h.ListArtifacts)
			r.Post("/", h.CreateArtifact)
			r.Get("/{id}", h.GetArtifact)
			r.Get("/{id}/content", h.GetArtifactContent)
		})

		r.Get("/coherence", h.ListCoherenceIssues)
		r.Get("/events", h.ListEvents)

		r.Post("/tick/advance", h.AdvanceTick)

		r.Get("/quarantine", h.ListQuarantine)
		r.Delete("/quarantine", h.ClearQuarantine)

		r.Route("/project", func(r chi.Router) {
			r.Post("/seed", h.SeedProject)
			r.Get("/", h.GetProject)
			r.Patch("/", h.PatchProject)
			r.Post("/draft-brief", h.DraftBrief)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", h.ListCatalog)
			r.Post("/refresh", h.RefreshCatalog)
		})

		r.Get("/sessions/{agentId}", h.GetSession)
		r.Get("/retention/manifests", h.ListArchiveManifests)

		r.Route("/bridge", func(r chi.Router) {
			r.Post("/events", h.BridgeEvents)
			r.Post("/register", h.BridgeRegister)
			r.Get("/context/{agentId}", h.BridgeContext)
			r.Get("/brake/{agentId}", h.BridgeBrake)
		})

		r.Post("/token/renew", h.TokenRenew)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Get("/me", h.Me)
		})
	})

	dashboardDir := findDashboardDir()
	if dashboardDir != "" {
		fileServer := http.FileServer(http.Dir(dashboardDir))
		r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
			path := filepath.Join(dashboardDir, strings.TrimPrefix(req.URL.Path, "/"))
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, req, filepath.Join(dashboardDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, req)
		})
	}

	return r
}

func parseCORSOrigins() []string {
	originsEnv := os.Getenv("CONDUCTOR_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "conductor-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "conductor-control-plane",
		})
	}
}

// findDashboardDir looks for the built dashboard UI in several locations.
func findDashboardDir() string {
	var candidates []string

	if envDir := os.Getenv("CONDUCTOR_DASHBOARD_DIR"); envDir != "" {
		candidates = append(candidates, envDir)
	}

	if exe, err := os.Executable(); err == nil {
		rawDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(rawDir, "..", "share", "conductor", "dashboard"),
		)
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			resolvedDir := filepath.Dir(resolved)
			if resolvedDir != rawDir {
				candidates = append(candidates,
					filepath.Join(resolvedDir, "..", "share", "conductor", "dashboard"),
				)
			}
		}
	}

	candidates = append(candidates,
		"dashboard/dist",
		"../dashboard/dist",
		"control-plane/dashboard/dist",
	)

	for _, dir := range candidates {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			if _, err := os.Stat(filepath.Join(abs, "index.html")); err == nil {
				return abs
			}
		}
	}
	return ""
}
