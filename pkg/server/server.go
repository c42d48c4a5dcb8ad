// Package server provides the public entry point for initializing the
// Conductor control plane server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/agentoven/conductor/internal/api"
	"github.com/agentoven/conductor/internal/api/handlers"
	aoauth "github.com/agentoven/conductor/internal/auth"
	"github.com/agentoven/conductor/internal/brake"
	"github.com/agentoven/conductor/internal/bus"
	"github.com/agentoven/conductor/internal/catalog"
	"github.com/agentoven/conductor/internal/config"
	"github.com/agentoven/conductor/internal/control"
	"github.com/agentoven/conductor/internal/decisions"
	"github.com/agentoven/conductor/internal/gateway"
	"github.com/agentoven/conductor/internal/gateway/transport"
	"github.com/agentoven/conductor/internal/injector"
	"github.com/agentoven/conductor/internal/mcptools"
	"github.com/agentoven/conductor/internal/notify"
	"github.com/agentoven/conductor/internal/quarantine"
	"github.com/agentoven/conductor/internal/retention"
	"github.com/agentoven/conductor/internal/semantic"
	"github.com/agentoven/conductor/internal/sessions"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/telemetry"
	"github.com/agentoven/conductor/internal/tick"
	"github.com/agentoven/conductor/internal/toolgate"
	"github.com/agentoven/conductor/internal/trust"
	"github.com/agentoven/conductor/internal/wshub"
	"github.com/agentoven/conductor/pkg/models"

	"github.com/rs/zerolog/log"
)

// Config is the public configuration for the control plane server.
type Config struct {
	Port         int
	Version      string
	OTELEnabled  bool
	OTELEndpoint string
	ServiceName  string
}

// Server holds the initialized Conductor control plane. Every
// component is exported so an embedding deployment can override a
// subset (a different store, an extra notify driver, an additional
// auth provider) without rebuilding the whole composition.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the knowledge store (in-memory by default).
	Store store.Store

	Bus       *bus.Bus
	Tick      *tick.Service
	Queue     *decisions.Queue
	Trust     *trust.Engine
	Scheduler *injector.Scheduler
	Gateway   *gateway.Gateway
	Gate      *toolgate.Gate
	Control   *control.Manager
	Brake     *brake.Engine

	Quarantine *quarantine.Gate
	Tools      *mcptools.Registry

	// Notifier is the escalation notification service. Register
	// additional channel drivers with Notifier.RegisterDriver().
	Notifier *notify.Service

	// Handlers is the HTTP handler collection.
	Handlers *handlers.Handlers

	// Catalog is the live model capability database.
	Catalog *catalog.Catalog

	// Sessions manages multi-turn conversation history.
	Sessions *sessions.MemorySessionStore

	// Semantic is the knowledge-store similarity index; nil embedding
	// driver means lookups degrade to no-ops until one is configured.
	Semantic *semantic.Index

	// RetentionJanitor runs periodic data retention cleanup.
	RetentionJanitor *retention.Janitor

	// AuthChain is the pluggable authentication provider chain.
	// Register additional providers (OIDC, SAML, mTLS) with
	// AuthChain.RegisterProvider().
	AuthChain *aoauth.ProviderChain

	Config *Config
	Port   int

	retentionCancel context.CancelFunc

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	cfg := config.Load()
	return &Config{
		Port:         cfg.Port,
		Version:      cfg.Version,
		OTELEnabled:  cfg.Telemetry.Enabled,
		OTELEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	}
}

// New initializes every control plane component with a fresh in-memory
// store and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, LoadConfig())
}

// NewWithConfig initializes the control plane with an explicit public configuration.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("in-memory store initialized")

	return buildServer(ctx, cfg, pubCfg, dataStore, shutdown)
}

// NewWithStore initializes the control plane with an externally
// provided store. The caller owns that store's lifecycle (migrations,
// Close).
func NewWithStore(ctx context.Context, dataStore store.Store) (*Server, error) {
	return NewWithStoreAndConfig(ctx, dataStore, LoadConfig())
}

// NewWithStoreAndConfig initializes the control plane with an external
// store and explicit public configuration.
func NewWithStoreAndConfig(ctx context.Context, dataStore store.Store, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	log.Info().Msg("external store provided")

	return buildServer(ctx, cfg, pubCfg, dataStore, shutdown)
}

// buildServer is the shared constructor that wires every component.
func buildServer(ctx context.Context, cfg *config.Config, pubCfg *Config, dataStore store.Store, shutdown func(context.Context) error) (*Server, error) {
	seedDefaultProject(ctx, dataStore)

	eventBus := bus.New()

	tickMode := tick.ModeManual
	if cfg.Tick.Mode == "timer" {
		tickMode = tick.ModeTimer
	}
	tickSvc := tick.New(tickMode, cfg.Tick.Interval)
	tickSvc.StartTimer()
	log.Info().Str("mode", string(tickMode)).Msg("tick service started")

	queue := decisions.New()
	trustEngine := trust.New(trust.DefaultConfig())
	gw := gateway.New()
	hub := wshub.New()
	controlMgr := control.New(control.ModeOrchestrator)
	log.Info().Msg("decision queue, trust engine, gateway, and WS hub initialized")

	scheduler := injector.New(&snapshotAdapter{store: dataStore, queue: queue}, gw)

	gate := toolgate.New(queue, trustEngine, gw, &artifactLookupAdapter{store: dataStore}, gw, hub, dataStore,
		func() toolgate.ControlMode { return toolgate.ControlMode(controlMgr.Current()) })
	tools := mcptools.New()
	gate.SetToolRegistry(tools, workstreamLookup(dataStore))
	log.Info().Msg("tool gate and context injection scheduler initialized")

	brakeEngine := brake.New(&agentLookupAdapter{store: dataStore}, gw, queue, hub)
	quarantineGate := quarantine.New(dataStore)

	registerTransports(gw, cfg)
	log.Info().Int("portLow", cfg.Agents.PortPoolLow).Int("portHigh", cfg.Agents.PortPoolHigh).Msg("agent gateway transports registered")

	// ── Model Catalog ───────────────────────────────────────
	cat := catalog.New()
	cat.Start(ctx, 6*time.Hour)
	log.Info().Msg("model catalog initialized")

	// ── Session Store ───────────────────────────────────────
	sessStore := sessions.NewMemorySessionStore()
	log.Info().Msg("session store initialized (in-memory)")

	// ── Semantic index (knowledge-store similarity search) ──
	semanticIndex := buildSemanticIndex()

	ns := notify.NewService()
	log.Info().Msg("escalation notifier initialized")

	// ── Pluggable Auth ───────────────────────────────────────
	authChain := aoauth.NewProviderChain()
	apiKeyProvider := aoauth.NewAPIKeyProvider()
	if apiKeyProvider.Enabled() {
		authChain.RegisterProvider(apiKeyProvider)
	}
	svcAcctProvider := aoauth.NewServiceAccountProvider()
	if svcAcctProvider.Enabled() {
		authChain.RegisterProvider(svcAcctProvider)
	}

	h := &handlers.Handlers{
		Store:       dataStore,
		Bus:         eventBus,
		Tick:        tickSvc,
		Queue:       queue,
		Trust:       trustEngine,
		Scheduler:   scheduler,
		Gate:        gate,
		Gateway:     gw,
		Control:     controlMgr,
		Brake:       brakeEngine,
		Quarantine:  quarantineGate,
		Tools:       tools,
		Catalog:     cat,
		Sessions:    sessStore,
		Retention:   nil, // set below once the janitor exists
		Notifier:    ns,
		Hub:         hub,
		AuthChain:   authChain,
		ServiceSalt: serviceSalt(),
	}

	// ── Retention janitor ────────────────────────────────────
	archiveDir := cfg.Retention.ArchiveDir
	if archiveDir == "" {
		archiveDir = "data/archive"
	}
	archiver := retention.NewLocalFileArchiver(archiveDir, cfg.Retention.Compress)
	janitor := retention.NewJanitor(dataStore, archiver, cfg.Retention.Interval, cfg.Retention.Window)
	h.Retention = janitor
	log.Info().Str("dir", archiveDir).Msg("local file archiver registered")

	retCtx, retCancel := context.WithCancel(context.Background())
	go janitor.Start(retCtx)

	router := api.NewRouter(cfg, h, authChain)

	return &Server{
		Handler:          router,
		Store:            dataStore,
		Bus:              eventBus,
		Tick:             tickSvc,
		Queue:            queue,
		Trust:            trustEngine,
		Scheduler:        scheduler,
		Gateway:          gw,
		Gate:             gate,
		Control:          controlMgr,
		Brake:            brakeEngine,
		Quarantine:       quarantineGate,
		Tools:            tools,
		Notifier:         ns,
		Handlers:         h,
		Catalog:          cat,
		Sessions:         sessStore,
		Semantic:         semanticIndex,
		RetentionJanitor: janitor,
		AuthChain:        authChain,
		Config:           pubCfg,
		Port:             cfg.Port,
		retentionCancel:  retCancel,
		ShutdownFunc:     shutdown,
	}, nil
}

func registerTransports(gw *gateway.Gateway, cfg *config.Config) {
	ports := transport.NewPortPool(cfg.Agents.PortPoolLow, cfg.Agents.PortPoolHigh)

	gw.RegisterTransport("in_process", transport.NewInProcessTransport(newNullAgent))

	if cfg.Agents.LocalCommand != "" {
		gw.RegisterTransport("local_http", transport.NewLocalHTTPTransport(ports, cfg.Agents.LocalCommand, []string{"--port", "%d"}))
	}

	if cfg.Agents.ContainerImage != "" {
		gw.RegisterTransport("container", transport.NewContainerTransport(ports, cfg.Agents.ContainerImage, cfg.Agents.StartupTimeout, cfg.Agents.PollInterval))
	}
}

func buildSemanticIndex() *semantic.Index {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := os.Getenv("CONDUCTOR_EMBEDDING_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
		log.Info().Msg("semantic index initialized with OpenAI embeddings")
		return semantic.New(semantic.NewOpenAIDriver(apiKey, model), semantic.NewEmbeddedStore())
	}
	if endpoint := os.Getenv("OLLAMA_URL"); endpoint != "" {
		model := os.Getenv("CONDUCTOR_OLLAMA_EMBED_MODEL")
		if model == "" {
			model = "nomic-embed-text"
		}
		log.Info().Msg("semantic index initialized with Ollama embeddings")
		return semantic.New(semantic.NewOllamaDriver(endpoint, model), semantic.NewEmbeddedStore())
	}
	log.Info().Msg("no embedding driver configured — semantic index running without a driver")
	return semantic.New(nil, semantic.NewEmbeddedStore())
}

func seedDefaultProject(ctx context.Context, s store.Store) {
	if s.HasProject(ctx) {
		return
	}
	now := time.Now().UTC()
	_, err := s.UpsertProjectConfig(ctx, models.ProjectConfig{
		Name:      "Untitled Project",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to seed default project config")
	} else {
		log.Info().Msg("default project config seeded")
	}
}

func serviceSalt() []byte {
	if secret := os.Getenv("CONDUCTOR_SA_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("conductor-dev-only-salt")
}

func workstreamLookup(s store.Store) func(agentID string) string {
	return func(agentID string) string {
		agent, err := s.GetAgent(context.Background(), agentID)
		if err != nil || agent == nil {
			return ""
		}
		return agent.Workstream
	}
}

// Shutdown stops all background goroutines (retention janitor, tick
// timer, catalog refresh) and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.retentionCancel != nil {
		s.retentionCancel()
	}
	if s.Catalog != nil {
		s.Catalog.Stop()
	}
	if s.Tick != nil {
		s.Tick.Stop()
	}
	if s.ShutdownFunc != nil {
		return s.ShutdownFunc(ctx)
	}
	return nil
}
