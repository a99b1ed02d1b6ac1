package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/auth"
	"github.com/jackzampolin/tabula/internal/config"
	"github.com/jackzampolin/tabula/internal/extract"
	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/home"
	"github.com/jackzampolin/tabula/internal/prompts"
	"github.com/jackzampolin/tabula/internal/prompts/fixer"
	"github.com/jackzampolin/tabula/internal/prompts/ocr"
	"github.com/jackzampolin/tabula/internal/prompts/summarize"
	"github.com/jackzampolin/tabula/internal/prompts/translate"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/server/endpoints"
	"github.com/jackzampolin/tabula/internal/store"
	"github.com/jackzampolin/tabula/internal/svcctx"
	"github.com/jackzampolin/tabula/internal/telemetry"
)

// storeReadyTimeout bounds the wait for the store to answer PING at startup.
const storeReadyTimeout = 30 * time.Second

// Server is the main Tabula HTTP server.
// With --docker-redis it manages a local Redis container, starting it on
// server start and stopping it on server shutdown.
type Server struct {
	httpServer    *http.Server
	dockerManager *store.DockerManager
	registry      *providers.Registry
	resolver      providers.Resolver
	invoker       *providers.Invoker
	prompts       *prompts.Resolver
	auth          *auth.Manager
	configMgr     *config.Manager
	settings      *config.Config
	home          *home.Dir
	storeOverride store.Store
	now           func() time.Time
	logger        *slog.Logger

	// Set by initialize.
	st         store.Store
	gatekeeper *gatekeeper.Gatekeeper
	usage      *telemetry.Log
	usageStore *telemetry.SQLiteStore
	recorder   *telemetry.Recorder
	retention  *telemetry.Retention

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	services *svcctx.Services
	running  bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: server.host, then 127.0.0.1)
	Host string
	// Port is the port to listen on (default: server.port, then 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Settings is used when ConfigManager is nil (default: config.DefaultConfig)
	Settings *config.Config
	// Home locates the usage database and the Redis bind mount.
	Home *home.Dir
	// DockerRedis runs a local Redis container and uses it as the store.
	DockerRedis bool
	// Store replaces the configured store.
	Store store.Store
	// Resolver replaces the model client registry.
	Resolver providers.Resolver
	Now      func() time.Time
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ConfigManager == nil && cfg.Settings == nil {
		cfg.Settings = config.DefaultConfig()
	}

	s := &Server{
		configMgr:     cfg.ConfigManager,
		settings:      cfg.Settings,
		home:          cfg.Home,
		storeOverride: cfg.Store,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
	appCfg := s.currentConfig()

	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = appCfg.Server.Host
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = appCfg.Server.Port
	}
	if port == "" {
		port = "8080"
	}

	s.prompts = prompts.NewResolver(cfg.Logger)
	ocr.RegisterPrompts(s.prompts)
	fixer.RegisterPrompts(s.prompts)
	translate.RegisterPrompts(s.prompts)
	summarize.RegisterPrompts(s.prompts)
	if err := s.prompts.SetOverrides(appCfg.PromptOverrides()); err != nil {
		return nil, fmt.Errorf("invalid prompt override: %w", err)
	}

	// Create provider registry
	s.registry = providers.NewRegistry()
	s.registry.SetLogger(cfg.Logger)
	s.registry.Reload(appCfg.ProviderRegistryConfig())
	s.resolver = s.registry
	if cfg.Resolver != nil {
		s.resolver = cfg.Resolver
	}

	s.invoker = providers.NewInvoker(providers.InvokerConfig{
		Resolver:       s.resolver,
		PrimaryModel:   appCfg.Gemini.Model,
		FallbackModels: appCfg.Gemini.FallbackModels,
		Logger:         cfg.Logger,
	})

	s.auth = auth.NewManager(auth.Config{
		Secret:   config.ResolveEnvVars(appCfg.Admin.Secret),
		Username: appCfg.Admin.Username,
		Password: config.ResolveEnvVars(appCfg.Admin.Password),
		Now:      cfg.Now,
	})
	if !s.auth.Enabled() {
		cfg.Logger.Warn("no admin secret configured, admin endpoints are open")
	}

	if cfg.DockerRedis {
		dcfg := store.DockerConfig{
			ContainerName: appCfg.Store.Docker.ContainerName,
			Image:         appCfg.Store.Docker.Image,
			HostPort:      appCfg.Store.Docker.Port,
		}
		if cfg.Home != nil {
			dcfg.DataPath = cfg.Home.RedisDataPath()
		}
		dm, err := store.NewDockerManager(dcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis docker manager: %w", err)
		}
		s.dockerManager = dm
	}

	// Watch for config changes
	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(s.applyConfig)
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{DockerManager: s.dockerManager, Now: cfg.Now}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit, s.requireAdmin)

	origins := appCfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(host, port),
		Handler:     c.Handler(s.withServices(mux)),
		ReadTimeout: 60 * time.Second,
		// Extraction with retries and model fallback can take minutes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// currentConfig returns the live configuration.
func (s *Server) currentConfig() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return s.settings
}

// missingSecrets reports unset required secrets. A store supplied by
// --docker-redis or the caller satisfies the store requirement.
func (s *Server) missingSecrets() []string {
	missing := s.currentConfig().MissingSecrets()
	if s.dockerManager == nil && s.storeOverride == nil {
		return missing
	}
	out := missing[:0]
	for _, m := range missing {
		if m != "REDIS_URL" {
			out = append(out, m)
		}
	}
	return out
}

// Start starts the server and its dependencies.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// initialize connects the store, opens the usage database and builds the
// gateway and tool services.
func (s *Server) initialize(ctx context.Context) error {
	appCfg := s.currentConfig()

	storeURL := config.ResolveEnvVars(appCfg.Store.URL)
	if s.dockerManager != nil {
		if s.home != nil {
			if err := s.home.EnsureRedisDataPath(); err != nil {
				return fmt.Errorf("failed to create redis data directory: %w", err)
			}
		}
		s.logger.Info("starting local redis")
		if err := s.dockerManager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start redis: %w", err)
		}
		storeURL = s.dockerManager.URL()
		s.logger.Info("local redis is ready", "url", storeURL)
	}

	st := s.storeOverride
	if st == nil {
		var err error
		st, err = store.New(store.Config{
			URL:    storeURL,
			Token:  config.ResolveEnvVars(appCfg.Store.Token),
			Logger: s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
	}
	if err := store.WaitReady(ctx, st, storeReadyTimeout); err != nil {
		_ = st.Close()
		return fmt.Errorf("store not ready: %w", err)
	}
	s.st = st

	if err := s.initUsage(ctx, appCfg); err != nil {
		return err
	}

	maxRetries := appCfg.Gateway.MaxRetries
	s.gatekeeper = gatekeeper.New(gatekeeper.Config{
		Store:          st,
		Invoker:        s.invoker,
		AllowList:      appCfg.Gateway.AllowList,
		MaxInlineBytes: appCfg.Gateway.MaxInlineBytes,
		Limits:         appCfg.Limits(),
		MaxRetries:     &maxRetries,
		MissingSecrets: s.missingSecrets,
		Now:            s.now,
		Logger:         s.logger,
	})
	if missing := s.missingSecrets(); len(missing) > 0 {
		s.logger.Warn("required secrets missing, gateway will reject requests", "missing", missing)
	}

	svc := extract.New(extract.Config{
		Gateway: s.gatekeeper,
		Prompts: s.prompts,
		Usage:   s.usage,
		Now:     s.now,
		Logger:  s.logger,
	})

	s.mu.Lock()
	s.services = &svcctx.Services{
		Store:      st,
		Gatekeeper: s.gatekeeper,
		Extract:    svc,
		Usage:      s.usage,
		UsageStore: s.usageStore,
		Registry:   s.registry,
		Invoker:    s.invoker,
		Prompts:    s.prompts,
		Auth:       s.auth,
		Logger:     s.logger,
		Home:       s.home,
	}
	s.mu.Unlock()

	s.logger.Info("gateway ready",
		"allow_list", appCfg.Gateway.AllowList,
		"models", s.invoker.Models(),
		"persisted_usage", s.usageStore != nil)
	return nil
}

// initUsage builds the usage log and, when a database path is known, its
// SQLite persistence, batching recorder and retention job.
func (s *Server) initUsage(ctx context.Context, appCfg *config.Config) error {
	dbPath := appCfg.Usage.DBPath
	if dbPath == "" && s.home != nil {
		if err := s.home.EnsureExists(); err != nil {
			return err
		}
		dbPath = s.home.UsageDBPath()
	}

	var forward telemetry.Forwarder
	var restored []telemetry.Entry
	if dbPath != "" {
		us, err := telemetry.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open usage database: %w", err)
		}
		s.usageStore = us

		capacity := appCfg.Usage.Capacity
		if capacity <= 0 {
			capacity = telemetry.DefaultCapacity
		}
		restored, err = us.Recent(ctx, capacity)
		if err != nil {
			s.logger.Warn("failed to restore usage log", "error", err)
		}

		s.recorder = telemetry.NewRecorder(telemetry.RecorderConfig{Sink: us, Logger: s.logger})
		s.recorder.Start(context.Background())
		forward = s.recorder

		if age := appCfg.Usage.RetentionAge(); age > 0 {
			ret, err := telemetry.NewRetention(telemetry.RetentionConfig{
				Pruner:   us,
				MaxAge:   age,
				Schedule: appCfg.Usage.RetentionSchedule,
				Now:      s.now,
				Logger:   s.logger,
			})
			if err != nil {
				return err
			}
			s.retention = ret
			s.retention.Start()
		}
	}

	s.usage = telemetry.NewLog(telemetry.Config{
		Capacity:   appCfg.Usage.Capacity,
		RPMLimit:   appCfg.Usage.RPMLimit,
		DailyLimit: appCfg.Usage.DailyLimit,
		Settings: telemetry.Settings{
			AlertEmail: appCfg.Usage.AlertEmail,
			Threshold:  appCfg.Usage.AlertThreshold,
		},
		Cooldown: appCfg.Usage.Cooldown(),
		Forward:  forward,
		Now:      s.now,
		Logger:   s.logger,
	})
	if len(restored) > 0 {
		s.usage.Restore(restored)
		s.logger.Info("usage log restored", "entries", len(restored))
	}
	return nil
}

// applyConfig pushes a reloaded configuration into the running services.
func (s *Server) applyConfig(c *config.Config) {
	s.registry.Reload(c.ProviderRegistryConfig())
	s.invoker.SetModels(c.Gemini.Model, c.Gemini.FallbackModels)
	if err := s.prompts.SetOverrides(c.PromptOverrides()); err != nil {
		s.logger.Warn("prompt overrides rejected", "error", err)
	}

	s.mu.RLock()
	initialized := s.services != nil
	s.mu.RUnlock()
	if initialized {
		s.gatekeeper.SetLimits(c.Limits())
		if err := s.usage.UpdateSettings(telemetry.Settings{
			AlertEmail: c.Usage.AlertEmail,
			Threshold:  c.Usage.AlertThreshold,
		}); err != nil {
			s.logger.Warn("alert settings rejected", "error", err)
		}
		s.usage.SetCooldown(c.Usage.Cooldown())
	}
	s.logger.Info("configuration reloaded", "models", s.invoker.Models(), "limits", c.Limits())
}

// shutdown performs graceful shutdown of the HTTP server and every
// component initialize started.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.retention != nil {
		s.retention.Stop()
	}
	if s.recorder != nil {
		s.recorder.Stop()
	}
	if s.usageStore != nil {
		if err := s.usageStore.Close(); err != nil {
			s.logger.Error("usage database close error", "error", err)
		}
	}
	if s.st != nil && s.st != s.storeOverride {
		if err := s.st.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	if s.dockerManager != nil {
		s.logger.Info("stopping local redis")
		if err := s.dockerManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("redis stop error", "error", err)
		}
		if err := s.dockerManager.Close(); err != nil {
			s.logger.Error("redis manager close error", "error", err)
		}
	}

	s.mu.Lock()
	s.running = false
	s.services = nil
	s.mu.Unlock()
	s.logger.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Services returns the initialized services, or nil before initialization.
func (s *Server) Services() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if services := s.Services(); services != nil {
			ctx = svcctx.WithServices(ctx, services)
		} else {
			// Login works before the store is up.
			ctx = svcctx.WithServices(ctx, &svcctx.Services{Auth: s.auth, Logger: s.logger})
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or gateway aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Services() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}

// requireAdmin is middleware that checks the admin bearer token. Without a
// configured admin secret the check is skipped.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next(w, r)
			return
		}
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		if _, err := s.auth.Validate(token); err != nil {
			s.logger.Info("admin token rejected", "error", err, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		next(w, r)
	}
}
