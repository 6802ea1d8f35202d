package bootstrap

import (
	"hermes/internal/adapters/adk"
	"hermes/internal/adapters/config"
	errnoop "hermes/internal/adapters/errors/noop"
	"hermes/internal/adapters/errors/sentry"
	pgclient "hermes/internal/adapters/postgres"
	redisclient "hermes/internal/adapters/redis"
	"hermes/internal/api"
	"hermes/internal/api/health"
	domainsession "hermes/internal/domain/session"
	"hermes/internal/domain/token"
	"hermes/internal/gateway"
	"hermes/internal/metrics"
	pgrepo "hermes/internal/repository/postgres"
	redisrepo "hermes/internal/repository/redis"
	"hermes/internal/runtime"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	// Initialize error tracker
	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	// Register Prometheus metrics
	metrics.Init()
}

// provideErrorTracker initializes error tracking (Sentry or no-op)
func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure initializes data stores (Postgres, Redis)
func (c *Container) MustInitInfrastructure() {
	var err error

	// PostgreSQL
	c.Log.Info("Connecting to PostgreSQL...")
	c.PG, err = pgclient.NewClient(c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	c.Log.Info("✓ PostgreSQL connected")

	// Redis
	c.Log.Info("Connecting to Redis...")
	c.Redis, err = redisclient.NewClient(c.Config.Redis)
	if err != nil {
		c.Log.Fatalf("failed to connect redis: %v", err)
	}
	c.Log.Info("✓ Redis connected")
}

// ========================================
// Phase 3: Domain Layer - Repositories
// ========================================

// MustInitRepositories initializes all domain repositories
func (c *Container) MustInitRepositories() {
	db := c.PG.DB()

	c.Repos.Session = pgrepo.NewSessionRepository(db)
	c.Repos.Connection = pgrepo.NewConnectionRepository(db)

	switch c.Config.Tokens.Backend {
	case "redis":
		c.Repos.Token = redisrepo.NewTokenRepository(c.Redis.Client())
		c.Log.Info("✓ Resumption tokens backed by Redis")
	default:
		c.Repos.Token = pgrepo.NewTokenRepository(db)
		c.Log.Info("✓ Resumption tokens backed by PostgreSQL")
	}

	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: Domain Layer - Services
// ========================================

// MustInitServices initializes domain services
func (c *Container) MustInitServices() {
	c.Services.Session = domainsession.NewService(c.Repos.Session)
	c.Services.ADKSession = adk.NewSessionService(c.Services.Session)
	c.Services.Tokens = token.NewRegistry(c.Repos.Token, c.Config.Tokens.TTL)

	c.Log.Info("✓ Services initialized")
}

// ========================================
// Phase 5: Gateway Layer
// ========================================

// MustInitGateway wires the agent runtime, connection registry and
// orchestrator
func (c *Container) MustInitGateway() {
	root, err := runtime.NewRootAgent(c.Config.Agent)
	if err != nil {
		c.Log.Fatalf("failed to build root agent: %v", err)
	}

	rt, err := runtime.NewADKRuntime(c.Config.Agent, root, c.Services.ADKSession)
	if err != nil {
		c.Log.Fatalf("failed to build agent runtime: %v", err)
	}
	c.Gateway.Runtime = rt

	c.Gateway.Registry = gateway.NewRegistry(c.Repos.Connection, c.Config.App.InstanceID)

	c.Gateway.Orchestrator = gateway.NewOrchestrator(
		c.Services.Session,
		c.Services.Tokens,
		c.Gateway.Registry,
		c.Gateway.Runtime,
		c.Config.Agent.TurnTimeout,
	)

	c.Log.Infow("✓ Gateway initialized",
		"app_name", c.Config.Agent.AppName,
		"model", c.Config.Agent.Model,
		"turn_timeout", c.Config.Agent.TurnTimeout,
	)
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication initializes the HTTP surface
func (c *Container) MustInitApplication() {
	metrics.RegisterCustomCollector(metrics.NewCustomCollector(c.Log, c.PG.DB()))

	c.Application.Handlers = api.NewHandlers(
		c.Gateway.Orchestrator,
		c.Gateway.Registry,
		api.HandlersConfig{
			MaxConnections: c.Config.Server.MaxConnections,
			MessageRate:    c.Config.Server.MessageRate,
			MessageBurst:   c.Config.Server.MessageBurst,
			WriteTimeout:   c.Config.Server.WriteTimeout,
			TokenTTL:       c.Config.Tokens.TTL,
		},
	)

	c.Application.HealthHandler = health.New(
		c.Log,
		c.PG.DB(),
		c.Redis.Client(),
		c.Gateway.Registry,
		c.Config.Server.MaxConnections,
		c.Config.App.Name,
		Version,
		c.Config.App.InstanceID,
		config.Hostname(),
	)

	c.Application.HTTPServer = api.NewServer(
		api.ServerConfig{
			Port:        c.Config.Server.Port,
			ServiceName: c.Config.App.Name,
			Version:     Version,
			ReadTimeout: c.Config.Server.ReadTimeout,
			IdleTimeout: c.Config.Server.IdleTimeout,
		},
		c.Application.Handlers,
		c.Application.HealthHandler,
		c.Log,
	)

	c.Log.Info("✓ Application layer initialized")
}

// Version is stamped at build time via -ldflags.
var Version = "dev"
