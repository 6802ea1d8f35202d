package bootstrap

import (
	"context"
	"sync"
	"time"

	"google.golang.org/adk/session"

	"hermes/internal/adapters/config"
	pgclient "hermes/internal/adapters/postgres"
	redisclient "hermes/internal/adapters/redis"
	"hermes/internal/api"
	"hermes/internal/api/health"
	"hermes/internal/domain/connection"
	domainsession "hermes/internal/domain/session"
	"hermes/internal/domain/token"
	"hermes/internal/gateway"
	"hermes/internal/runtime"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (Data stores)
	PG    *pgclient.Client
	Redis *redisclient.Client

	// Domain Layer - Repositories
	Repos *Repositories

	// Domain Layer - Services
	Services *Services

	// Gateway Layer
	Gateway *Gateway

	// Application Layer
	Application *Application

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all domain repositories
type Repositories struct {
	Session    domainsession.Repository
	Token      token.Repository
	Connection connection.Repository
}

// Services groups all domain services
type Services struct {
	Session    *domainsession.Service // Session domain service
	ADKSession session.Service        // ADK interface over the session service
	Tokens     *token.Registry        // Resumption token registry
}

// Gateway groups the real-time chat components
type Gateway struct {
	Registry     *gateway.Registry
	Runtime      runtime.Runtime
	Orchestrator *gateway.Orchestrator
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	Handlers      *api.Handlers
	HealthHandler *health.Handler
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Services:    &Services{},
		Gateway:     &Gateway{},
		Application: &Application{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitServices()
	c.MustInitGateway()
	c.MustInitApplication()
}

// Start starts the HTTP server and background sweeps
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	// Drop connection rows orphaned by a previous run of this instance.
	c.Gateway.Registry.RecoverOrphans(c.Context)

	// Start HTTP server
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	// Periodic expired-token sweep. Redis-backed tokens expire natively,
	// making this a no-op there.
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		c.runTokenSweep(time.Hour)
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

func (c *Container) runTokenSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Context.Done():
			return
		case <-ticker.C:
			if _, err := c.Services.Tokens.PurgeExpired(c.Context); err != nil && c.Context.Err() == nil {
				c.Log.Warnw("token sweep failed", "err", err)
			}
		}
	}
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all components to stop
	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Application.HTTPServer,
		c.Gateway.Registry,
		c.PG,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}
