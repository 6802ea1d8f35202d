package bootstrap

import (
	"context"
	"sync"
	"time"

	pgclient "hermes/internal/adapters/postgres"
	redisclient "hermes/internal/adapters/redis"
	"hermes/internal/api"
	"hermes/internal/gateway"
	"hermes/pkg/errors"
	"hermes/pkg/logger"
)

// Lifecycle manages graceful startup and shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// Shutdown performs coordinated cleanup of all components in the correct order:
// 1. No new HTTP requests accepted
// 2. Live transports closed and their mirror rows removed
// 3. Background goroutines drained
// 4. Errors flushed, logs synced
// 5. Database connections last (other components may need them)
func (l *Lifecycle) Shutdown(
	wg *sync.WaitGroup,
	httpServer *api.Server,
	registry *gateway.Registry,
	pgClient *pgclient.Client,
	redisClient *redisclient.Client,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop HTTP Server (5s timeout)
	// ========================================
	log.Info("[1/6] Stopping HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	defer httpCancel()

	if err := httpServer.Shutdown(httpCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	} else {
		log.Info("✓ HTTP server stopped")
	}

	// ========================================
	// Step 2: Close client transports
	// ========================================
	log.Info("[2/6] Closing client transports...")
	if registry != nil {
		registry.Shutdown(shutdownCtx)
	}
	log.Info("✓ Client transports closed")

	// ========================================
	// Step 3: Wait for background goroutines
	// ========================================
	log.Info("[3/6] Waiting for background goroutines...")
	l.waitForGoroutines(wg, 5*time.Second, log)

	// ========================================
	// Step 4: Flush Error Tracker
	// ========================================
	log.Info("[4/6] Flushing error tracker...")
	l.flushErrorTracker(errorTracker, shutdownCtx, log)

	// ========================================
	// Step 5: Sync Logs
	// ========================================
	log.Info("[5/6] Syncing logs...")
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	} else {
		log.Info("✓ Logs synced")
	}

	// ========================================
	// Step 6: Close Database Connections
	// LAST - other components may need them during shutdown
	// ========================================
	log.Info("[6/6] Closing database connections...")
	l.closeDatabases(pgClient, redisClient, log)

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warn("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(tracker errors.Tracker, ctx context.Context, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Error("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var dbErrors []error

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "postgres"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "redis"))
		}
	}

	if len(dbErrors) > 0 {
		log.Error("Database close errors", "errors", dbErrors)
	} else {
		log.Info("✓ Database connections closed")
	}
}
