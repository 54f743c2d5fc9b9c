// Package app assembles the devserver: the sqlite store, the live channel
// registry and hub, the message router, and the REST surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tutorchat/internal/api"
	"tutorchat/internal/config"
	"tutorchat/internal/database"
	"tutorchat/internal/hub"
	"tutorchat/internal/router"
	"tutorchat/internal/websocket"
	pkgdatabase "tutorchat/pkg/database"
)

// RateLimitCleanupInterval is how often idle sender budgets are dropped
const RateLimitCleanupInterval = 5 * time.Minute

// Application coordinates all devserver components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config        *config.Config
	dbManager     *database.Manager
	registry      *websocket.Registry
	rateLimiter   *router.RateLimiter
	messageRouter *router.Router
	messageHub    *hub.Hub
	apiServer     *api.Server
	httpServer    *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry → Hub → Router → WebSocket handler → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.ConnMaxLifetime = cfg.Database.Timeout
	dbConfig.ConnMaxIdleTime = cfg.Database.Timeout / 3
	dbConfig.WriteTimeout = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	// STEP 2: Initialize WebSocket registry for connection tracking
	registry := websocket.NewRegistry()

	// STEP 3: Initialize message hub for live delivery
	messageHub := hub.NewHub(registry, hub.DefaultQueueSize)

	// STEP 4: Initialize message router (persist, notify, publish)
	rateLimiter := router.NewRateLimiter(router.DefaultMessagesPerMinute)
	messageRouter := router.NewRouter(dbManager, messageHub, rateLimiter)

	// STEP 5: Initialize WebSocket handler
	wsHandler := websocket.NewHandler(registry, dbManager, messageRouter, websocket.SettingsFromConfig(cfg.WebSocket))

	// STEP 6: Initialize API server; it owns the live channel route too
	apiServer := api.NewServer(dbManager, messageRouter, registry, http.HandlerFunc(wsHandler.HandleWebSocket), api.Settings{
		StorageDir:     cfg.Attachment.StorageDir,
		MaxUploadBytes: cfg.Attachment.MaxBytes,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		dbManager:     dbManager,
		registry:      registry,
		rateLimiter:   rateLimiter,
		messageRouter: messageRouter,
		messageHub:    messageHub,
		apiServer:     apiServer,
		httpServer:    httpServer,
	}, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting tutorchat devserver on %s", app.httpServer.Addr)

	if err := app.startWorkers(ctx); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.stopWorkers()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.stopWorkers()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("tutorchat devserver listening on %s", listener.Addr())
		return nil
	case <-ctx.Done():
		app.stopWorkers()
		return ctx.Err()
	}
}

// startWorkers runs the hub and the rate limiter sweep
func (app *Application) startWorkers(ctx context.Context) error {
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	app.mu.Lock()
	app.stopCh = make(chan struct{})
	stop := app.stopCh
	app.mu.Unlock()

	go app.rateLimiter.RunCleanup(RateLimitCleanupInterval, stop)
	return nil
}

func (app *Application) stopWorkers() {
	app.mu.Lock()
	if app.stopCh != nil {
		close(app.stopCh)
		app.stopCh = nil
	}
	app.mu.Unlock()

	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Message hub shutdown error: %v", err)
	}
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Live connections → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down tutorchat devserver")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Hijacked live channels are not tracked by Shutdown
	app.registry.CloseAll()

	// STEP 3: Stop message processing
	app.stopWorkers()

	// STEP 4: Close database connections
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("tutorchat devserver shutdown complete")
	return nil
}

// Handler exposes the full HTTP surface for in-process servers
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Database exposes the store for seeding
func (app *Application) Database() *database.Manager {
	return app.dbManager
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
