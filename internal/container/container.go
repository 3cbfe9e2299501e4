package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/dispatcher"
	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/application/service"
	"github.com/garyjia/rcm-agent/internal/application/workflow"
	"github.com/garyjia/rcm-agent/internal/infrastructure/worker"
	"github.com/garyjia/rcm-agent/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/rcm-agent/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	sqlDB        *sql.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	oracle  port.DecisionOracle
	gateway port.PayerGateway

	// Application
	dispatcher dispatcher.Dispatcher
	driver     workflow.Driver
	sessions   service.SessionService

	// Background
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Session port.SessionRepository
	History port.HistoryRepository
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option overrides a component the container would otherwise build.
type Option func(*Container)

// WithOracle replaces the OpenAI oracle
func WithOracle(o port.DecisionOracle) Option {
	return func(c *Container) {
		c.oracle = o
	}
}

// WithPayerGateway replaces the mock payer gateway
func WithPayerGateway(g port.PayerGateway) Option {
	return func(c *Container) {
		c.gateway = g
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	c := &Container{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	// An injected oracle needs no API key
	if c.oracle != nil && cfg.OpenAI.APIKey == "" {
		checked := *cfg
		checked.OpenAI.APIKey = "injected"
		if err := checked.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return c, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Start initializes all components.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. External clients (OpenAI oracle, payer gateway)
// 3. Event dispatcher and workflow driver
// 4. Session service
// 5. Background workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Initialize external clients
	if err := c.initExternalClients(); err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized")

	// Step 3: Initialize dispatcher and workflow driver
	if err := c.initDispatcherAndDriver(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher and driver: %w", err)
	}
	c.logger.Info("Dispatcher and workflow driver initialized")

	// Step 4: Initialize session service
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 5: Start background workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Background workers started", zap.Int("count", c.workers.GetWorkerCount()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop background workers before the services they call
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Step 2: Close dispatcher, waiting for in-flight event handlers
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Close database
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	check := func(name string, initialized bool) {
		if initialized {
			status.Components[name] = ComponentHealth{Healthy: true}
			return
		}
		status.Components[name] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	// Check database
	if c.sqlDB != nil {
		if err := c.sqlDB.Ping(); err != nil {
			status.Components["database"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		check("database", false)
	}

	check("repositories", c.repositories != nil)
	check("oracle", c.oracle != nil)
	check("payer_gateway", c.gateway != nil)
	check("dispatcher", c.dispatcher != nil)
	check("sessions", c.sessions != nil)
	check("workers", c.workers != nil && c.workers.IsRunning())

	return status
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(c.ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.conn = dbBundle.Conn
	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.sqlDB, c.logger)
	if err != nil {
		c.conn.Close()
		return err
	}

	c.repositories = repos
	return nil
}

// initExternalClients builds the oracle and gateway unless they were injected.
func (c *Container) initExternalClients() error {
	if c.oracle == nil {
		oracle, err := ProvideOracle(&c.config.OpenAI, c.logger)
		if err != nil {
			return err
		}
		c.oracle = oracle
	}

	if c.gateway == nil {
		gateway, err := ProvidePayerGateway(&c.config.Payer, c.logger)
		if err != nil {
			return err
		}
		c.gateway = gateway
	}

	return nil
}

// initDispatcherAndDriver initializes the event dispatcher and workflow driver.
func (c *Container) initDispatcherAndDriver() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	driver, err := ProvideDriver(&WorkflowDeps{
		Oracle:     c.oracle,
		Gateway:    c.gateway,
		Dispatcher: c.dispatcher,
		Config:     &c.config.Workflow,
		Seed:       c.config.Payer.Seed,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.driver = driver

	return nil
}

// initServices initializes the session service.
func (c *Container) initServices() error {
	sessions, err := ProvideSessionService(&ServiceDeps{
		Driver:     c.driver,
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		SessionTTL: c.config.Workflow.SessionTTL,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	c.sessions = sessions
	return nil
}

// initWorkers registers and starts the background workers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Sessions: c.sessions,
		Config:   &c.config.Workflow,
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	return c.workers.StartAll(c.ctx)
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Oracle returns the decision oracle.
func (c *Container) Oracle() port.DecisionOracle {
	return c.oracle
}

// PayerGateway returns the payer gateway.
func (c *Container) PayerGateway() port.PayerGateway {
	return c.gateway
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Driver returns the workflow driver.
func (c *Container) Driver() workflow.Driver {
	return c.driver
}

// Sessions returns the session service.
func (c *Container) Sessions() service.SessionService {
	return c.sessions
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
