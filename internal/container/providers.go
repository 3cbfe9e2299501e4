package container

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/dispatcher"
	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/application/service"
	"github.com/garyjia/rcm-agent/internal/application/workflow"
	"github.com/garyjia/rcm-agent/internal/domain/event"
	"github.com/garyjia/rcm-agent/internal/infrastructure/external/openai"
	"github.com/garyjia/rcm-agent/internal/infrastructure/external/payer"
	"github.com/garyjia/rcm-agent/internal/infrastructure/persistence/repository"
	"github.com/garyjia/rcm-agent/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/rcm-agent/internal/infrastructure/worker"
	"github.com/garyjia/rcm-agent/pkg/database"
	"github.com/garyjia/rcm-agent/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database, runs pending migrations and wraps the
// connection in a transaction manager.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	migrator := database.NewMigrator(conn, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrationsDir(ctx, cfg.MigrationsDir)
	} else {
		err = migrator.RunEmbedded(ctx)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:           conn,
		SqlDB:          conn.DB,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Session: repository.NewSessionRepository(sqlDB, logger),
		History: repository.NewHistoryRepository(sqlDB, logger),
	}, nil
}

// ProvideOracle creates the OpenAI decision oracle.
func ProvideOracle(cfg *OpenAIConfig, logger *zap.Logger) (port.DecisionOracle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("openai config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Load prompts from YAML file
	prompts, err := openai.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	return openai.NewOracle(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}, prompts, logger.Named("oracle")), nil
}

// ProvidePayerGateway creates the mock payer gateway.
func ProvidePayerGateway(cfg *PayerConfig, logger *zap.Logger) (port.PayerGateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("payer config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []payer.Option{
		payer.WithRates(cfg.EligibilityRate, cfg.AcceptanceRate),
		payer.WithLatency(cfg.Latency),
	}
	if cfg.Seed != 0 {
		opts = append(opts, payer.WithSeed(cfg.Seed))
	}
	return payer.NewMockGateway(logger.Named("payer"), opts...), nil
}

// ProvideDispatcher creates the event dispatcher and subscribes the event log.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
	)

	eventLog := newEventLogger(logger.Named("events"))
	for _, t := range event.AllTypes() {
		disp.Subscribe(t, "event_log", eventLog)
	}
	disp.Subscribe(event.TypeClaimSubmitted, "claim_ledger", newClaimLedger(logger.Named("claims")))

	return disp, nil
}

// WorkflowDeps holds dependencies required for creating the workflow driver.
type WorkflowDeps struct {
	Oracle     port.DecisionOracle
	Gateway    port.PayerGateway
	Dispatcher dispatcher.Dispatcher
	Config     *WorkflowConfig
	Seed       int64
	Logger     *zap.Logger
}

// ProvideDriver creates the step handlers and the workflow driver.
func ProvideDriver(deps *WorkflowDeps) (workflow.Driver, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("payer gateway is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	workflowLogger := utils.NewKVLogger(deps.Logger.Named("workflow"))

	handlerOpts := []workflow.HandlerOption{
		workflow.WithThresholds(deps.Config.ReviewThreshold, deps.Config.CodingThreshold),
		workflow.WithTimeouts(deps.Config.OracleTimeout, deps.Config.GatewayTimeout),
		workflow.WithHandlerLogger(workflowLogger),
	}
	if deps.Seed != 0 {
		handlerOpts = append(handlerOpts, workflow.WithSeed(deps.Seed))
	}
	handlers := workflow.NewHandlers(deps.Oracle, deps.Gateway, handlerOpts...)

	driverOpts := []workflow.DriverOption{
		workflow.WithMaxIterations(deps.Config.MaxIterations),
		workflow.WithDriverLogger(workflowLogger),
	}
	if deps.Dispatcher != nil {
		driverOpts = append(driverOpts, workflow.WithDispatcher(deps.Dispatcher))
	}

	return workflow.NewDriver(handlers, driverOpts...), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Driver     workflow.Driver
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	SessionTTL time.Duration
	Logger     *zap.Logger
}

// ProvideSessionService creates the session service.
func ProvideSessionService(deps *ServiceDeps) (service.SessionService, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []service.SessionOption{
		service.WithSessionTTL(deps.SessionTTL),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, service.WithEventDispatcher(deps.Dispatcher))
	}

	return service.NewSessionService(
		deps.Driver,
		deps.Repos.Session,
		deps.Repos.History,
		deps.TxManager,
		utils.NewKVLogger(deps.Logger.Named("session")),
		opts...,
	), nil
}

// WorkerDeps holds dependencies required for creating background workers.
type WorkerDeps struct {
	Sessions service.SessionService
	Config   *WorkflowConfig
	Logger   *zap.Logger
}

// ProvideWorkers creates the worker manager and registers the idle-session
// reaper when an idle timeout is configured.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger.Named("workers"))
	if deps.Config.IdleTimeout > 0 {
		manager.Register(worker.NewSessionReaper(worker.SessionReaperConfig{
			PollInterval: deps.Config.ReapInterval,
			IdleTimeout:  deps.Config.IdleTimeout,
		}, deps.Sessions, deps.Logger.Named("reaper")))
	}

	return manager, nil
}

// newEventLogger creates a handler that writes every workflow event to the log
func newEventLogger(logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		if evt == nil {
			return fmt.Errorf("event cannot be nil")
		}

		fields := []zap.Field{
			zap.String("event_id", evt.ID),
			zap.String("session_id", evt.SessionID),
			zap.String("correlation_id", evt.CorrelationID),
		}
		fields = append(fields, utils.ToZapFields(flatten(evt.Payload)...)...)

		logger.Info(evt.Type.String(), fields...)
		return nil
	}
}

// newClaimLedger records one line per submitted claim
func newClaimLedger(logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		claimNumber := evt.GetPayloadString("claim_number")
		if claimNumber == "" {
			return fmt.Errorf("claim event %s has no claim number", evt.ID)
		}

		logger.Info("Claim submitted",
			zap.String("session_id", evt.SessionID),
			zap.String("claim_number", claimNumber),
			zap.String("reference_number", evt.GetPayloadString("reference_number")),
			zap.Float64("total_amount", evt.GetPayloadFloat("total_amount")))
		return nil
	}
}

func flatten(payload map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(payload)*2)
	for k, v := range payload {
		kv = append(kv, k, v)
	}
	return kv
}
