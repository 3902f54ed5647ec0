package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/completion"
	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/httpapi"
	"github.com/fyrsmithlabs/taskd/internal/knowledge"
	"github.com/fyrsmithlabs/taskd/internal/locking"
	"github.com/fyrsmithlabs/taskd/internal/logging"
	"github.com/fyrsmithlabs/taskd/internal/monitor"
	"github.com/fyrsmithlabs/taskd/internal/pipeline"
	"github.com/fyrsmithlabs/taskd/internal/roles"
	"github.com/fyrsmithlabs/taskd/internal/services"
	"github.com/fyrsmithlabs/taskd/internal/steps"
	"github.com/fyrsmithlabs/taskd/internal/task"
	"github.com/fyrsmithlabs/taskd/internal/telemetry"
	"github.com/fyrsmithlabs/taskd/internal/vcs"
)

// configPath is the config file the serve command loads.
var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskd daemon",
	Long: `Start the taskd HTTP server and, when enabled, the inbox monitor.

Examples:
  # Start with defaults
  taskd serve

  # Start with an explicit config file
  taskd serve --config /etc/taskd/config.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/taskd/config.yaml)")
}

// runServe handles the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Println("Server shutdown complete")
	return nil
}

// run starts the taskd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Opens the task and document stores
//  4. Builds the completion client and the git client
//  5. Wires the pipeline orchestrator and the inbox monitor
//  6. Starts the HTTP server
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context) error {
	// Load configuration
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize telemetry
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background()) // Uses the configured shutdown timeout
	}()

	// Initialize logger
	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	zl.Info("Starting taskd",
		zap.Int("port", cfg.Server.Port),
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("data_dir", cfg.Data.Dir),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	// Initialize infrastructure dependencies
	deps, err := initDependencies(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	zl.Info("Dependencies initialized",
		zap.String("workspace", cfg.Pipeline.Workspace),
		zap.Bool("telemetry", tel.IsEnabled()))

	// Initialize business services
	reg, err := initServices(ctx, cfg, deps, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	zl.Info("Services initialized",
		zap.String("completion_provider", cfg.Completion.Provider),
		zap.Bool("monitor_enabled", reg.Monitor() != nil))

	// Create HTTP server
	srv, err := httpapi.NewServer(httpapi.Deps{
		Tasks: reg.Tasks(),
		Docs:  reg.Docs(),
		Orc:   reg.Orchestrator(),
		Base:  ctx,
	}, zl, &httpapi.Config{Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Start inbox monitor (if enabled)
	if mon := reg.Monitor(); mon != nil {
		if err := mon.Start(ctx); err != nil {
			return fmt.Errorf("failed to start inbox monitor: %w", err)
		}
		defer mon.Stop()
	}

	zl.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	// Channel to receive server errors
	errCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		// Context cancelled, perform graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.Server.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		// The cancelled base context stops background runs at their
		// next phase boundary. Wait for their terminal status writes
		// to land before the deferred Close takes the stores away.
		if err := reg.Orchestrator().Drain(shutdownCtx); err != nil {
			zl.Warn("task runs still in flight at shutdown",
				zap.Strings("task_ids", reg.Orchestrator().RunningIDs()),
				zap.Error(err))
		}

		return http.ErrServerClosed
	}
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	locks  *locking.Manager
	tasks  task.Store
	docs   docstore.Store
	files  *docstore.FileWriter
	vcs    vcs.Client
	logger *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.tasks != nil {
		_ = d.tasks.Close()
	}
	if d.docs != nil {
		_ = d.docs.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync() // Best-effort sync
	}
}

// initLogger initializes the structured logger.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, err
	}
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Observability.LogFormat
	logCfg.Output.OTEL = cfg.Observability.EnableTelemetry
	// Services log through the raw zap logger, not the ctx wrapper.
	logCfg.Caller.Skip = 0
	logCfg.Fields["service"] = cfg.Observability.ServiceName
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Creates the lock manager shared by both stores
//  2. Opens the file-backed task and document stores
//  3. Roots the file writer at the pipeline workspace
//  4. Builds the git client for publishing
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	locks := locking.NewManager(cfg.Store.LockTimeout.Duration())

	tasks, err := task.NewStore(task.Config{
		Dir:         filepath.Join(cfg.Data.Dir, "tasks"),
		LockTimeout: cfg.Store.LockTimeout.Duration(),
	}, locks, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}

	docs, err := docstore.NewStore(docstore.Config{
		Dir:             filepath.Join(cfg.Data.Dir, "collections"),
		LockTimeout:     cfg.Store.LockTimeout.Duration(),
		MaxDocumentKB:   cfg.Store.MaxDocumentKB,
		DefaultPageSize: cfg.Store.DefaultPageSize,
		MaxPageSize:     cfg.Store.MaxPageSize,
	}, locks, logger)
	if err != nil {
		_ = tasks.Close()
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	files, err := docstore.NewFileWriter(cfg.Pipeline.Workspace, logger)
	if err != nil {
		_ = tasks.Close()
		_ = docs.Close()
		return nil, fmt.Errorf("failed to create file writer: %w", err)
	}

	git, err := vcs.NewGit(vcs.Config{
		Root:         cfg.Pipeline.Workspace,
		Remote:       cfg.VCS.Remote,
		Owner:        cfg.VCS.Owner,
		Repo:         cfg.VCS.Repo,
		CommitAuthor: cfg.VCS.CommitAuthor,
		CommitEmail:  cfg.VCS.CommitEmail,
		Token:        cfg.VCS.Token,
	}, logger)
	if err != nil {
		_ = tasks.Close()
		_ = docs.Close()
		return nil, fmt.Errorf("failed to create git client: %w", err)
	}

	return &dependencies{
		locks:  locks,
		tasks:  tasks,
		docs:   docs,
		files:  files,
		vcs:    git,
		logger: logger,
	}, nil
}

// initServices initializes all business services.
//
// Builds the role resolver, the completion client, the knowledge
// recorder, the step executor, the orchestrator, and the inbox
// monitor, then bundles them into a registry.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (services.Registry, error) {
	resolver, err := initRoles(cfg)
	if err != nil {
		return nil, err
	}

	client, err := initCompletion(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	recorder, err := knowledge.NewRecorder(deps.docs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge recorder: %w", err)
	}

	executor, err := steps.NewExecutor(resolver, client, deps.files, steps.Config{
		StepTimeout: cfg.Pipeline.StepTimeout.Duration(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create step executor: %w", err)
	}

	orc, err := pipeline.NewOrchestrator(pipeline.Deps{
		Tasks:    deps.tasks,
		Docs:     deps.docs,
		Recorder: recorder,
		Executor: executor,
		Client:   client,
		VCS:      deps.vcs,
		Files:    deps.files,
	}, pipeline.Config{
		MaxSteps:   cfg.Pipeline.MaxSteps,
		Push:       cfg.VCS.Push,
		Remote:     cfg.VCS.Remote,
		BaseBranch: cfg.VCS.BaseBranch,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon, err = monitor.New(monitor.Config{
			Dir:      cfg.InboxDir(),
			Debounce: cfg.Monitor.Debounce.Duration(),
		}, deps.tasks, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create inbox monitor: %w", err)
		}
	}

	return services.NewRegistry(services.Options{
		Tasks:        deps.tasks,
		Docs:         deps.docs,
		Files:        deps.files,
		Roles:        resolver,
		Completion:   client,
		VCS:          deps.vcs,
		Recorder:     recorder,
		Executor:     executor,
		Orchestrator: orc,
		Monitor:      mon,
	}), nil
}

// initRoles loads the role table, falling back to the built-in roles.
func initRoles(cfg *config.Config) (*roles.Resolver, error) {
	if cfg.Pipeline.RolesFile == "" {
		return roles.NewResolver(), nil
	}
	resolver, err := roles.LoadRolesFile(cfg.Pipeline.RolesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles file: %w", err)
	}
	return resolver, nil
}

// initCompletion builds the completion client for the configured
// provider. Scripted is always registered so dry runs work without
// credentials.
func initCompletion(ctx context.Context, cfg *config.Config, logger *zap.Logger) (completion.Client, error) {
	reg := completion.NewRegistry(cfg.Completion.Provider)
	reg.Register(config.ProviderScripted, completion.NewScripted())

	if cfg.Completion.OpenAIAPIKey.IsSet() || cfg.Completion.OpenAIBaseURL != "" {
		client, err := completion.NewOpenAIClient(completion.OpenAIConfig{
			BaseURL: cfg.Completion.OpenAIBaseURL,
			Model:   cfg.Completion.OpenAIModel,
			APIKey:  cfg.Completion.OpenAIAPIKey.Value(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		reg.Register(config.ProviderOpenAI, client)
	}

	if cfg.Completion.GeminiAPIKey.IsSet() {
		client, err := completion.NewGeminiClient(ctx, completion.GeminiConfig{
			Model:  cfg.Completion.GeminiModel,
			APIKey: cfg.Completion.GeminiAPIKey.Value(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		reg.Register(config.ProviderGemini, client)
	}

	var client completion.Client = reg
	if cfg.Completion.RequestsPerSecond > 0 {
		client = completion.NewRateLimited(client, cfg.Completion.RequestsPerSecond, cfg.Completion.Burst)
	}
	return client, nil
}
