// Package httpapi provides the HTTP API for taskd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/docstore"
	"github.com/fyrsmithlabs/taskd/internal/fault"
	"github.com/fyrsmithlabs/taskd/internal/pipeline"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// Server provides HTTP endpoints for taskd.
type Server struct {
	echo   *echo.Echo
	tasks  task.Store
	docs   docstore.Store
	orc    *pipeline.Orchestrator
	base   context.Context
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps are the services the API surface exposes.
type Deps struct {
	Tasks task.Store
	Docs  docstore.Store
	Orc   *pipeline.Orchestrator

	// Base is the context background task runs inherit. Execute
	// detaches runs from the request context; Base bounds their
	// lifetime instead. Defaults to context.Background().
	Base context.Context
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Tasks == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if deps.Docs == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if deps.Orc == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}
	base := deps.Base
	if base == nil {
		base = context.Background()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		tasks:  deps.Tasks,
		docs:   deps.Docs,
		orc:    deps.Orc,
		base:   base,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and Prometheus scrape target
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleSubmitTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.POST("/tasks/:id/execute", s.handleExecuteTask)
	v1.POST("/tasks/:id/cancel", s.handleCancelTask)
	v1.GET("/collections", s.handleListCollections)
	v1.GET("/collections/:name/query", s.handleQueryCollection)
	v1.GET("/collections/:name/documents", s.handleListDocuments)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmitTask creates a new task in submitted state.
func (s *Server) handleSubmitTask(c echo.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid submit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title field is required")
	}

	t := task.New(title, strings.TrimSpace(req.Description))
	t.UseEnhanced = req.UseEnhanced
	t.CreatePR = req.CreatePR

	if err := s.tasks.Create(c.Request().Context(), t); err != nil {
		return s.fail(c, err)
	}

	s.logger.Info("task submitted",
		zap.String("task_id", t.ID),
		zap.String("title", t.Title),
	)
	return c.JSON(http.StatusCreated, t)
}

// handleListTasks returns all tasks in submission order.
func (s *Server) handleListTasks(c echo.Context) error {
	tasks, err := s.tasks.List(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Count: len(tasks)})
}

// handleGetTask returns one task with its full log and plan.
func (s *Server) handleGetTask(c echo.Context) error {
	t, err := s.tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// handleExecuteTask starts the task's run in the background and
// answers 202 with the task already in analyzing state.
func (s *Server) handleExecuteTask(c echo.Context) error {
	id := c.Param("id")
	if err := s.orc.Start(s.base, id); err != nil {
		return s.fail(c, err)
	}

	t, err := s.tasks.Get(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, t)
}

// handleCancelTask requests cancellation. In-flight runs stop at the
// next phase boundary; idle tasks are cancelled directly.
func (s *Server) handleCancelTask(c echo.Context) error {
	id := c.Param("id")
	if err := s.orc.Cancel(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}

	t, err := s.tasks.Get(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, t)
}

// handleListCollections returns the names of all knowledge collections.
func (s *Server) handleListCollections(c echo.Context) error {
	names, err := s.docs.ListCollections(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, CollectionsResponse{Collections: names, Count: len(names)})
}

// handleQueryCollection scores a collection's documents against the q
// parameter. An optional type parameter filters on document type.
func (s *Server) handleQueryCollection(c echo.Context) error {
	opts := docstore.QueryOptions{
		Query: c.QueryParam("q"),
		Limit: intParam(c, "limit", 0),
	}
	if typ := c.QueryParam("type"); typ != "" {
		opts.Filters = map[string]any{"type": typ}
	}

	results, err := s.docs.Query(c.Request().Context(), c.Param("name"), opts)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, QueryResponse{Results: results, Count: len(results)})
}

// handleListDocuments returns one page of a collection.
func (s *Server) handleListDocuments(c echo.Context) error {
	opts := docstore.PageOptions{
		Limit:   intParam(c, "limit", 0),
		Page:    intParam(c, "page", 0),
		SortBy:  c.QueryParam("sort_by"),
		SortDir: c.QueryParam("sort_dir"),
	}

	page, err := s.docs.GetPaged(c.Request().Context(), c.Param("name"), opts)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// fail maps fault codes to HTTP statuses and renders the error body.
func (s *Server) fail(c echo.Context, err error) error {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err),
		)
	}
	return c.JSON(status, ErrorResponse{
		Error:  err.Error(),
		Code:   string(fault.CodeOf(err)),
		Fields: fault.FieldsOf(err),
	})
}

func statusOf(err error) int {
	switch fault.CodeOf(err) {
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeValidation, fault.CodeSecurity:
		return http.StatusBadRequest
	case fault.CodeTaskRunning:
		return http.StatusConflict
	case fault.CodeLockTimeout:
		return http.StatusServiceUnavailable
	case fault.CodeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func intParam(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
