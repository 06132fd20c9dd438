package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bgalvandev/clinicsay-migrations/engine"
	"github.com/bgalvandev/clinicsay-migrations/pkg/metrics"
)

// HealthChecker is what the health endpoint probes.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Environment  string
}

// Server is the thin HTTP surface over the migration engine: trigger a
// run, poll its report, inspect health. Request handling stays out of the
// engine; all it does here is translate HTTP to engine calls.
type Server struct {
	config       ServerConfig
	orchestrator *engine.Orchestrator
	registry     *engine.RunRegistry
	catalog      map[string]*engine.EntityMigration
	health       HealthChecker
	logger       *zap.Logger
	metrics      *metrics.Metrics
	httpServer   *http.Server
}

// NewServer builds the server and its routes.
func NewServer(config ServerConfig, orchestrator *engine.Orchestrator, registry *engine.RunRegistry, catalog map[string]*engine.EntityMigration, health HealthChecker, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:       config,
		orchestrator: orchestrator,
		registry:     registry,
		catalog:      catalog,
		health:       health,
		logger:       logger.With(zap.String("component", "http_server")),
		metrics:      m,
	}

	if config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	if m != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/migrations", s.handleListMigrations)
		v1.POST("/migrations/:entity", s.handleStartMigration)
		v1.GET("/migrations/runs", s.handleListRuns)
		v1.GET("/migrations/runs/:id", s.handleGetRun)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleListMigrations(c *gin.Context) {
	entities := make([]string, 0, len(s.catalog))
	for name := range s.catalog {
		entities = append(entities, name)
	}
	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

// handleStartMigration kicks one entity migration asynchronously and
// returns the run id for polling. Runs for the same entity are not
// serialized here; callers own that policy.
func (s *Server) handleStartMigration(c *gin.Context) {
	name := c.Param("entity")
	migration, ok := s.catalog[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown entity %q", name)})
		return
	}

	runID := uuid.New()

	go func() {
		// The run outlives the request; it gets its own context. The
		// orchestrator publishes start and completion to the registry.
		if _, err := s.orchestrator.RunWithID(context.Background(), migration, runID); err != nil {
			s.logger.Error("Migration run failed",
				zap.String("entity", migration.Entity),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "entity": migration.Entity})
}

func (s *Server) handleListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.registry.List()})
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	entry, ok := s.registry.Get(runID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	c.JSON(http.StatusOK, entry)
}
