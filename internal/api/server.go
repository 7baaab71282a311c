// Package api serves the quantization engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/samcharles93/quanta/internal/algo"
	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/version"
)

var tracer = otel.Tracer("quanta/api")

type Server struct {
	registry *algo.Registry
	store    *JobStore
	defaults algo.Options
	root     string
	log      logger.Logger
	clock    func() time.Time
}

// Config wires a Server. Defaults fills any job option a request leaves
// unset. Job model and output paths are relative to Root, which defaults to
// the working directory; nothing outside it is read or written.
type Config struct {
	Registry *algo.Registry
	Store    *JobStore
	Defaults algo.Options
	Root     string
	Logger   logger.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = algo.DefaultRegistry()
	}
	if cfg.Store == nil {
		cfg.Store = NewJobStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	return &Server{
		registry: cfg.Registry,
		store:    cfg.Store,
		defaults: cfg.Defaults,
		root:     cfg.Root,
		log:      cfg.Logger,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID())

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// numeric engine
	e.POST("/v1/ranges", s.handleRanges)
	e.POST("/v1/scale-zp", s.handleScaleZP)
	e.POST("/v1/quantize", s.handleQuantize)
	e.POST("/v1/dequantize", s.handleDequantize)
	e.POST("/v1/group-quantize", s.handleGroupQuantize)
	e.POST("/v1/check", s.handleCheck)

	// graph jobs
	e.GET("/v1/algorithms", s.handleAlgorithms)
	e.POST("/v1/jobs", s.handleCreateJob)
	e.GET("/v1/jobs/:id", s.handleGetJob)
	e.DELETE("/v1/jobs/:id", s.handleDeleteJob)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeBody(c, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    version.String(),
		Algorithms: s.registry.Names(),
	})
}

func (s *Server) handleAlgorithms(c *echo.Context) error {
	return writeBody(c, http.StatusOK, map[string][]string{"algorithms": s.registry.Names()})
}
