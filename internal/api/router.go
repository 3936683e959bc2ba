package api

import (
	"context"
	"fmt"
	"net/http"

	"dbgate/internal/config"
	"dbgate/internal/database"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker checks every configured database
type HealthChecker interface {
	HealthCheck(ctx context.Context) (map[string]*database.HealthCheckResult, error)
}

// Router serves the metrics and health endpoints
type Router struct {
	engine   *gin.Engine
	config   *config.Config
	checker  HealthChecker
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewRouter creates and configures a new router. Metrics are mounted at
// the configured path when enabled and gatherer is set.
func NewRouter(cfg *config.Config, checker HealthChecker, gatherer prometheus.Gatherer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Set gin mode based on config
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		config:   cfg,
		checker:  checker,
		gatherer: gatherer,
		logger:   logger,
	}

	r.engine.Use(requestID())
	r.engine.Use(requestLogger(logger))
	r.engine.Use(recovery(logger))

	r.setupRoutes()
	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	if r.config.Metrics.Enabled && r.gatherer != nil {
		r.engine.GET(r.config.Metrics.Path,
			gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	r.engine.GET("/health", r.health)
	r.engine.GET("/health/:name", r.healthOne)
}

// health reports every database; 503 unless all of them are serving
func (r *Router) health(c *gin.Context) {
	results, err := r.checker.HealthCheck(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, err)
		return
	}

	for _, res := range results {
		if !res.Status.Serving() {
			respond(c, http.StatusServiceUnavailable, "unhealthy", results)
			return
		}
	}
	respond(c, http.StatusOK, "healthy", results)
}

func (r *Router) healthOne(c *gin.Context) {
	name := c.Param("name")

	results, err := r.checker.HealthCheck(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, err)
		return
	}

	res, ok := results[name]
	if !ok {
		notFound(c, fmt.Errorf("database %s not configured", name))
		return
	}
	if !res.Status.Serving() {
		respond(c, http.StatusServiceUnavailable, string(res.Status), res)
		return
	}
	respond(c, http.StatusOK, string(res.Status), res)
}
