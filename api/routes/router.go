// api/routes/router.go
package routes

import (
	"context"
	"net/http"
	"time"

	"clubsched/internal/bookings"
	"clubsched/internal/sessions"
	"clubsched/internal/shared/config"
	"clubsched/internal/shared/metrics"
	"clubsched/internal/shared/middleware"

	"github.com/gin-gonic/gin"
)

const serviceName = "clubsched-engine"

// HealthChecker pings the backing stores
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// JobReporter exposes a background job's state on /status
type JobReporter interface {
	GetJobStatus() map[string]interface{}
}

// Handlers are the domain controllers mounted under the API prefix
type Handlers struct {
	Sessions sessions.Controller
	Bookings *bookings.Controller
}

// Router holds all route dependencies
type Router struct {
	config   *config.Config
	health   HealthChecker
	metrics  *metrics.Metrics
	handlers Handlers
	jobs     map[string]JobReporter
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, health HealthChecker, m *metrics.Metrics, handlers Handlers, jobs map[string]JobReporter) *Router {
	return &Router{
		config:   cfg,
		health:   health,
		metrics:  m,
		handlers: handlers,
		jobs:     jobs,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	r.setupHealthRoutes(engine)

	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	api := engine.Group(r.config.GetAPIBasePath())
	api.Use(middleware.Tenant(false))
	{
		sessions.SetupSessionRoutes(api, r.handlers.Sessions)
		bookings.SetupBookingRoutes(api, r.handlers.Bookings)
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		if r.health != nil {
			if err := r.health.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "unhealthy",
					"error":     err.Error(),
					"timestamp": time.Now(),
					"service":   serviceName,
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   serviceName,
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		jobs := make(gin.H, len(r.jobs))
		for name, job := range r.jobs {
			if job != nil {
				jobs[name] = job.GetJobStatus()
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":        "operational",
			"api_version":   r.config.APIVersion,
			"store_backend": r.config.StoreBackend,
			"lock_backend":  r.config.Lock.Backend,
			"jobs":          jobs,
			"timestamp":     time.Now(),
		})
	})
}
