// Package api provides the HTTP routes and handlers
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	core "kadmin/internal/service"
	"kadmin/pkg/config"
)

// startTime records when the process started
var startTime = time.Now()

// BreakerReporter reports the circuit breaker state of a broker
type BreakerReporter interface {
	BreakerState(brokerURL string) string
}

// Dependencies holds all dependencies required by the API handlers
type Dependencies struct {
	Config    *config.Config
	Consumers *core.ConsumerService
	Sweeper   *core.Sweeper
	HostStats *core.HostStatsCollector
	Auth      *core.Authenticator
	Breakers  BreakerReporter
}

// NewEngine creates a gin engine with the shared middleware and every route registered
func NewEngine(deps *Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(core.RequestLogger(), core.Recovery())
	SetupRouter(r, deps)
	return r
}

// SetupRouter configures all API routes
func SetupRouter(r *gin.Engine, deps *Dependencies) {
	r.GET("/health", healthHandler(deps))

	requireAuth := AuthMiddleware(deps.Auth)

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", loginHandler(deps.Auth))
	}

	consumers := NewConsumerHandler(deps.Consumers)

	kafkaGroup := r.Group("/api/kafka")
	{
		kafkaGroup.GET("/read/:topic", consumers.Read)
		kafkaGroup.GET("/count/:topic", consumers.Count)
		kafkaGroup.GET("/tail/:topic", consumers.Tail)
		kafkaGroup.DELETE("/read/:topic", requireAuth, consumers.Clear)
		kafkaGroup.DELETE("/read/:topic/kill", requireAuth, consumers.Kill)
	}

	// clear and kill were historically served under /api/avro
	avroGroup := r.Group("/api/avro")
	avroGroup.Use(requireAuth)
	{
		avroGroup.DELETE("/read/:topic", consumers.Clear)
		avroGroup.DELETE("/read/:topic/kill", consumers.Kill)
	}

	manager := NewManagerHandler(deps)
	managerGroup := r.Group("/api/manager")
	{
		managerGroup.GET("/consumers", manager.Consumers)
		managerGroup.DELETE("/consumers", requireAuth, manager.KillConsumer)
		managerGroup.GET("/stats", manager.Stats)
		managerGroup.POST("/sweep", requireAuth, manager.Sweep)
	}

	r.GET("/api/deserializers", consumers.Decoders)
}

// healthHandler GET /health
func healthHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		checks := gin.H{}

		if deps.Sweeper != nil {
			sweep := deps.Sweeper.Stats()
			checks["sweeper"] = gin.H{"running": sweep.Running}
			if !sweep.Running {
				status = "degraded"
			}
		}
		if deps.Consumers != nil {
			checks["consumers"] = gin.H{"active": deps.Consumers.PoolSize()}
		}

		core.Success(c, gin.H{
			"status":         status,
			"uptime_seconds": int64(time.Since(startTime).Seconds()),
			"checks":         checks,
		})
	}
}
