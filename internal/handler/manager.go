package api

import (
	"github.com/gin-gonic/gin"

	core "kadmin/internal/service"
)

// ManagerHandler serves the pool inspection and maintenance endpoints
type ManagerHandler struct {
	deps *Dependencies
}

// NewManagerHandler creates a ManagerHandler
func NewManagerHandler(deps *Dependencies) *ManagerHandler {
	return &ManagerHandler{deps: deps}
}

// Consumers GET /api/manager/consumers
func (h *ManagerHandler) Consumers(c *gin.Context) {
	core.SuccessPage(c, h.deps.Consumers.ListConsumers())
}

// KillConsumer DELETE /api/manager/consumers?key=<key from the listing>
func (h *ManagerHandler) KillConsumer(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		core.FailWithMessage(c, core.ErrInvalidParam, "key is required")
		return
	}

	killed, err := h.deps.Consumers.KillKey(key)
	if err != nil {
		core.HandleError(c, err)
		return
	}
	core.Success(c, gin.H{"killed": killed})
}

// Sweep POST /api/manager/sweep
func (h *ManagerHandler) Sweep(c *gin.Context) {
	if h.deps.Sweeper == nil {
		core.FailWithCode(c, core.ErrSchedulerNotRunning)
		return
	}

	report := h.deps.Sweeper.RunNow()
	logger := core.WithRequestID(c)
	logger.Info().Int("evicted", len(report.Evicted)).Msg("Manual sweep finished")
	core.Success(c, report)
}

// Stats GET /api/manager/stats
func (h *ManagerHandler) Stats(c *gin.Context) {
	data := gin.H{
		"pool_size": h.deps.Consumers.PoolSize(),
	}

	if h.deps.Sweeper != nil {
		data["sweeper"] = h.deps.Sweeper.Stats()
	}
	if h.deps.HostStats != nil {
		data["host"] = h.deps.HostStats.Collect()
	}
	if h.deps.Breakers != nil {
		data["breakers"] = h.breakerStates()
	}

	core.Success(c, data)
}

// breakerStates reports one state per distinct broker in the pool
func (h *ManagerHandler) breakerStates() map[string]string {
	states := make(map[string]string)
	for _, info := range h.deps.Consumers.ListConsumers().Content {
		if _, ok := states[info.Broker]; !ok {
			states[info.Broker] = h.deps.Breakers.BreakerState(info.Broker)
		}
	}
	return states
}
