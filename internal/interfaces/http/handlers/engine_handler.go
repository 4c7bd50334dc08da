package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/stockscan/internal/batch"
	"github.com/turtacn/stockscan/pkg/errors"
)

// EngineSource is the part of batch.Engine the admin API reads.
type EngineSource interface {
	Stats() batch.Counters
	LastRunOverview() (interface{}, bool)
}

type StatsResponse struct {
	Engine batch.Counters `json:"engine"`
	Worker interface{}    `json:"worker,omitempty"`
}

type EngineHandler struct {
	engine EngineSource
	worker func() interface{}
}

// NewEngineHandler serves engine counters. worker, when non-nil, adds the
// Kafka worker's own counters to /v1/stats.
func NewEngineHandler(engine EngineSource, worker func() interface{}) *EngineHandler {
	return &EngineHandler{engine: engine, worker: worker}
}

func (h *EngineHandler) Stats(c *gin.Context) {
	resp := StatsResponse{Engine: h.engine.Stats()}
	if h.worker != nil {
		resp.Worker = h.worker()
	}
	c.JSON(http.StatusOK, resp)
}

// LastRun returns the most recent run summary without per-item results.
func (h *EngineHandler) LastRun(c *gin.Context) {
	overview, ok := h.engine.LastRunOverview()
	if !ok {
		writeAppError(c, errors.NotFound("no run has completed yet"))
		return
	}
	c.JSON(http.StatusOK, overview)
}
