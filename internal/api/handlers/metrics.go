package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/unreal-server-manager/internal/metrics"
	"github.com/yourusername/unreal-server-manager/internal/sampler"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

// MetricsHandler serves live and persisted resource samples
type MetricsHandler struct {
	supervisor *supervisor.Supervisor
	recorder   *metrics.Recorder
}

// NewMetricsHandler creates a metrics handler. recorder may be nil when
// persistence is disabled.
func NewMetricsHandler(sup *supervisor.Supervisor, recorder *metrics.Recorder) *MetricsHandler {
	return &MetricsHandler{supervisor: sup, recorder: recorder}
}

// GetLatestMetrics returns the newest sample of a running server. A server
// that is not running, or has not been sampled yet, reports available=false.
func (h *MetricsHandler) GetLatestMetrics(c *gin.Context) {
	serverID := c.Param("id")
	sample, ok, err := h.supervisor.LatestMetrics(serverID)
	if err != nil {
		respondError(c, err)
		return
	}

	response := gin.H{"server_id": serverID, "available": ok}
	if ok {
		response["sample"] = sample
	}
	c.JSON(http.StatusOK, response)
}

// GetLiveMetrics returns the in-memory sample history of a server
func (h *MetricsHandler) GetLiveMetrics(c *gin.Context) {
	serverID := c.Param("id")
	samples, err := h.supervisor.MetricsHistory(serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": serverID, "samples": samples})
}

// GetAllLatestMetrics returns the newest sample of every running server
func (h *MetricsHandler) GetAllLatestMetrics(c *gin.Context) {
	latest := make(map[string]sampler.Sample)
	for _, info := range h.supervisor.ListServers() {
		if info.Metrics != nil {
			latest[info.Config.ID] = *info.Metrics
		}
	}
	c.JSON(http.StatusOK, latest)
}

// GetMetricsHistory returns persisted samples, oldest first
func (h *MetricsHandler) GetMetricsHistory(c *gin.Context) {
	if h.recorder == nil {
		respondError(c, errMetricsDisabled)
		return
	}

	since, err := querySince(c, time.Hour)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter"})
		return
	}

	serverID := c.Param("id")
	points, err := h.recorder.History(serverID, since, queryInt(c, "limit", 1000, 10000))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": serverID, "since": since, "points": points})
}

// GetMetricsSummary aggregates persisted samples over a window
func (h *MetricsHandler) GetMetricsSummary(c *gin.Context) {
	if h.recorder == nil {
		respondError(c, errMetricsDisabled)
		return
	}

	since, err := querySince(c, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter"})
		return
	}

	summary, err := h.recorder.Summarize(c.Param("id"), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
