package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/unreal-server-manager/internal/logging"
)

// ActivityHandler serves the recorded lifecycle history
type ActivityHandler struct {
	activityLogger *logging.ActivityLogger
}

func NewActivityHandler(activityLogger *logging.ActivityLogger) *ActivityHandler {
	return &ActivityHandler{activityLogger: activityLogger}
}

// ListActivities returns activities filtered by server, type and time
func (h *ActivityHandler) ListActivities(c *gin.Context) {
	var since time.Time
	if c.Query("since") != "" {
		parsed, err := querySince(c, 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter"})
			return
		}
		since = parsed
	}

	activities, err := h.activityLogger.GetActivities(c.Query("server_id"), c.Query("type"), since, queryInt(c, "limit", 100, 1000))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

// GetServerActivity returns the newest activities of one server
func (h *ActivityHandler) GetServerActivity(c *gin.Context) {
	activities, err := h.activityLogger.GetServerActivities(c.Param("id"), queryInt(c, "limit", 50, 1000))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

// GetServerRuns returns the recorded process runs of one server
func (h *ActivityHandler) GetServerRuns(c *gin.Context) {
	runs, err := h.activityLogger.GetRuns(c.Param("id"), queryInt(c, "limit", 20, 500))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetServerActivityStats counts activities per type over a window
func (h *ActivityHandler) GetServerActivityStats(c *gin.Context) {
	since, err := querySince(c, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter"})
		return
	}

	stats, err := h.activityLogger.GetActivityStats(c.Param("id"), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": c.Param("id"), "since": since, "counts": stats})
}
