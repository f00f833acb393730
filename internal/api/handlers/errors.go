package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/unreal-server-manager/internal/archive"
	"github.com/yourusername/unreal-server-manager/internal/process"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

var errArchivingDisabled = errors.New("log archiving is disabled")
var errMetricsDisabled = errors.New("metrics persistence is disabled")

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	var launchErr *process.LaunchError
	switch {
	case errors.Is(err, supervisor.ErrServerNotFound),
		errors.Is(err, archive.ErrArchiveNotFound):
		status = http.StatusNotFound
	case errors.Is(err, supervisor.ErrServerBusy),
		errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, supervisor.ErrDuplicateID),
		errors.Is(err, archive.ErrNothingToArchive):
		status = http.StatusConflict
	case errors.As(err, &launchErr):
		status = http.StatusUnprocessableEntity
		body["kind"] = launchErr.Kind
	case errors.Is(err, supervisor.ErrShuttingDown),
		errors.Is(err, archive.ErrNoDestinations),
		errors.Is(err, errArchivingDisabled),
		errors.Is(err, errMetricsDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, supervisor.ErrInvalidConfig):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.JSON(status, body)
}

func queryInt(c *gin.Context, key string, def, max int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func queryBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.Query(key))
	return b
}

// querySince accepts either a duration back from now ("6h") or an RFC3339
// timestamp.
func querySince(c *gin.Context, def time.Duration) (time.Time, error) {
	raw := strings.TrimSpace(c.Query("since"))
	if raw == "" {
		return time.Now().Add(-def), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}
