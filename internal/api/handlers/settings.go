package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/logging"
)

type SettingsHandler struct {
	cfg        *config.Config
	configPath string
}

type SettingsPayload struct {
	Security   config.SecurityConfig   `json:"security"`
	Logging    config.LoggingConfig    `json:"logging"`
	Supervisor config.SupervisorConfig `json:"supervisor"`
	Metrics    config.MetricsConfig    `json:"metrics"`
}

type SettingsResponse struct {
	Security        config.SecurityConfig   `json:"security"`
	Logging         config.LoggingConfig    `json:"logging"`
	Supervisor      config.SupervisorConfig `json:"supervisor"`
	Metrics         config.MetricsConfig    `json:"metrics"`
	Archive         config.ArchiveConfig    `json:"archive"`
	ActiveLogLevel  string                  `json:"active_log_level"`
	RequiresRestart bool                    `json:"requires_restart"`
}

func NewSettingsHandler(cfg *config.Config, configPath string) *SettingsHandler {
	return &SettingsHandler{
		cfg:        cfg,
		configPath: configPath,
	}
}

func (h *SettingsHandler) response() SettingsResponse {
	return SettingsResponse{
		Security:        h.cfg.Security,
		Logging:         h.cfg.Logging,
		Supervisor:      h.cfg.Supervisor,
		Metrics:         h.cfg.Metrics,
		Archive:         h.cfg.Archive,
		ActiveLogLevel:  strings.ToLower(logging.Level().String()),
		RequiresRestart: true,
	}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.response())
}

// UpdateSettings saves the settings to the config file. Only the log level
// takes effect immediately; everything else applies after a restart.
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var payload SettingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload.Security.CORS.AllowedOrigins = normalizeList(payload.Security.CORS.AllowedOrigins)
	payload.Security.CORS.AllowedMethods = normalizeList(payload.Security.CORS.AllowedMethods)

	if payload.Metrics.PersistInterval <= 0 {
		payload.Metrics.PersistInterval = h.cfg.Metrics.PersistInterval
	}
	if payload.Metrics.RetentionDays <= 0 {
		payload.Metrics.RetentionDays = h.cfg.Metrics.RetentionDays
	}
	if strings.TrimSpace(payload.Security.SSH.KnownHostsPath) == "" {
		payload.Security.SSH.KnownHostsPath = h.cfg.Security.SSH.KnownHostsPath
	}

	updated := *h.cfg
	updated.Security = payload.Security
	updated.Logging = payload.Logging
	updated.Supervisor = payload.Supervisor
	updated.Metrics = payload.Metrics

	if err := updated.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := config.Save(&updated, h.configPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings", "details": err.Error()})
		return
	}

	h.cfg.Security = updated.Security
	h.cfg.Logging = updated.Logging
	h.cfg.Supervisor = updated.Supervisor
	h.cfg.Metrics = updated.Metrics

	if h.cfg.Logging.Level != "" {
		logging.SetLevel(h.cfg.Logging.Level)
	}

	c.JSON(http.StatusOK, h.response())
}

func normalizeList(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	return clean
}
