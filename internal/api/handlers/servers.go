package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/logging"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

// ServerHandler handles server management and lifecycle requests
type ServerHandler struct {
	supervisor     *supervisor.Supervisor
	serverManager  *config.ServerManager
	activityLogger *logging.ActivityLogger
	onRemove       []func(serverID string)
	pendingOps     sync.WaitGroup
}

// ServerResponse is a managed server together with its stored definition.
type ServerResponse struct {
	supervisor.ServerInfo
	Params    string `json:"params,omitempty"`
	AutoStart bool   `json:"auto_start"`
}

// NewServerHandler creates a new server handler
func NewServerHandler(sup *supervisor.Supervisor, serverManager *config.ServerManager, activityLogger *logging.ActivityLogger) *ServerHandler {
	return &ServerHandler{
		supervisor:     sup,
		serverManager:  serverManager,
		activityLogger: activityLogger,
	}
}

// OnRemove registers a callback run after a server has been deleted.
func (h *ServerHandler) OnRemove(fn func(serverID string)) {
	h.onRemove = append(h.onRemove, fn)
}

// WaitForCompletion waits for all pending background operations to finish
func (h *ServerHandler) WaitForCompletion() {
	h.pendingOps.Wait()
}

func (h *ServerHandler) response(info supervisor.ServerInfo) ServerResponse {
	resp := ServerResponse{ServerInfo: info}
	if def, ok := h.serverManager.GetByID(info.Config.ID); ok {
		resp.Params = def.Params
		resp.AutoStart = def.AutoStart
	}
	return resp
}

// ListServers returns all servers with their current state
func (h *ServerHandler) ListServers(c *gin.Context) {
	infos := h.supervisor.ListServers()
	response := make([]ServerResponse, 0, len(infos))
	for _, info := range infos {
		response = append(response, h.response(info))
	}
	c.JSON(http.StatusOK, response)
}

// GetServer returns a specific server
func (h *ServerHandler) GetServer(c *gin.Context) {
	info, err := h.supervisor.GetServer(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.response(info))
}

// CreateServer registers and persists a new server definition
func (h *ServerHandler) CreateServer(c *gin.Context) {
	var newServer config.ServerDefinition
	if err := c.ShouldBindJSON(&newServer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if newServer.ID == "" {
		newServer.ID = uuid.NewString()
	} else {
		parsed, err := uuid.Parse(newServer.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("id %q is not a UUID", newServer.ID)})
			return
		}
		newServer.ID = parsed.String()
	}

	if err := config.ValidateServerDefinition(&newServer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	serverConfig, err := newServer.ToServerConfig()
	if err != nil {
		respondError(c, err)
		return
	}

	if _, err := h.supervisor.AddServer(serverConfig); err != nil {
		respondError(c, err)
		return
	}

	if _, err := h.serverManager.Add(newServer); err != nil {
		h.supervisor.RemoveServer(newServer.ID)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if err := h.serverManager.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save servers", "details": err.Error()})
		return
	}

	h.logConfigUpdate(newServer.ID, "create")

	info, err := h.supervisor.GetServer(newServer.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.response(info))
}

// UpdateServer replaces the definition of a server that is not running
func (h *ServerHandler) UpdateServer(c *gin.Context) {
	serverID := c.Param("id")
	if _, found := h.serverManager.GetByID(serverID); !found {
		respondError(c, fmt.Errorf("%w: %s", supervisor.ErrServerNotFound, serverID))
		return
	}

	var updatedServer config.ServerDefinition
	if err := c.ShouldBindJSON(&updatedServer); err != nil {
		log.Printf("[UpdateServer] Failed to bind JSON for server %s: %v", serverID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updatedServer.ID = serverID

	if err := config.ValidateServerDefinition(&updatedServer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	serverConfig, err := updatedServer.ToServerConfig()
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.supervisor.UpdateServer(serverConfig); err != nil {
		respondError(c, err)
		return
	}

	if err := h.serverManager.Update(updatedServer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.serverManager.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save servers", "details": err.Error()})
		return
	}

	h.logConfigUpdate(serverID, "update")

	info, err := h.supervisor.GetServer(serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.response(info))
}

// DeleteServer removes a stopped server
func (h *ServerHandler) DeleteServer(c *gin.Context) {
	serverID := c.Param("id")

	if err := h.supervisor.RemoveServer(serverID); err != nil {
		respondError(c, err)
		return
	}

	if err := h.serverManager.Delete(serverID); err != nil {
		log.Printf("[DeleteServer] Server %s was not persisted: %v", serverID, err)
	} else if err := h.serverManager.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save servers", "details": err.Error()})
		return
	}

	for _, fn := range h.onRemove {
		fn(serverID)
	}
	h.logConfigUpdate(serverID, "delete")

	c.JSON(http.StatusOK, gin.H{"message": "Server deleted", "id": serverID})
}

// StartServer launches a server. The call returns once the process has
// been created, so launch failures are reported directly.
func (h *ServerHandler) StartServer(c *gin.Context) {
	serverID := c.Param("id")

	if err := h.supervisor.Start(c.Request.Context(), serverID); err != nil {
		log.Printf("[API] Failed to start server %s: %v", serverID, err)
		respondError(c, err)
		return
	}

	h.respondStatus(c, http.StatusOK, serverID)
}

// StopServer stops a running server. Unless wait=true is given the stop
// continues in the background and 202 is returned.
func (h *ServerHandler) StopServer(c *gin.Context) {
	serverID := c.Param("id")

	status, err := h.supervisor.GetStatus(serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	if status != supervisor.StatusRunning {
		respondError(c, fmt.Errorf("%w: %s is %s", supervisor.ErrNotRunning, serverID, status))
		return
	}

	if queryBool(c, "wait") {
		// A client disconnect must not cut the grace period short.
		if err := h.supervisor.Stop(context.WithoutCancel(c.Request.Context()), serverID); err != nil {
			respondError(c, err)
			return
		}
		h.respondStatus(c, http.StatusOK, serverID)
		return
	}

	h.background(serverID, "stop", func() error {
		return h.supervisor.Stop(context.Background(), serverID)
	})
	c.JSON(http.StatusAccepted, gin.H{"message": "Server stop initiated", "server_id": serverID, "status": supervisor.StatusStopping})
}

// RestartServer stops the server if needed and starts it again
func (h *ServerHandler) RestartServer(c *gin.Context) {
	serverID := c.Param("id")

	if _, err := h.supervisor.GetStatus(serverID); err != nil {
		respondError(c, err)
		return
	}

	if queryBool(c, "wait") {
		if err := h.supervisor.Restart(context.WithoutCancel(c.Request.Context()), serverID); err != nil {
			respondError(c, err)
			return
		}
		h.respondStatus(c, http.StatusOK, serverID)
		return
	}

	h.background(serverID, "restart", func() error {
		return h.supervisor.Restart(context.Background(), serverID)
	})
	c.JSON(http.StatusAccepted, gin.H{"message": "Server restart initiated", "server_id": serverID})
}

// GetServerStatus returns the current lifecycle state of a server
func (h *ServerHandler) GetServerStatus(c *gin.Context) {
	h.respondStatus(c, http.StatusOK, c.Param("id"))
}

func (h *ServerHandler) respondStatus(c *gin.Context, code int, serverID string) {
	info, err := h.supervisor.GetServer(serverID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(code, gin.H{
		"server_id":      serverID,
		"status":         info.Status,
		"pid":            info.PID,
		"started_at":     info.StartedAt,
		"uptime_seconds": info.UptimeSeconds,
		"effective_port": info.EffectivePort,
		"last_exit":      info.LastExit,
		"last_error":     info.LastError,
	})
}

func (h *ServerHandler) background(serverID, op string, fn func() error) {
	h.pendingOps.Add(1)
	go func() {
		defer h.pendingOps.Done()
		if err := fn(); err != nil {
			log.Printf("[API] Failed to %s server %s: %v", op, serverID, err)
			return
		}
		log.Printf("[API] Server %s %s completed", serverID, op)
	}()
}

func (h *ServerHandler) logConfigUpdate(serverID, action string) {
	if h.activityLogger == nil {
		return
	}
	if err := h.activityLogger.LogConfigUpdate(serverID, action); err != nil {
		log.Printf("[API] Failed to log config update for %s: %v", serverID, err)
	}
}
