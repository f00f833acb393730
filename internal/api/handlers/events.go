package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/unreal-server-manager/internal/api/middleware"
	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
	ws "github.com/yourusername/unreal-server-manager/internal/websocket"
)

// historyLines is how much retained output a new server stream replays.
const historyLines = 500

// EventsHandler streams supervisor events over websockets
type EventsHandler struct {
	config     *config.Config
	supervisor *supervisor.Supervisor
	hub        *ws.Hub
}

func NewEventsHandler(cfg *config.Config, sup *supervisor.Supervisor, hub *ws.Hub) *EventsHandler {
	return &EventsHandler{config: cfg, supervisor: sup, hub: hub}
}

// HandleServersWebSocket streams status, metrics and crash events of every
// server, starting with a snapshot of all servers.
func (h *EventsHandler) HandleServersWebSocket(c *gin.Context) {
	h.connect(c, ws.RoomServers, func(client *ws.Client) {
		client.SendMessage("servers_snapshot", h.supervisor.ListServers())
	})
}

// HandleServerWebSocket streams every event of one server, starting with
// its current state and recent output.
func (h *EventsHandler) HandleServerWebSocket(c *gin.Context) {
	serverID := c.Param("id")
	info, err := h.supervisor.GetServer(serverID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.connect(c, ws.ServerRoom(serverID), func(client *ws.Client) {
		client.SendMessage("server_snapshot", info)
		if entries, err := h.supervisor.TailLogs(serverID, historyLines); err == nil && len(entries) > 0 {
			client.SendMessage("log_history", entries)
		}
	})
}

// connect upgrades the request and joins room. prime queues the initial
// messages before the client starts receiving live events.
func (h *EventsHandler) connect(c *gin.Context, room string, prime func(*ws.Client)) {
	upgrader := buildUpgrader(h.config.Security.CORS.AllowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection for %s: %v", room, err)
		return
	}

	client := ws.NewClient(h.hub, conn, room)
	prime(client)

	select {
	case h.hub.Register <- client:
	case <-h.hub.Done():
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}
