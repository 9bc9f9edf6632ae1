package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/studyflow/tracker-sync/internal/hub"
	"github.com/studyflow/tracker-sync/internal/logger"
)

// Gateway upgrades HTTP requests to websocket connections and registers them
// as hub subscribers. The hub owns delivery; the gateway owns the connection
// lifecycle.
type Gateway struct {
	hub         *hub.Hub
	sendTimeout time.Duration
	upgrader    websocket.Upgrader
}

// New creates a websocket gateway attached to a hub
func New(h *hub.Hub, sendTimeout time.Duration) *Gateway {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Gateway{
		hub:         h,
		sendTimeout: sendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS middleware in
			// front of the upgrade; browsers send Origin on ws upgrades too
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and keeps the connection subscribed until it
// drops. GET /ws?actor_id=<id>
func (g *Gateway) Handle(c *gin.Context) {
	actorID := c.Query("actor_id")

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}

	id := uuid.NewString()
	client := newClient(id, actorID, conn, g.sendTimeout)
	g.hub.Subscribe(client)

	logger.Info("Client connected",
		zap.String("connection_id", id),
		zap.String("actor_id", actorID),
		zap.Int("subscribers", g.hub.Len()),
	)

	go client.pingLoop()
	go client.readLoop(func() {
		g.hub.Unsubscribe(id)
		logger.Info("Client disconnected",
			zap.String("connection_id", id),
			zap.Int("subscribers", g.hub.Len()),
		)
	})
}
