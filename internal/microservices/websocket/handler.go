package websocket

import (
	"net/http"

	"opendavinci/internal/microservices/supercomponent"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// HTTP upgrade handler for the module feed

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// status consumers run on arbitrary hosts
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Snapshotter lists the modules currently registered.
type Snapshotter interface {
	Snapshot() []supercomponent.ModuleInfo
}

// WSHandler upgrades the request and subscribes the peer to hub. The first
// message is always a snapshot of src.
func WSHandler(hub *Hub, src Snapshotter) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already answered the request
			hub.logger.Warn("ws_upgrade_failed", "error", err)
			return
		}

		client := NewClient(conn, hub)
		initial, err := NewSnapshotEvent(src.Snapshot(), hub.now()).ToJSON()
		if err != nil {
			hub.logger.Error("ws_snapshot_failed", "error", err)
			conn.Close()
			return
		}
		if !hub.Register(client, initial) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			conn.Close()
			return
		}

		go client.ReadPump()
		go client.WritePump()
	}
}
