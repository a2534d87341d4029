package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; rely on JWT auth.
		return true
	},
}

// LogStreamHandler upgrades an admin request and streams matching log rows.
// Query: level=<min level>, category=<comma separated>.
func LogStreamHandler(hub *LogHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := LogFilter{MinLevel: strings.ToLower(c.Query("level"))}
		if _, ok := levelRank[filter.MinLevel]; filter.MinLevel != "" && !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "level must be one of debug, info, warn, error"})
			return
		}
		if raw := c.Query("category"); raw != "" {
			filter.Categories = map[string]struct{}{}
			for _, cat := range strings.Split(raw, ",") {
				if cat = strings.TrimSpace(cat); cat != "" {
					filter.Categories[cat] = struct{}{}
				}
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newLogClient(hub, conn, filter)
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}
