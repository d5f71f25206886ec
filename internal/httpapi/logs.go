package httpapi

import (
	"bufio"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// tailPollInterval is how often handleLogsWS checks for new bytes once it
// has caught up to the end of the file.
const tailPollInterval = 300 * time.Millisecond

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the mirror is same-origin dashboard tooling, not a public-facing
	// cross-site endpoint; the bearer-token middleware already gates access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogsWS live-tails one worker's stdout log (name is the worker's log
// name, <app>-<worker id>) over a WebSocket connection, widening the framed
// `logs{name,lines}` snapshot command (internal/controlapi)
// into a subscription for dashboards that want to follow output as it
// happens rather than poll a snapshot.
func (r *Router) handleLogsWS(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	path := r.logPath(name)
	f, err := os.Open(path)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("error: "+err.Error()))
		return
	}
	defer f.Close()

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if line != "" {
					if werr := conn.WriteMessage(websocket.TextMessage, []byte(line)); werr != nil {
						return
					}
				}
				if err != nil {
					break
				}
			}
		}
	}
}
