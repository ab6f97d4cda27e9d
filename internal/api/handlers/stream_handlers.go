package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"people-counter-go/internal/events"
	"people-counter-go/internal/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// keepAliveInterval hält Proxies davon ab, ruhige Streams zu schließen
const keepAliveInterval = 15 * time.Second

// Stream liefert Zählerereignisse als Server-Sent Events. Beim Verbinden
// wird zuerst der aktuelle Zählerstand gesendet.
func (h *APIHandler) Stream(c *gin.Context) {
	if h.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live-Updates sind deaktiviert"})
		return
	}

	client := sse.NewClient()
	if !h.deps.Hub.Register(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server wird beendet"})
		return
	}
	defer h.deps.Hub.Unregister(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	s := h.snapshot()
	initial, err := json.Marshal(events.Wrap(events.StatsEvent{
		InCount:      s.InCount,
		OutCount:     s.OutCount,
		Occupancy:    s.Occupancy,
		ActiveTracks: s.ActiveTracks,
		Timestamp:    time.Now(),
	}))
	if err != nil {
		log.Errorf("SSE: Zählerstand nicht serialisierbar: %v", err)
		return
	}
	c.SSEvent("message", string(initial))
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg, ok := <-client:
			if !ok {
				return false // Hub beendet
			}
			c.SSEvent("message", string(msg))
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}
