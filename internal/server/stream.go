package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/storage"
	"github.com/gin-gonic/gin"
)

const (
	StreamEventStorageChanged = "storage-change"
	streamEventHeartbeat      = "heartbeat"
	streamSource              = "dailydust-api"
	defaultHeartbeatInterval  = 25 * time.Second
)

type storageChangePayload struct {
	Key       string `json:"key"`
	Origin    string `json:"origin"`
	Timestamp string `json:"timestamp"`
}

type heartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// handleStream relays storage change messages as server-sent events until the client leaves.
func (h *httpHandler) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	messages, cleanup := h.changes.SubscribeAll(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.SSEvent(streamEventHeartbeat, heartbeatPayload{Source: streamSource, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(StreamEventStorageChanged, changePayload(message))
			return true
		case tick := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, heartbeatPayload{Source: streamSource, Timestamp: tick.UTC().Format(time.RFC3339)})
			return true
		}
	})
}

func changePayload(message storage.Message) storageChangePayload {
	return storageChangePayload{
		Key:       message.Key,
		Origin:    message.Origin,
		Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
