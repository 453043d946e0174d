package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/frontdesk/internal/channel"
)

// heartbeatInterval keeps idle streams open through proxies.
const heartbeatInterval = 15 * time.Second

// handleSSE streams registry changes. Clients re-read /api/channels on
// each change; a stream that falls behind misses changes, not state.
func handleSSE(reg *channel.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ctx := c.Request.Context()
		changes := reg.Watch(ctx)

		writeSSE(c.Writer, "connected", map[string]any{
			"type":    "connected",
			"version": reg.Snapshot().Version,
		})
		c.Writer.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case ch, ok := <-changes:
				if !ok {
					return
				}
				writeSSE(c.Writer, "change", ch)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
