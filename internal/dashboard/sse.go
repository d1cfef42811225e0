package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// Refresh cadence of the event stream. The tick keeps elapsed times moving
// and catches changes the orchestrator does not announce, such as merges
// and checklist toggles.
var (
	sseTick      = time.Second
	sseHeartbeat = 15 * time.Second
)

// handleEvents streams "state" events: one on connect, then one whenever the
// state differs from the last one sent.
func (s *server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	filter := c.Query("q")
	changed := make(chan struct{}, 1)
	unsub := s.console.Drain.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	var last []byte
	push := func() {
		data, err := json.Marshal(buildState(s.console, filter, s.now()))
		if err != nil || bytes.Equal(data, last) {
			return
		}
		last = data
		fmt.Fprintf(c.Writer, "event: state\ndata: %s\n\n", data)
		c.Writer.Flush()
	}

	writeSSE(c.Writer, "connected", map[string]string{"project": s.console.Project})
	push()

	ctx := c.Request.Context()
	ticker := time.NewTicker(sseTick)
	heartbeat := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			push()
		case <-ticker.C:
			push()
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": s.now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
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
