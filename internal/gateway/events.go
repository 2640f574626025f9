// ABOUTME: Server-sent event framing for character update streams
// ABOUTME: Converts broadcaster updates into named SSE events

package gateway

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/2389/worldgpt/internal/conversation"
)

// SSEEvent is one named server-sent event.
type SSEEvent struct {
	Event string
	Data  any
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to w.
func (g *Gateway) writeSSEEvent(w io.Writer, event SSEEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}
	_, err = io.WriteString(w, formatSSEEvent(event.Event, string(dataJSON)))
	return err
}

// updateToSSEEvent converts a broadcaster update to an SSE event.
func updateToSSEEvent(u *conversation.Update) SSEEvent {
	return SSEEvent{
		Event: "character",
		Data:  u,
	}
}
