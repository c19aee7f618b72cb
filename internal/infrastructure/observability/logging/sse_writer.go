package logging

import (
	"encoding/json"
	"strings"
	"time"
)

// SSEWriter is an io.Writer installed next to a channel's regular output. It
// turns each JSON log line into a LogEntry for the broadcaster.
type SSEWriter struct {
	broadcaster *LogBroadcaster
	channel     Channel
}

// NewSSEWriter creates a writer feeding b. channel labels lines that do not
// carry one.
func NewSSEWriter(b *LogBroadcaster, channel Channel) *SSEWriter {
	return &SSEWriter{broadcaster: b, channel: channel}
}

func (w *SSEWriter) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		// text handler output
		w.broadcaster.Submit(LogEntry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Channel:   string(w.channel),
			Level:     "INFO",
			Message:   strings.TrimSpace(string(p)),
		})
		return len(p), nil
	}

	entry := LogEntry{
		Timestamp: getString(raw, "time"),
		Level:     getString(raw, "level"),
		Channel:   getString(raw, "channel"),
		Message:   getString(raw, "msg"),
		TenantID:  getString(raw, "tenantId"),
		SessionID: getString(raw, "sessionId"),
	}
	if entry.Channel == "" {
		entry.Channel = string(w.channel)
	}
	w.broadcaster.Submit(entry)
	return len(p), nil
}

func getString(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}
