package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// LogEntry is one log line as sent to stream subscribers.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Channel   string `json:"channel"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	TenantID  string `json:"tenantId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// AppliedFilters select which entries a subscriber receives. Channel "all"
// matches every channel.
type AppliedFilters struct {
	Channel Channel
	Level   slog.Level
}

func (f AppliedFilters) match(e LogEntry) bool {
	if f.Channel != "all" && f.Channel != "" && f.Channel != Channel(e.Channel) {
		return false
	}
	lvl, ok := ParseLevel(e.Level)
	if !ok {
		lvl = slog.LevelInfo
	}
	return lvl >= f.Level
}

// Client is one stream subscriber.
type Client struct {
	id      uint64
	Channel chan []byte
	filters AppliedFilters
}

// LogBroadcaster fans log entries out to live subscribers (the admin log
// stream). Submission never blocks the logging call.
type LogBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	incoming chan LogEntry
	nextID   atomic.Uint64
	dropped  atomic.Uint64
}

// NewLogBroadcaster creates a broadcaster with the given submission buffer.
func NewLogBroadcaster(buffer int) *LogBroadcaster {
	if buffer <= 0 {
		buffer = 1000
	}
	return &LogBroadcaster{
		clients:  make(map[*Client]struct{}),
		incoming: make(chan LogEntry, buffer),
	}
}

// Run distributes entries until ctx is cancelled, then closes every
// subscriber channel.
func (b *LogBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				close(c.Channel)
				delete(b.clients, c)
			}
			b.mu.Unlock()
			return
		case entry := <-b.incoming:
			b.distribute(entry)
		}
	}
}

func (b *LogBroadcaster) distribute(entry LogEntry) {
	message, err := json.Marshal(entry)
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		if !c.filters.match(entry) {
			continue
		}
		select {
		case c.Channel <- message:
		default:
			// slow subscriber
		}
	}
}

// Submit queues an entry. A full queue drops it.
func (b *LogBroadcaster) Submit(entry LogEntry) {
	select {
	case b.incoming <- entry:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (b *LogBroadcaster) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a subscriber with a buffered channel.
func (b *LogBroadcaster) Subscribe(filters AppliedFilters) *Client {
	c := &Client{id: b.nextID.Add(1), Channel: make(chan []byte, 100), filters: filters}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call more
// than once.
func (b *LogBroadcaster) Unsubscribe(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.Channel)
	}
}

// Subscribers returns the number of live subscribers.
func (b *LogBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a slog level.
func ParseLevel(raw string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
