package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMaskSessionID(t *testing.T) {
	assert.Equal(t, "********", MaskSessionID("short"))
	assert.Equal(t, "sess****0042", MaskSessionID("session-0042"))
}

func TestChannelLoggerWritesChannelAndSessionContext(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Writer = &buf
	logger, err := NewChanneledLogger(cfg)
	require.NoError(t, err)

	logger.WithSession(ChannelRouter, "acme", "session-0042").Info("Directive dispatched")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "router", line["channel"])
	assert.Equal(t, "acme", line["tenantId"])
	assert.Equal(t, "sess****0042", line["sessionId"])
}

func TestSetChannelLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Writer = &buf
	logger, err := NewChanneledLogger(cfg)
	require.NoError(t, err)

	logger.Webhook().Debug("hidden")
	assert.Zero(t, buf.Len())

	require.NoError(t, logger.SetChannelLevel(ChannelWebhook, slog.LevelDebug))
	logger.Webhook().Debug("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Equal(t, "DEBUG", logger.GetChannelLevels()["webhook"])
	assert.Equal(t, "INFO", logger.GetChannelLevels()["push"])

	assert.Error(t, logger.SetChannelLevel("nope", slog.LevelDebug))
}

func TestBroadcasterFiltersByChannelAndLevel(t *testing.T) {
	b := NewLogBroadcaster(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	cfg := DefaultLoggerConfig()
	cfg.Writer = &bytes.Buffer{}
	cfg.DefaultLevel = slog.LevelDebug
	cfg.Broadcaster = b
	logger, err := NewChanneledLogger(cfg)
	require.NoError(t, err)

	webhooks := b.Subscribe(AppliedFilters{Channel: ChannelWebhook, Level: slog.LevelWarn})
	all := b.Subscribe(AppliedFilters{Channel: "all", Level: slog.LevelDebug})
	assert.Equal(t, 2, b.Subscribers())

	logger.Webhook().Info("attempt ok")
	logger.Webhook().Warn("attempt failed")
	logger.WithTenant(ChannelPush, "acme").Debug("socket opened")

	var got []LogEntry
	for len(got) < 3 {
		select {
		case msg := <-all.Channel:
			var e LogEntry
			require.NoError(t, json.Unmarshal(msg, &e))
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for log entries")
		}
	}
	assert.Equal(t, "acme", got[2].TenantID)
	assert.Equal(t, "push", got[2].Channel)

	select {
	case msg := <-webhooks.Channel:
		var e LogEntry
		require.NoError(t, json.Unmarshal(msg, &e))
		assert.Equal(t, "attempt failed", e.Message)
		assert.Equal(t, "WARN", e.Level)
	case <-time.After(time.Second):
		t.Fatal("webhook subscriber got nothing")
	}
	assert.Empty(t, webhooks.Channel)

	b.Unsubscribe(webhooks)
	b.Unsubscribe(webhooks)
	assert.Equal(t, 1, b.Subscribers())
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}
