package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAssignsSortableIDs(t *testing.T) {
	a := New(KindEmergencyStop, SeverityCritical, "stop", nil)
	b := New(KindEmergencyStop, SeverityCritical, "stop", nil)
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, a.ID < b.ID)
	assert.Len(t, a.ID, 26)
}

func TestLogSinkWritesFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	sink.Notify(context.Background(), New(KindCircuitBreaker, SeverityWarning, "bot stopped", map[string]any{"bot_id": 8}))

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"kind":"circuit_breaker_triggered"`)
	assert.Contains(t, out, `"bot_id":8`)
}

type recordingSink struct {
	mu  sync.Mutex
	got []Alert
}

func (r *recordingSink) Notify(_ context.Context, a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	Multi{a, b, Nop{}}.Notify(context.Background(), New(KindBotReset, SeverityInfo, "reset", nil))
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestWebhookSinkDelivers(t *testing.T) {
	var mu sync.Mutex
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		mu.Lock()
		received = append(received, a)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Rate: 100, Burst: 10, QueueSize: 8}, discardLogger())
	sink.Notify(context.Background(), New(KindTxDropped, SeverityError, "dropped", map[string]any{"nonce": 4}))
	sink.Notify(context.Background(), New(KindLowBalance, SeverityWarning, "low", nil))
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, KindTxDropped, received[0].Kind)
	assert.Equal(t, int64(2), sink.Stats().Sent)
}

func TestWebhookSinkNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Rate: 100, Burst: 10, QueueSize: 1, Timeout: 200 * time.Millisecond}, discardLogger())

	start := time.Now()
	for i := 0; i < 20; i++ {
		sink.Notify(context.Background(), New(KindNonceGap, SeverityWarning, "gap", nil))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Greater(t, sink.Stats().Dropped, int64(0))
}

func TestWebhookSinkCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Rate: 100, Burst: 10}, discardLogger())
	sink.Notify(context.Background(), New(KindTxFailed, SeverityError, "failed", nil))
	sink.Close()

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Sent)
}
