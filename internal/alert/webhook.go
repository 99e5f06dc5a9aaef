package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type WebhookConfig struct {
	URL       string
	Rate      float64 // alerts per second
	Burst     int
	QueueSize int
	Timeout   time.Duration
}

// WebhookSink posts alerts as JSON from a background worker. Notify only
// enqueues; when the queue is full the alert is dropped and counted.
type WebhookSink struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	queue   chan Alert
	log     *slog.Logger

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

func NewWebhookSink(cfg WebhookConfig, log *slog.Logger) *WebhookSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	s := &WebhookSink{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		queue:   make(chan Alert, cfg.QueueSize),
		log:     log,
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *WebhookSink) Notify(_ context.Context, a Alert) {
	select {
	case <-s.done:
		s.dropped.Add(1)
	case s.queue <- a:
	default:
		s.dropped.Add(1)
		s.log.Warn("alert queue full, dropping alert", "kind", string(a.Kind), "alert_id", a.ID)
	}
}

func (s *WebhookSink) worker() {
	defer s.wg.Done()
	for {
		select {
		case a := <-s.queue:
			s.deliver(a)
		case <-s.done:
			// drain what is already queued, best effort
			for {
				select {
				case a := <-s.queue:
					s.deliver(a)
				default:
					return
				}
			}
		}
	}
}

func (s *WebhookSink) deliver(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		s.dropped.Add(1)
		return
	}
	if err := s.post(ctx, a); err != nil {
		s.failed.Add(1)
		s.log.Warn("alert webhook failed", "kind", string(a.Kind), "error", err)
		return
	}
	s.sent.Add(1)
}

func (s *WebhookSink) post(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the worker after flushing queued alerts.
func (s *WebhookSink) Close() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

type WebhookStats struct {
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Queued  int   `json:"queued"`
}

func (s *WebhookSink) Stats() WebhookStats {
	return WebhookStats{
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
		Queued:  len(s.queue),
	}
}
