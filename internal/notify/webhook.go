package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/service"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	Headers    map[string]string
	URL        string
	QueueSize  int
	Workers    int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// WebhookNotifier POSTs events as JSON to a webhook. Notify only enqueues;
// workers started by Start perform delivery, and Stop drains the queue.
type WebhookNotifier struct {
	client  *http.Client
	logger  *slog.Logger
	queue   chan service.Event
	cfg     WebhookConfig
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewWebhookNotifier creates a webhook notifier. It does not deliver anything
// until Start is called.
func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: webhook URL", common.ErrMissingConfig)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		queue:  make(chan service.Event, cfg.QueueSize),
	}, nil
}

// Start launches the delivery workers.
func (w *WebhookNotifier) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.queue = make(chan service.Event, w.cfg.QueueSize)
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker(w.queue)
	}
}

// Stop stops accepting events and waits for queued ones to be delivered or
// for ctx to expire.
func (w *WebhookNotifier) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook notifier stop: %w", ctx.Err())
	}
}

// Notify implements service.Notifier. A full queue drops the event.
func (w *WebhookNotifier) Notify(_ context.Context, event service.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.running {
		w.logger.Warn("webhook notifier not running, event dropped",
			"event", event.Type, "decision_id", event.DecisionID)
		return
	}

	select {
	case w.queue <- event:
	default:
		w.logger.Warn("webhook queue full, event dropped",
			"event", event.Type, "decision_id", event.DecisionID)
	}
}

func (w *WebhookNotifier) worker(queue <-chan service.Event) {
	defer w.wg.Done()
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout*time.Duration(w.cfg.MaxRetries))
		if err := w.Deliver(ctx, event); err != nil {
			w.logger.Error("webhook delivery failed",
				"event", event.Type,
				"decision_id", event.DecisionID,
				"error", err)
		}
		cancel()
	}
}

// Deliver POSTs one event, retrying transient failures.
func (w *WebhookNotifier) Deliver(ctx context.Context, event service.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return common.WithRetry(ctx, func(ctx context.Context) error {
		return w.post(ctx, body)
	}, service.RetryOptions{
		MaxAttempts:  w.cfg.MaxRetries,
		InitialDelay: w.cfg.RetryDelay,
		MaxDelay:     w.cfg.RetryDelay * 8,
		Multiplier:   2,
	})
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &common.StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
}
