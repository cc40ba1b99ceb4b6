package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/signbridge/signbridge/pkg/events"
)

// ErrDeliveryFailed is returned once every attempt for an event has failed.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// DelivererConfig holds delivery-related settings.
type DelivererConfig struct {
	MaxRetries       int
	Timeout          time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
}

type target struct {
	breaker   *gobreaker.CircuitBreaker[int]
	limiter   *rate.Limiter
	delivered atomic.Int64
	failed    atomic.Int64
}

// statusError is a non-2xx response from an endpoint.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

// Deliverer posts event envelopes to webhook endpoints.
type Deliverer struct {
	httpClient *http.Client
	config     DelivererConfig

	mu      sync.Mutex
	targets map[string]*target
}

// NewDeliverer creates a deliverer. A nil httpClient gets a pooled client
// with cfg.Timeout.
func NewDeliverer(cfg DelivererConfig, httpClient *http.Client) *Deliverer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Deliverer{
		httpClient: httpClient,
		config:     cfg,
		targets:    make(map[string]*target),
	}
}

func (d *Deliverer) targetFor(ep Endpoint) *target {
	d.mu.Lock()
	defer d.mu.Unlock()

	if tg, ok := d.targets[ep.ID]; ok {
		return tg
	}

	limit, burst := rate.Inf, 1
	if ep.MaxRPS > 0 {
		limit, burst = rate.Limit(ep.MaxRPS), ep.MaxRPS
	}
	threshold := uint32(d.config.BreakerThreshold)
	tg := &target{
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
			Name:        ep.ID,
			MaxRequests: 1,
			Timeout:     d.config.BreakerReset,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Info("webhook circuit state changed",
					slog.String("webhook_id", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
	d.targets[ep.ID] = tg
	return tg
}

// Deliver posts env to ep, retrying transient failures with exponential
// backoff. Client errors other than 429 and an open circuit are not retried.
func (d *Deliverer) Deliver(ctx context.Context, ep Endpoint, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrDeliveryFailed, err)
	}

	tg := d.targetFor(ep)

	b := backoff.NewExponentialBackOff()
	if d.config.BackoffInitial > 0 {
		b.InitialInterval = d.config.BackoffInitial
	}
	if d.config.BackoffMax > 0 {
		b.MaxInterval = d.config.BackoffMax
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (int, error) {
		attempt++
		if err := tg.limiter.Wait(ctx); err != nil {
			return 0, backoff.Permanent(err)
		}
		code, err := tg.breaker.Execute(func() (int, error) {
			return d.post(ctx, ep, env, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, backoff.Permanent(err)
		}
		var se *statusError
		if errors.As(err, &se) && se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests {
			return code, backoff.Permanent(err)
		}
		if err != nil {
			slog.DebugContext(ctx, "webhook attempt failed",
				slog.String("webhook_id", ep.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return code, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.config.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		tg.failed.Add(1)
		slog.WarnContext(ctx, "webhook delivery failed",
			slog.String("webhook_id", ep.ID),
			slog.String("event_id", env.ID),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, ep.ID, err)
	}

	tg.delivered.Add(1)
	return nil
}

func (d *Deliverer) post(ctx context.Context, ep Endpoint, env events.Envelope, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signbridge-Event", string(env.Type))
	req.Header.Set("X-Signbridge-Delivery", env.ID)
	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(ep.Secret, time.Now(), body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain for connection reuse.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &statusError{code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// Status reports counters and circuit state for ep.
func (d *Deliverer) Status(ep Endpoint) EndpointStatus {
	tg := d.targetFor(ep)
	return EndpointStatus{
		Endpoint:     ep,
		CircuitState: tg.breaker.State().String(),
		Delivered:    tg.delivered.Load(),
		Failed:       tg.failed.Load(),
	}
}
