package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// DefaultTimeout bounds a single channel delivery.
const DefaultTimeout = 5 * time.Second

// ErrDispatchPartialFailure reports that one or more channels failed to
// deliver an alert. It is never returned from Dispatch itself.
var ErrDispatchPartialFailure = errors.New("alert dispatch partially failed")

// ChannelResult is the outcome of one delivery attempt.
type ChannelResult struct {
	Channel  string        `json:"channel"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the delivery succeeded.
func (r ChannelResult) OK() bool { return r.Err == nil }

// DispatchResult reports per-channel outcomes in channel order.
type DispatchResult struct {
	Alert   Alert           `json:"alert"`
	Results []ChannelResult `json:"results"`
}

// Degraded reports whether any channel failed.
func (r DispatchResult) Degraded() bool {
	for _, cr := range r.Results {
		if cr.Err != nil {
			return true
		}
	}
	return false
}

// Failed returns the results of channels that failed.
func (r DispatchResult) Failed() []ChannelResult {
	var out []ChannelResult
	for _, cr := range r.Results {
		if cr.Err != nil {
			out = append(out, cr)
		}
	}
	return out
}

// Err returns nil when every channel succeeded, otherwise an error wrapping
// ErrDispatchPartialFailure that names the failed channels.
func (r DispatchResult) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, cr := range failed {
		parts = append(parts, fmt.Sprintf("%s: %v", cr.Channel, cr.Err))
	}
	return fmt.Errorf("%w: %s", ErrDispatchPartialFailure, strings.Join(parts, "; "))
}

// Dispatcher delivers alerts to every configured channel. Delivery is
// best-effort: no retries, and failures never propagate as errors.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	logger   *slog.Logger

	delivered otelmetric.Int64Counter
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultTimeout.
func NewDispatcher(logger *slog.Logger, timeout time.Duration, channels ...Channel) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
	}

	meter := otel.Meter("github.com/ogulcanaydogan/costwatch/pkg/alerts")
	if ctr, err := meter.Int64Counter(
		"costwatch.alerts.deliveries",
		otelmetric.WithDescription("Alert delivery attempts by channel and outcome"),
	); err == nil {
		d.delivered = ctr
	}
	return d
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// Dispatch sends alert to all channels concurrently, each bounded by the
// dispatcher timeout, and waits for every attempt to finish.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) DispatchResult {
	result := DispatchResult{
		Alert:   alert,
		Results: make([]ChannelResult, len(d.channels)),
	}

	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.Results[i] = d.deliver(ctx, ch, alert)
		}()
	}
	wg.Wait()

	if err := result.Err(); err != nil {
		d.logger.Warn("alert dispatch degraded",
			"kind", alert.Kind,
			"severity", alert.Severity,
			"error", err,
		)
	}
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, alert Alert) (res ChannelResult) {
	res.Channel = ch.Name()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		res.Duration = time.Since(start)
		d.record(ctx, res)
	}()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("channel panicked: %v", p)
			}
		}()
		errCh <- ch.Send(ctx, alert)
	}()

	// A channel that ignores its context still cannot hold up dispatch.
	select {
	case err := <-errCh:
		res.Err = err
	case <-ctx.Done():
		res.Err = fmt.Errorf("deliver to %s: %w", res.Channel, ctx.Err())
	}

	if res.Err != nil {
		d.logger.Error("send alert failed",
			"channel", res.Channel,
			"kind", alert.Kind,
			"error", res.Err,
		)
	}
	return res
}

func (d *Dispatcher) record(ctx context.Context, res ChannelResult) {
	if d.delivered == nil {
		return
	}
	outcome := "ok"
	if res.Err != nil {
		outcome = "failed"
	}
	d.delivered.Add(context.WithoutCancel(ctx), 1, otelmetric.WithAttributes(
		attribute.String("channel", res.Channel),
		attribute.String("outcome", outcome),
	))
}
