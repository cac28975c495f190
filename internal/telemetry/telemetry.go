// Package telemetry wraps the OpenTelemetry metrics SDK behind a small
// recorder so speechengine never imports otel directly. Grounded on
// MrWong99-glyphoxa's metrics wiring: a meter provider built once at
// startup, counters created from it, no-op when no provider is
// configured.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func resultTypeAttr(resultType string) attribute.KeyValue {
	return attribute.String("result_type", resultType)
}

// NewPrometheusProvider builds a MeterProvider backed by a Prometheus
// exporter, grounded on MrWong99-glyphoxa's InitProvider. The caller is
// responsible for serving the returned registry's collectors (e.g. via
// promhttp.Handler) and for calling Shutdown during teardown.
func NewPrometheusProvider() (*sdkmetric.MeterProvider, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp)), nil
}

// Metrics records the counters emitted by a running engine and
// dispatcher. A *Metrics returned by NewNoop records nothing and never
// touches a real exporter, so it is safe to wire unconditionally.
type Metrics struct {
	sessionsStarted   metric.Int64Counter
	sessionsCancelled metric.Int64Counter
	pollResults       metric.Int64Counter
	transportErrors   metric.Int64Counter
	enginePrepares    metric.Int64Counter
	engineReleases    metric.Int64Counter
}

// New builds counters from provider's meter named "voiceclient". Returns
// an error only if instrument creation fails, which the otel SDK
// documents as occurring solely on a malformed name.
func New(provider *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("voiceclient")

	started, err := meter.Int64Counter("sessions_started",
		metric.WithDescription("sessions admitted into the engine"))
	if err != nil {
		return nil, err
	}
	cancelled, err := meter.Int64Counter("sessions_cancelled",
		metric.WithDescription("sessions cancelled before or during completion"))
	if err != nil {
		return nil, err
	}
	polled, err := meter.Int64Counter("poll_results_emitted",
		metric.WithDescription("results returned from poll, by type"))
	if err != nil {
		return nil, err
	}
	transportErrs, err := meter.Int64Counter("transport_errors",
		metric.WithDescription("send/recv failures against the remote service"))
	if err != nil {
		return nil, err
	}
	prepares, err := meter.Int64Counter("engine_prepares",
		metric.WithDescription("prepare() calls that opened a transport"))
	if err != nil {
		return nil, err
	}
	releases, err := meter.Int64Counter("engine_releases",
		metric.WithDescription("release() calls that tore a transport down"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sessionsStarted:   started,
		sessionsCancelled: cancelled,
		pollResults:        polled,
		transportErrors:   transportErrs,
		enginePrepares:    prepares,
		engineReleases:    releases,
	}, nil
}

// NewNoop returns a Metrics whose methods are safe to call but record
// nothing, for use when no collector endpoint is configured.
func NewNoop() *Metrics {
	return &Metrics{}
}

func (m *Metrics) SessionStarted() {
	if m == nil || m.sessionsStarted == nil {
		return
	}
	m.sessionsStarted.Add(context.Background(), 1)
}

func (m *Metrics) SessionCancelled() {
	if m == nil || m.sessionsCancelled == nil {
		return
	}
	m.sessionsCancelled.Add(context.Background(), 1)
}

func (m *Metrics) PollEmitted(resultType string) {
	if m == nil || m.pollResults == nil {
		return
	}
	m.pollResults.Add(context.Background(), 1, metric.WithAttributes(
		resultTypeAttr(resultType),
	))
}

func (m *Metrics) TransportError() {
	if m == nil || m.transportErrors == nil {
		return
	}
	m.transportErrors.Add(context.Background(), 1)
}

func (m *Metrics) EnginePrepared() {
	if m == nil || m.enginePrepares == nil {
		return
	}
	m.enginePrepares.Add(context.Background(), 1)
}

func (m *Metrics) EngineReleased() {
	if m == nil || m.engineReleases == nil {
		return
	}
	m.engineReleases.Add(context.Background(), 1)
}
