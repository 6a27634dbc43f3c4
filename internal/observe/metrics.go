// Package observe provides the observability primitives for crossmix:
// OpenTelemetry metrics for the mixing engine and its output device, tracing
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [InitProvider]. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
//
// Nothing here is called from inside the engine's realtime lock: the pool
// reports through [pool.Recorder] after releasing it, and the device reports
// step timings after each step returns.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/crossmix/pkg/audio/pool"
)

// meterName is the instrumentation scope name used for all crossmix metrics.
const meterName = "github.com/MrWong99/crossmix"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ChannelOpens counts OpenChannel calls. Use with attribute:
	//   attribute.String("result", "new"|"reclaimed"|"rejected")
	ChannelOpens metric.Int64Counter

	// ChannelCloses counts CloseChannel calls. Use with attribute:
	//   attribute.String("mode", "force"|"soft")
	ChannelCloses metric.Int64Counter

	// QueuedRequests counts requests admitted to a channel queue.
	QueuedRequests metric.Int64Counter

	// RejectedRequests counts rejected Play batches. Use with attribute:
	//   attribute.String("reason", ...)
	RejectedRequests metric.Int64Counter

	// DeviceStepDuration tracks how long one device callback spent mixing.
	DeviceStepDuration metric.Float64Histogram

	// DeviceFrames counts frames delivered to the output device.
	DeviceFrames metric.Int64Counter

	// HTTPRequestDuration tracks status server latency by method, route
	// pattern and status code.
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

var _ pool.Recorder = (*Metrics)(nil)

// stepBuckets covers device callbacks from a few microseconds up to a full
// 4096-frame buffer at 48 kHz.
var stepBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.ChannelOpens, err = m.Int64Counter("crossmix.channel.opens",
		metric.WithDescription("Channel open attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.ChannelCloses, err = m.Int64Counter("crossmix.channel.closes",
		metric.WithDescription("Channel closes by mode."),
	); err != nil {
		return nil, err
	}
	if met.QueuedRequests, err = m.Int64Counter("crossmix.requests.queued",
		metric.WithDescription("Requests admitted to channel queues."),
	); err != nil {
		return nil, err
	}
	if met.RejectedRequests, err = m.Int64Counter("crossmix.requests.rejected",
		metric.WithDescription("Rejected request batches by reason."),
	); err != nil {
		return nil, err
	}
	if met.DeviceStepDuration, err = m.Float64Histogram("crossmix.device.step.duration",
		metric.WithDescription("Time spent mixing one device buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DeviceFrames, err = m.Int64Counter("crossmix.device.frames",
		metric.WithDescription("Frames delivered to the output device."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("crossmix.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveOpenChannels registers the crossmix.channels.open gauge, read from
// count at each collection.
func (m *Metrics) ObserveOpenChannels(count func() int) error {
	_, err := m.meter.Int64ObservableGauge("crossmix.channels.open",
		metric.WithDescription("Channels currently open, including ones draining after a soft close."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(count()))
			return nil
		}),
	)
	return err
}

// ChannelOpened implements [pool.Recorder].
func (m *Metrics) ChannelOpened(reclaimed bool) {
	result := "new"
	if reclaimed {
		result = "reclaimed"
	}
	m.ChannelOpens.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", result)))
}

// OpenRejected implements [pool.Recorder].
func (m *Metrics) OpenRejected() {
	m.ChannelOpens.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", "rejected")))
}

// ChannelClosed implements [pool.Recorder].
func (m *Metrics) ChannelClosed(mode pool.CloseMode) {
	m.ChannelCloses.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("mode", mode.String())))
}

// RequestsQueued implements [pool.Recorder].
func (m *Metrics) RequestsQueued(n int) {
	m.QueuedRequests.Add(context.Background(), int64(n))
}

// RequestRejected implements [pool.Recorder].
func (m *Metrics) RequestRejected(reason string) {
	m.RejectedRequests.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// StepObserved records one device callback that mixed frames frames in d.
func (m *Metrics) StepObserved(d time.Duration, frames int) {
	ctx := context.Background()
	m.DeviceStepDuration.Record(ctx, d.Seconds())
	m.DeviceFrames.Add(ctx, int64(frames))
}
