// Package observe holds the CorrectNow telemetry: OpenTelemetry metric
// instruments, tracing helpers, trace-aware logging and the HTTP middleware
// that ties them together.
//
// Instruments are created from a [metric.MeterProvider]. Production code
// uses [DefaultMetrics], which reads the global provider installed by
// [InitProvider]; tests build their own with [NewMetrics] and an
// sdkmetric.ManualReader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/correctnow/correctnow/pkg/suggest"
)

const meterName = "github.com/correctnow/correctnow"

// Model call outcomes, used as the "outcome" attribute.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// Metrics holds the CorrectNow instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// CorrectionDuration is the latency of one correction request, labelled
	// by where the answer came from: "cache", "llm" or "unparsed".
	CorrectionDuration metric.Float64Histogram

	// ModelDuration is the latency of the model round trip alone.
	ModelDuration metric.Float64Histogram

	// ModelCalls counts model calls by provider and outcome.
	ModelCalls metric.Int64Counter

	// ModelErrors counts failed model calls by provider. Cancelled calls
	// are not errors.
	ModelErrors metric.Int64Counter

	// Suggestions counts changes seen at ingestion by outcome: "kept",
	// "blank", "invalid", "missing", "duplicate" or "noop".
	Suggestions metric.Int64Counter

	// PatchesApplied counts suggestions written into text, by mode
	// ("single" or "all").
	PatchesApplied metric.Int64Counter

	// CacheLookups counts response cache lookups by result ("hit", "miss").
	CacheLookups metric.Int64Counter

	// ActiveSessions is the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled by mux route and status class.
	HTTPRequestDuration metric.Float64Histogram
}

// modelBuckets span a cached reply to a slow long-form correction.
var modelBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// httpBuckets are tighter: most routes never reach a model.
var httpBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

// instruments collects the first creation error so NewMetrics can build
// every instrument in a flat list.
type instruments struct {
	m   metric.Meter
	err error
}

func (b *instruments) histogram(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{m: mp.Meter(meterName)}

	met := &Metrics{
		CorrectionDuration:  b.histogram("correctnow.correction.duration", "Latency of a correction request by answer source.", modelBuckets),
		ModelDuration:       b.histogram("correctnow.model.duration", "Latency of the model round trip by provider.", modelBuckets),
		ModelCalls:          b.counter("correctnow.model.calls", "Model calls by provider and outcome."),
		ModelErrors:         b.counter("correctnow.model.errors", "Failed model calls by provider."),
		Suggestions:         b.counter("correctnow.suggestions", "Changes seen at ingestion by outcome."),
		PatchesApplied:      b.counter("correctnow.patches.applied", "Suggestions applied to text by mode."),
		CacheLookups:        b.counter("correctnow.cache.lookups", "Response cache lookups by result."),
		HTTPRequestDuration: b.histogram("correctnow.http.request.duration", "HTTP request latency by route and status class.", httpBuckets),
	}
	sessions, err := b.m.Int64UpDownCounter("correctnow.live.sessions",
		metric.WithDescription("Open live editing sessions."))
	met.ActiveSessions = sessions
	if err := errors.Join(b.err, err); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments, created on first use
// from [otel.GetMeterProvider]. Call [InitProvider] first so they reach the
// Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// ModelOutcome classifies the error of a model call.
func ModelOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// RecordModelCall records the latency and outcome of one model call.
func (m *Metrics) RecordModelCall(ctx context.Context, provider string, elapsed time.Duration, err error) {
	outcome := ModelOutcome(err)
	byProvider := attribute.String("provider", provider)

	m.ModelDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(byProvider))
	m.ModelCalls.Add(ctx, 1, metric.WithAttributes(byProvider, attribute.String("outcome", outcome)))
	if outcome == OutcomeError || outcome == OutcomeTimeout {
		m.ModelErrors.Add(ctx, 1, metric.WithAttributes(byProvider))
	}
}

// RecordCorrection records a finished correction request.
func (m *Metrics) RecordCorrection(ctx context.Context, source string, elapsed time.Duration) {
	m.CorrectionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("source", source)))
}

// RecordIngest adds one ingestion pass, one data point per outcome seen.
func (m *Metrics) RecordIngest(ctx context.Context, st suggest.IngestStats) {
	outcomes := [...]struct {
		name string
		n    int
	}{
		{"kept", st.Kept},
		{"blank", st.Blank},
		{"invalid", st.Invalid},
		{"missing", st.Missing},
		{"duplicate", st.Duplicate},
		{"noop", st.NoOp},
	}
	for _, o := range outcomes {
		if o.n > 0 {
			m.Suggestions.Add(ctx, int64(o.n), metric.WithAttributes(attribute.String("outcome", o.name)))
		}
	}
}

// RecordPatches records n applied suggestions in the given mode.
func (m *Metrics) RecordPatches(ctx context.Context, mode string, n int) {
	if n <= 0 {
		return
	}
	m.PatchesApplied.Add(ctx, int64(n), metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
