package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Kind is the shape of a metric event.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

// Event names emitted by the search pipeline.
const (
	EventSearchAttempt   = "search_attempt"
	EventSearchRetry     = "search_retry"
	EventSearchOutcome   = "search_outcome"
	EventSearchDuration  = "search_duration_seconds"
	EventExtraction      = "extraction"
	EventCircuitOpened   = "circuit_opened"
	EventCircuitHalfOpen = "circuit_half_open_probe"
	EventCircuitClosed   = "circuit_closed"
	EventCircuitState    = "circuit_state"
	EventCircuitRejected = "circuit_rejected"
	EventCircuitDecision = "circuit_decision"
	EventCacheLookup     = "cache_lookup"
)

// LabelCorrelationID ties every event of one call together.
const LabelCorrelationID = "correlation_id"

// Event is one raw metric observation. Presentation is left to the Sink.
type Event struct {
	Name      string            `json:"name"`
	Kind      Kind              `json:"kind"`
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink consumes metric events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LogSink writes events through slog at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 2*len(e.Labels)+6)
	attrs = append(attrs, "metric", e.Name, "kind", string(e.Kind), "value", e.Value)
	for k, v := range e.Labels {
		attrs = append(attrs, k, v)
	}
	logger.Debug("metric event", attrs...)
}

// Recorder builds events with a fixed set of base labels (typically the
// correlation id) and forwards them to a Sink. The zero value discards.
type Recorder struct {
	sink   Sink
	labels map[string]string
	now    func() time.Time
}

// NewRecorder wraps sink. A nil sink discards.
func NewRecorder(sink Sink) Recorder {
	if sink == nil {
		sink = Discard
	}
	return Recorder{sink: sink, now: time.Now}
}

// With returns a Recorder that adds key=value to every event.
func (r Recorder) With(key, value string) Recorder {
	labels := make(map[string]string, len(r.labels)+1)
	for k, v := range r.labels {
		labels[k] = v
	}
	labels[key] = value
	r.labels = labels
	return r
}

// Count emits a counter increment of 1. kv is a flat list of label pairs.
func (r Recorder) Count(name string, kv ...string) {
	r.emit(name, KindCounter, 1, kv)
}

// Gauge emits an absolute gauge value.
func (r Recorder) Gauge(name string, value float64, kv ...string) {
	r.emit(name, KindGauge, value, kv)
}

// Observe emits a histogram sample.
func (r Recorder) Observe(name string, value float64, kv ...string) {
	r.emit(name, KindHistogram, value, kv)
}

func (r Recorder) emit(name string, kind Kind, value float64, kv []string) {
	if r.sink == nil {
		return
	}
	labels := make(map[string]string, len(r.labels)+len(kv)/2)
	for k, v := range r.labels {
		labels[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		labels[kv[i]] = kv[i+1]
	}
	ts := time.Now()
	if r.now != nil {
		ts = r.now()
	}
	r.sink.Emit(Event{Name: name, Kind: kind, Labels: labels, Value: value, Timestamp: ts})
}

type (
	correlationKey struct{}
	attemptKey     struct{}
)

// WithCorrelationID stores id on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored on ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx carrying a correlation id, generating a
// UUID when none is present, along with the id.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

// WithAttempt stores the 1-based attempt number of a retried call on ctx.
func WithAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

// Attempt returns the attempt number stored on ctx, or 0.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}
