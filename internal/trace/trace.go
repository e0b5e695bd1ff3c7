// Package trace holds the in-flight trace registry, the plugin-facing
// capture API and the pointcut-driven function transformer. Completed traces
// are handed to the sink, which persists them asynchronously.
package trace

import (
	"context"
	"sync"
	"time"
)

// Span is one timed operation inside a trace. Offsets are relative to the
// trace start so a persisted detail block is self-contained.
type Span struct {
	Message       string `json:"message"`
	Depth         int    `json:"depth"`
	OffsetNanos   int64  `json:"offsetNanos"`
	DurationNanos int64  `json:"durationNanos"`
	ErrorText     string `json:"errorText,omitempty"`
}

// Trace is a single captured request. All methods are safe for concurrent
// use and safe on a nil receiver, so call sites never need to check whether
// capture is enabled.
type Trace struct {
	mu           sync.Mutex
	id           string
	headline     string
	start        time.Time
	end          time.Time
	userID       string
	attributes   map[string]string
	metrics      map[string]int64
	spans        []Span
	maxSpans     int
	droppedSpans int
	activeDepth  int
}

// ID returns the trace id, or "" on a nil trace.
func (t *Trace) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// Headline returns the trace headline, or "" on a nil trace.
func (t *Trace) Headline() string {
	if t == nil {
		return ""
	}
	return t.headline
}

// StartTime returns when the trace began.
func (t *Trace) StartTime() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.start
}

// Duration returns the elapsed time so far, or the final duration once the
// trace has ended.
func (t *Trace) Duration() time.Duration {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.end.IsZero() {
		return time.Since(t.start)
	}
	return t.end.Sub(t.start)
}

// SetUser associates the trace with a user id.
func (t *Trace) SetUser(userID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userID = userID
}

// UserID returns the associated user id, or "" on a nil trace.
func (t *Trace) UserID() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// SetAttribute records a key/value attribute on the trace.
func (t *Trace) SetAttribute(key, value string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attributes[key] = value
}

// RecordMetric adds elapsed time to the named metric total.
func (t *Trace) RecordMetric(name string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics[name] += elapsed.Nanoseconds()
}

// Spans returns a copy of the recorded spans.
func (t *Trace) Spans() []Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// DroppedSpans returns how many spans were rejected by the span limit.
func (t *Trace) DroppedSpans() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.droppedSpans
}

// startSpan reserves a span slot and returns the handle used to end it.
// Past the span limit the handle is inert and the drop is counted.
func (t *Trace) startSpan(message string) *ActiveSpan {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxSpans > 0 && len(t.spans) >= t.maxSpans {
		t.droppedSpans++
		return &ActiveSpan{}
	}

	depth := t.activeDepth
	t.activeDepth++
	t.spans = append(t.spans, Span{
		Message:     message,
		Depth:       depth,
		OffsetNanos: time.Since(t.start).Nanoseconds(),
	})
	return &ActiveSpan{trace: t, index: len(t.spans) - 1, start: time.Now()}
}

func (t *Trace) endSpan(index int, start time.Time, errText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans[index].DurationNanos = time.Since(start).Nanoseconds()
	t.spans[index].ErrorText = errText
	if t.activeDepth > 0 {
		t.activeDepth--
	}
}

func (t *Trace) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.end.IsZero() {
		t.end = time.Now()
	}
}

func (t *Trace) snapshotLocked() detail {
	attributes := make(map[string]string, len(t.attributes))
	for k, v := range t.attributes {
		attributes[k] = v
	}
	metrics := make(map[string]int64, len(t.metrics))
	for k, v := range t.metrics {
		metrics[k] = v
	}
	spans := make([]Span, len(t.spans))
	copy(spans, t.spans)
	return detail{
		ID:            t.id,
		Headline:      t.headline,
		Start:         t.start.UTC(),
		DurationNanos: t.end.Sub(t.start).Nanoseconds(),
		UserID:        t.userID,
		Attributes:    attributes,
		Metrics:       metrics,
		Spans:         spans,
		DroppedSpans:  t.droppedSpans,
	}
}

func (t *Trace) snapshot() detail {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// detail is the persisted block layout for a completed trace.
type detail struct {
	ID            string            `json:"id"`
	Headline      string            `json:"headline"`
	Start         time.Time         `json:"start"`
	DurationNanos int64             `json:"durationNanos"`
	UserID        string            `json:"userId,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Metrics       map[string]int64  `json:"metrics,omitempty"`
	Spans         []Span            `json:"spans"`
	DroppedSpans  int               `json:"droppedSpans,omitempty"`
}

// ActiveSpan is the handle returned by span starts. End must be called
// exactly once; a nil or inert handle tolerates End calls.
type ActiveSpan struct {
	trace *Trace
	index int
	start time.Time
	done  bool
}

// End closes the span with no error.
func (s *ActiveSpan) End() {
	s.EndWithError(nil)
}

// EndWithError closes the span, recording err's text when non-nil.
func (s *ActiveSpan) EndWithError(err error) {
	if s == nil || s.trace == nil || s.done {
		return
	}
	s.done = true
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	s.trace.endSpan(s.index, s.start, errText)
}

type contextKey struct{}

// ContextWithTrace returns a context carrying t.
func ContextWithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the trace carried by ctx, or nil.
func FromContext(ctx context.Context) *Trace {
	t, _ := ctx.Value(contextKey{}).(*Trace)
	return t
}
