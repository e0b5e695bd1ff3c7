package trace

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/spyglass-apm/spyglass/internal/logging"
	"github.com/spyglass-apm/spyglass/internal/storage"
)

// SummaryStore persists the queryable summary row for a completed trace.
type SummaryStore interface {
	StoreTraceSummary(ctx context.Context, s storage.TraceSummary) error
}

// BlockStore persists a trace detail block and returns its offset.
type BlockStore interface {
	Append(data []byte) (int64, error)
}

const (
	defaultQueueSize = 100
	defaultWorkers   = 2
)

type sinkSettings struct {
	queueSize int
	workers   int
}

// SinkOption adjusts sink construction.
type SinkOption func(*sinkSettings)

// WithQueueSize sets the bounded queue length.
func WithQueueSize(n int) SinkOption {
	return func(s *sinkSettings) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWorkers sets the number of drain workers.
func WithWorkers(n int) SinkOption {
	return func(s *sinkSettings) {
		if n > 0 {
			s.workers = n
		}
	}
}

type sinkEntry struct {
	trace *Trace
	stuck bool
}

// Sink drains completed traces to storage off the request path. The queue is
// bounded; when it is full the trace is dropped and counted rather than
// blocking the caller.
type Sink struct {
	summaries SummaryStore
	blocks    BlockStore
	log       *logging.Logger
	workers   int

	queue   chan sinkEntry
	group   *errgroup.Group
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewSink builds a sink over the given stores. A nil block store skips
// detail persistence and records summaries only.
func NewSink(summaries SummaryStore, blocks BlockStore, log *logging.Logger, opts ...SinkOption) *Sink {
	if log == nil {
		log = logging.NewNop()
	}
	settings := sinkSettings{queueSize: defaultQueueSize, workers: defaultWorkers}
	for _, opt := range opts {
		opt(&settings)
	}
	return &Sink{
		summaries: summaries,
		blocks:    blocks,
		log:       log,
		workers:   settings.workers,
		queue:     make(chan sinkEntry, settings.queueSize),
	}
}

// Start launches the drain workers. Entries offered before Start sit in the
// queue until the workers come up.
func (s *Sink) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	s.group = g
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for entry := range s.queue {
				s.store(ctx, entry)
			}
			return nil
		})
	}
}

// Offer hands a completed trace to the sink without blocking. Saturation and
// offers after close increment the dropped counter.
func (s *Sink) Offer(t *Trace, stuck bool) {
	if t == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- sinkEntry{trace: t, stuck: stuck}:
	default:
		s.dropped.Add(1)
		s.log.Warn("trace sink queue full; dropping trace", "trace_id", t.ID())
	}
}

// Dropped returns how many traces were discarded by a full or closed queue.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting traces, drains the queue and waits for the workers.
// Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

func (s *Sink) store(ctx context.Context, entry sinkEntry) {
	d := entry.trace.snapshot()

	data, err := json.Marshal(d)
	if err != nil {
		s.log.Error("encoding trace detail failed", "trace_id", d.ID, "error", err)
		return
	}

	blockOffset, blockSize := int64(-1), int64(-1)
	if s.blocks != nil {
		offset, err := s.blocks.Append(data)
		if err != nil {
			s.log.Warn("storing trace detail block failed", "trace_id", d.ID, "error", err)
		} else {
			blockOffset = offset
			blockSize = int64(len(data))
		}
	}

	attributes := ""
	if len(d.Attributes) > 0 {
		if encoded, err := json.Marshal(d.Attributes); err == nil {
			attributes = string(encoded)
		}
	}
	metrics := ""
	if len(d.Metrics) > 0 {
		if encoded, err := json.Marshal(d.Metrics); err == nil {
			metrics = string(encoded)
		}
	}

	summary := storage.TraceSummary{
		ID:            d.ID,
		CapturedAt:    d.Start,
		DurationNanos: d.DurationNanos,
		Completed:     true,
		Stuck:         entry.stuck,
		Headline:      d.Headline,
		UserID:        d.UserID,
		Attributes:    attributes,
		Metrics:       metrics,
		BlockOffset:   blockOffset,
		BlockSize:     blockSize,
	}
	if err := s.summaries.StoreTraceSummary(ctx, summary); err != nil {
		s.log.Error("storing trace summary failed", "trace_id", d.ID, "error", err)
	}
}
