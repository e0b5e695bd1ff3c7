package trace

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakeBlockStore struct {
	mu     sync.Mutex
	blocks [][]byte
	err    error
}

func (f *fakeBlockStore) Append(data []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	offset := int64(24)
	for _, b := range f.blocks {
		offset += int64(8 + len(b))
	}
	f.blocks = append(f.blocks, append([]byte(nil), data...))
	return offset, nil
}

func (f *fakeBlockStore) stored() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.blocks))
	copy(out, f.blocks)
	return out
}

func makeSinkTrace(id, headline string) *Trace {
	t := &Trace{
		id:         id,
		headline:   headline,
		start:      time.Now().Add(-50 * time.Millisecond),
		attributes: map[string]string{"route": "/orders"},
		metrics:    map[string]int64{"db": 1_000_000},
	}
	t.startSpan("db query").End()
	t.complete()
	return t
}

func TestSink_StoresSummaryAndBlock(t *testing.T) {
	summaries := &fakeSummaryStore{}
	blocks := &fakeBlockStore{}
	sink := NewSink(summaries, blocks, nil)
	sink.Start(context.Background())

	sink.Offer(makeSinkTrace("trace-1", "GET /orders"), false)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stored := summaries.stored()
	if len(stored) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(stored))
	}
	s := stored[0]
	if s.ID != "trace-1" {
		t.Errorf("ID = %s, want trace-1", s.ID)
	}
	if s.Headline != "GET /orders" {
		t.Errorf("Headline = %q, want GET /orders", s.Headline)
	}
	if s.DurationNanos <= 0 {
		t.Errorf("DurationNanos = %d, want > 0", s.DurationNanos)
	}

	blockData := blocks.stored()
	if len(blockData) != 1 {
		t.Fatalf("stored %d blocks, want 1", len(blockData))
	}
	if s.BlockOffset != 24 {
		t.Errorf("BlockOffset = %d, want 24", s.BlockOffset)
	}
	if s.BlockSize != int64(len(blockData[0])) {
		t.Errorf("BlockSize = %d, want %d", s.BlockSize, len(blockData[0]))
	}

	var d detail
	if err := json.Unmarshal(blockData[0], &d); err != nil {
		t.Fatalf("detail block should be valid JSON: %v", err)
	}
	if d.ID != "trace-1" {
		t.Errorf("detail ID = %s, want trace-1", d.ID)
	}
	if len(d.Spans) != 1 {
		t.Errorf("detail spans = %d, want 1", len(d.Spans))
	}
	if d.Attributes["route"] != "/orders" {
		t.Errorf("detail attributes = %v, want route=/orders", d.Attributes)
	}
}

func TestSink_NilBlockStore(t *testing.T) {
	summaries := &fakeSummaryStore{}
	sink := NewSink(summaries, nil, nil)
	sink.Start(context.Background())

	sink.Offer(makeSinkTrace("trace-1", "summary only"), false)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stored := summaries.stored()
	if len(stored) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(stored))
	}
	if stored[0].BlockOffset != -1 || stored[0].BlockSize != -1 {
		t.Errorf("block ref = (%d, %d), want (-1, -1)",
			stored[0].BlockOffset, stored[0].BlockSize)
	}
}

func TestSink_BlockFailureKeepsSummary(t *testing.T) {
	summaries := &fakeSummaryStore{}
	blocks := &fakeBlockStore{err: context.DeadlineExceeded}
	sink := NewSink(summaries, blocks, nil)
	sink.Start(context.Background())

	sink.Offer(makeSinkTrace("trace-1", "detail failed"), false)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stored := summaries.stored()
	if len(stored) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(stored))
	}
	if stored[0].BlockOffset != -1 {
		t.Errorf("BlockOffset = %d, want -1 after block failure", stored[0].BlockOffset)
	}
}

func TestSink_DropsWhenSaturated(t *testing.T) {
	summaries := &fakeSummaryStore{}
	sink := NewSink(summaries, nil, nil, WithQueueSize(1), WithWorkers(1))

	// Workers are not started yet, so only one entry fits in the queue.
	sink.Offer(makeSinkTrace("queued", "queued"), false)
	sink.Offer(makeSinkTrace("dropped-1", "dropped"), false)
	sink.Offer(makeSinkTrace("dropped-2", "dropped"), false)

	if got := sink.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	sink.Start(context.Background())
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stored := summaries.stored()
	if len(stored) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(stored))
	}
	if stored[0].ID != "queued" {
		t.Errorf("stored ID = %s, want queued", stored[0].ID)
	}
}

func TestSink_OfferAfterCloseDrops(t *testing.T) {
	summaries := &fakeSummaryStore{}
	sink := NewSink(summaries, nil, nil)
	sink.Start(context.Background())
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sink.Offer(makeSinkTrace("late", "late"), false)
	if got := sink.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if len(summaries.stored()) != 0 {
		t.Error("nothing should be stored after close")
	}
}

func TestSink_StuckFlagPropagates(t *testing.T) {
	summaries := &fakeSummaryStore{}
	sink := NewSink(summaries, nil, nil)
	sink.Start(context.Background())

	sink.Offer(makeSinkTrace("stuck-trace", "slow"), true)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stored := summaries.stored()
	if len(stored) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(stored))
	}
	if !stored[0].Stuck {
		t.Error("Stuck flag should propagate to the summary")
	}
}

func TestSink_NilTraceIgnored(t *testing.T) {
	sink := NewSink(&fakeSummaryStore{}, nil, nil)
	sink.Offer(nil, false)
	if got := sink.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestSink_CloseIdempotent(t *testing.T) {
	sink := NewSink(&fakeSummaryStore{}, nil, nil)
	sink.Start(context.Background())
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}
