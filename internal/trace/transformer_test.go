package trace

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spyglass-apm/spyglass/internal/config"
)

func insertPointcut(t *testing.T, store *config.Store, pc config.PointcutConfig) {
	t.Helper()
	if _, err := store.InsertPointcut(pc); err != nil {
		t.Fatalf("InsertPointcut() error = %v", err)
	}
}

func TestTransformer_UnmatchedPassThrough(t *testing.T) {
	store := newTraceTestStore(t)
	m := NewModule(store, nil, nil)

	called := false
	wrapped := m.Transformer().Wrap("example.com/app/db", "Query", func(ctx context.Context) error {
		called = true
		if FromContext(ctx) != nil {
			t.Error("unmatched function should not start a trace")
		}
		return nil
	})

	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
	if !called {
		t.Fatal("wrapped function did not run")
	}
}

func TestTransformer_StartsTraceAndRecords(t *testing.T) {
	store := newTraceTestStore(t)
	setGeneral(t, store, func(g *config.GeneralConfig) { g.StoreThresholdMillis = 0 })
	insertPointcut(t, store, config.PointcutConfig{
		PackagePath:  "example.com/app/db",
		FunctionName: "Query",
		CaptureItems: []string{"trace", "span", "metric"},
		SpanTemplate: "db query",
		MetricName:   "db-query",
	})

	summaries := &fakeSummaryStore{}
	sink := NewSink(summaries, nil, nil)
	sink.Start(context.Background())
	m := NewModule(store, sink, nil)

	wrapped := m.Transformer().Wrap("example.com/app/db", "Query", func(ctx context.Context) error {
		if FromContext(ctx) == nil {
			t.Error("matched function should run inside a trace")
		}
		return nil
	})

	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d after return, want 0", m.ActiveCount())
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stored := summaries.stored()
	if len(stored) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(stored))
	}
	if stored[0].Headline != "db query" {
		t.Errorf("headline = %q, want %q", stored[0].Headline, "db query")
	}
	if !strings.Contains(stored[0].Metrics, "db-query") {
		t.Errorf("metrics %q should contain db-query", stored[0].Metrics)
	}
}

func TestTransformer_JoinsExistingTrace(t *testing.T) {
	store := newTraceTestStore(t)
	insertPointcut(t, store, config.PointcutConfig{
		PackagePath:  "example.com/app/db",
		FunctionName: "Query",
		CaptureItems: []string{"trace", "span"},
	})
	m := NewModule(store, nil, nil)

	ctx, outer := m.StartTrace(context.Background(), "outer")
	wrapped := m.Transformer().Wrap("example.com/app/db", "Query", func(ctx context.Context) error {
		if FromContext(ctx) != outer {
			t.Error("wrapped call should join the outer trace")
		}
		return nil
	})

	if err := wrapped(ctx); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}

	// Joining must not end the outer trace.
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
	spans := outer.Spans()
	if len(spans) != 1 {
		t.Fatalf("len(Spans()) = %d, want 1", len(spans))
	}
	if spans[0].Message != "example.com/app/db.Query" {
		t.Errorf("span message = %q, want qualified name", spans[0].Message)
	}
	m.EndTrace(outer)
}

func TestTransformer_RecordsError(t *testing.T) {
	store := newTraceTestStore(t)
	insertPointcut(t, store, config.PointcutConfig{
		PackagePath:  "example.com/app/db",
		FunctionName: "Query",
		CaptureItems: []string{"span"},
	})
	m := NewModule(store, nil, nil)

	queryErr := errors.New("connection refused")
	wrapped := m.Transformer().Wrap("example.com/app/db", "Query", func(ctx context.Context) error {
		return queryErr
	})

	ctx, tr := m.StartTrace(context.Background(), "outer")
	if err := wrapped(ctx); !errors.Is(err, queryErr) {
		t.Fatalf("wrapped() error = %v, want %v", err, queryErr)
	}
	m.EndTrace(tr)

	spans := tr.Spans()
	if len(spans) != 1 {
		t.Fatalf("len(Spans()) = %d, want 1", len(spans))
	}
	if spans[0].ErrorText != "connection refused" {
		t.Errorf("span error = %q, want %q", spans[0].ErrorText, "connection refused")
	}
}

func TestTransformer_DisabledPassThrough(t *testing.T) {
	store := newTraceTestStore(t)
	insertPointcut(t, store, config.PointcutConfig{
		PackagePath:  "example.com/app/db",
		FunctionName: "Query",
		CaptureItems: []string{"trace"},
	})
	setGeneral(t, store, func(g *config.GeneralConfig) { g.Enabled = false })
	m := NewModule(store, nil, nil)

	wrapped := m.Transformer().Wrap("example.com/app/db", "Query", func(ctx context.Context) error {
		if FromContext(ctx) != nil {
			t.Error("no trace should start while disabled")
		}
		return nil
	})
	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
}

func TestTransformer_ConfigChangeAppliesToExistingWrapper(t *testing.T) {
	store := newTraceTestStore(t)
	m := NewModule(store, nil, nil)

	sawTrace := false
	wrapped := m.Transformer().Wrap("example.com/app/db", "Query", func(ctx context.Context) error {
		sawTrace = FromContext(ctx) != nil
		return nil
	})

	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
	if sawTrace {
		t.Fatal("no pointcut configured yet; call should be untraced")
	}

	insertPointcut(t, store, config.PointcutConfig{
		PackagePath:  "example.com/app/db",
		FunctionName: "Query",
		CaptureItems: []string{"trace"},
	})

	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
	if !sawTrace {
		t.Error("existing wrapper should pick up the new pointcut")
	}
}

func TestTransformer_MethodReceiverMatching(t *testing.T) {
	store := newTraceTestStore(t)
	insertPointcut(t, store, config.PointcutConfig{
		PackagePath:  "example.com/app/repo",
		ReceiverType: "*OrderRepo",
		FunctionName: "Save",
		CaptureItems: []string{"trace"},
	})
	m := NewModule(store, nil, nil)

	methodTraced := false
	method := m.Transformer().WrapMethod("example.com/app/repo", "*OrderRepo", "Save", func(ctx context.Context) error {
		methodTraced = FromContext(ctx) != nil
		return nil
	})
	if err := method(context.Background()); err != nil {
		t.Fatalf("method() error = %v", err)
	}
	if !methodTraced {
		t.Error("method pointcut should match WrapMethod with the same receiver")
	}

	funcTraced := false
	plain := m.Transformer().Wrap("example.com/app/repo", "Save", func(ctx context.Context) error {
		funcTraced = FromContext(ctx) != nil
		return nil
	})
	if err := plain(context.Background()); err != nil {
		t.Fatalf("plain() error = %v", err)
	}
	if funcTraced {
		t.Error("receiver-typed pointcut should not match a plain function")
	}
}
