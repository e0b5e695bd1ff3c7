package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/spyglass-apm/spyglass/internal/config"
)

// Transformer rewrites functions according to the configured pointcuts. It
// is the single object handed to the host's instrumentation facility; the
// host wraps its interesting call sites once and the transformer consults
// the live pointcut list on every invocation, so config edits take effect
// without re-wrapping.
type Transformer struct {
	module *Module
}

// Wrap instruments a package-level function. Functions with no matching
// pointcut run unchanged.
func (tr *Transformer) Wrap(packagePath, functionName string, fn func(context.Context) error) func(context.Context) error {
	return tr.wrap(packagePath, "", functionName, fn)
}

// WrapMethod instruments a method; receiverType must match the pointcut's
// receiver type exactly.
func (tr *Transformer) WrapMethod(packagePath, receiverType, functionName string, fn func(context.Context) error) func(context.Context) error {
	return tr.wrap(packagePath, receiverType, functionName, fn)
}

func (tr *Transformer) wrap(packagePath, receiverType, functionName string, fn func(context.Context) error) func(context.Context) error {
	qualified := qualifiedName(packagePath, receiverType, functionName)

	return func(ctx context.Context) error {
		if !tr.module.store.General().Enabled {
			return fn(ctx)
		}

		pc, ok := tr.match(packagePath, receiverType, functionName)
		if !ok {
			return fn(ctx)
		}

		name := pc.SpanTemplate
		if name == "" {
			name = qualified
		}
		metricName := pc.MetricName
		if metricName == "" {
			metricName = qualified
		}

		t := FromContext(ctx)
		startedTrace := false
		if capturesItem(pc.CaptureItems, "trace") && t == nil {
			ctx, t = tr.module.StartTrace(ctx, name)
			startedTrace = t != nil
		}

		var span *ActiveSpan
		if capturesItem(pc.CaptureItems, "span") {
			span = t.startSpan(name)
		}

		begin := time.Now()
		err := fn(ctx)

		if capturesItem(pc.CaptureItems, "metric") {
			t.RecordMetric(metricName, time.Since(begin))
		}
		span.EndWithError(err)
		if startedTrace {
			tr.module.EndTrace(t)
		}
		return err
	}
}

// match returns the first pointcut for the given target. Duplicates are
// legal in the config; the first one wins, same as the store's own
// first-match addressing.
func (tr *Transformer) match(packagePath, receiverType, functionName string) (config.PointcutConfig, bool) {
	for _, pc := range tr.module.store.Pointcuts() {
		if pc.PackagePath == packagePath &&
			pc.ReceiverType == receiverType &&
			pc.FunctionName == functionName {
			return pc.PointcutConfig, true
		}
	}
	return config.PointcutConfig{}, false
}

func qualifiedName(packagePath, receiverType, functionName string) string {
	if receiverType != "" {
		return fmt.Sprintf("%s.(%s).%s", packagePath, receiverType, functionName)
	}
	return packagePath + "." + functionName
}

func capturesItem(items []string, item string) bool {
	for _, it := range items {
		if it == item {
			return true
		}
	}
	return false
}
