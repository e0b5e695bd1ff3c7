package trace

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spyglass-apm/spyglass/internal/config"
	"github.com/spyglass-apm/spyglass/internal/core"
	"github.com/spyglass-apm/spyglass/internal/logging"
)

// Module owns the registry of in-flight traces and hands completed ones to
// the sink. Capture decisions read the config store on every call, so
// configuration changes apply to the next trace without any re-wiring.
type Module struct {
	store *config.Store
	sink  *Sink
	log   *logging.Logger

	mu     sync.RWMutex
	active map[string]*Trace
}

// NewModule wires the trace registry to the config store and the sink.
func NewModule(store *config.Store, sink *Sink, log *logging.Logger) *Module {
	if log == nil {
		log = logging.NewNop()
	}
	return &Module{
		store:  store,
		sink:   sink,
		log:    log,
		active: make(map[string]*Trace),
	}
}

// StartTrace begins a new trace and stores it in the returned context. When
// capture is disabled it returns ctx unchanged and a nil trace; every Trace
// method tolerates the nil, so callers need no enabled check of their own.
func (m *Module) StartTrace(ctx context.Context, headline string) (context.Context, *Trace) {
	general := m.store.General()
	if !general.Enabled {
		return ctx, nil
	}

	t := &Trace{
		id:         uuid.NewString(),
		headline:   headline,
		start:      time.Now(),
		attributes: make(map[string]string),
		metrics:    make(map[string]int64),
		maxSpans:   general.MaxSpans,
	}

	m.mu.Lock()
	m.active[t.id] = t
	m.mu.Unlock()

	return ContextWithTrace(ctx, t), t
}

// EndTrace completes t, removes it from the active registry and offers it to
// the sink when it clears the store threshold. A nil trace is a no-op.
func (m *Module) EndTrace(t *Trace) {
	if t == nil {
		return
	}
	t.complete()

	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()

	if m.sink == nil {
		return
	}

	duration := t.Duration()
	threshold, stuckAfter := m.storeThresholds(t.UserID())
	stuck := stuckAfter > 0 && duration >= stuckAfter
	if duration >= threshold || stuck {
		m.sink.Offer(t, stuck)
	}
}

// storeThresholds resolves the effective store threshold and stuck threshold
// for a trace. A matching enabled user config overrides the general store
// threshold.
func (m *Module) storeThresholds(userID string) (time.Duration, time.Duration) {
	general := m.store.General()
	threshold := time.Duration(general.StoreThresholdMillis) * time.Millisecond

	user := m.store.User()
	if user.Enabled && user.UserID != "" && user.UserID == userID {
		threshold = time.Duration(user.StoreThresholdMillis) * time.Millisecond
	}

	stuckAfter := time.Duration(general.StuckThresholdSeconds) * time.Second
	return threshold, stuckAfter
}

// ActiveCount returns the number of traces currently in flight.
func (m *Module) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveTraces returns the in-flight traces, ordered oldest first.
func (m *Module) ActiveTraces() []*Trace {
	m.mu.RLock()
	out := make([]*Trace, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// Transformer returns the pointcut-driven function wrapper backed by this
// module.
func (m *Module) Transformer() *Transformer {
	return &Transformer{module: m}
}

// PluginServices returns the capture API handle for a registered plugin.
// Unknown plugin ids are an error; handles are never minted by guesswork.
func (m *Module) PluginServices(pluginID string) (*PluginServices, error) {
	if _, ok := m.store.Registry().Descriptor(pluginID); !ok {
		return nil, core.ErrNotFound("plugin", pluginID)
	}
	return &PluginServices{module: m, pluginID: pluginID}, nil
}

// PluginServices is the per-plugin capture API. Property reads go through
// the config store on every call and fall back to the descriptor default
// when the stored value is missing or mistyped.
type PluginServices struct {
	module   *Module
	pluginID string
}

// PluginID returns the plugin this handle serves.
func (ps *PluginServices) PluginID() string {
	return ps.pluginID
}

// Enabled reports whether both the agent and this plugin are enabled.
func (ps *PluginServices) Enabled() bool {
	if !ps.module.store.General().Enabled {
		return false
	}
	plugin, err := ps.module.store.Plugin(ps.pluginID)
	if err != nil {
		return false
	}
	return plugin.Enabled
}

// StringProperty returns the named string property value.
func (ps *PluginServices) StringProperty(name string) string {
	v, _ := ps.propertyValue(name, config.PropertyString).(string)
	return v
}

// BooleanProperty returns the named boolean property value.
func (ps *PluginServices) BooleanProperty(name string) bool {
	v, _ := ps.propertyValue(name, config.PropertyBoolean).(bool)
	return v
}

// DoubleProperty returns the named double property value.
func (ps *PluginServices) DoubleProperty(name string) float64 {
	v, _ := ps.propertyValue(name, config.PropertyDouble).(float64)
	return v
}

func (ps *PluginServices) propertyValue(name, wantType string) any {
	desc, ok := ps.module.store.Registry().Descriptor(ps.pluginID)
	if !ok {
		return nil
	}
	prop, ok := desc.Property(name)
	if !ok || prop.Type != wantType {
		return nil
	}

	plugin, err := ps.module.store.Plugin(ps.pluginID)
	if err != nil {
		return prop.Default
	}
	value, ok := plugin.Properties[name]
	if !ok {
		return prop.Default
	}
	switch wantType {
	case config.PropertyString:
		if s, ok := value.(string); ok {
			return s
		}
	case config.PropertyBoolean:
		if b, ok := value.(bool); ok {
			return b
		}
	case config.PropertyDouble:
		if f, ok := value.(float64); ok {
			return f
		}
	}
	return prop.Default
}

// StartTrace begins a trace on behalf of this plugin. Returns a nil trace
// when the agent or the plugin is disabled.
func (ps *PluginServices) StartTrace(ctx context.Context, headline string) (context.Context, *Trace) {
	if !ps.Enabled() {
		return ctx, nil
	}
	return ps.module.StartTrace(ctx, headline)
}

// EndTrace completes a trace started through this handle.
func (ps *PluginServices) EndTrace(t *Trace) {
	ps.module.EndTrace(t)
}

// StartSpan records a span on the trace carried by ctx. Without an active
// trace it returns an inert handle, warning when the config asks for that.
func (ps *PluginServices) StartSpan(ctx context.Context, message string) *ActiveSpan {
	t := FromContext(ctx)
	if t == nil {
		if ps.module.store.General().WarnOnSpanOutsideTrace {
			ps.module.log.Warn("span started outside a trace",
				"plugin", ps.pluginID,
				"message", message,
			)
		}
		return &ActiveSpan{}
	}
	return t.startSpan(message)
}
