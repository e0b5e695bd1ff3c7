package api

import (
	"context"
	"time"

	"github.com/spyglass-apm/spyglass/internal/config"
	"github.com/spyglass-apm/spyglass/internal/core"
	"github.com/spyglass-apm/spyglass/internal/diagnostics"
	"github.com/spyglass-apm/spyglass/internal/logging"
	"github.com/spyglass-apm/spyglass/internal/storage"
	"github.com/spyglass-apm/spyglass/internal/trace"
)

// Gateway mediates between the HTTP layer and the config store. Every write
// goes through the same discipline: strict decode, overlay onto the current
// value, compare-and-swap against the payload's version hash, then any side
// effect the section calls for.
type Gateway struct {
	store   *config.Store
	rolling *storage.RollingFile
	data    *storage.DataSource
	traces  *trace.Module
	sink    *trace.Sink
	process *diagnostics.ProcessMetricsCollector
	dataDir string
	uiPort  int
	log     *logging.Logger
}

// GatewayDeps carries the modules the gateway exposes. Store is required;
// the rest degrade gracefully when absent (offline inspection keeps the
// config surface working without a live trace pipeline).
type GatewayDeps struct {
	Store   *config.Store
	Rolling *storage.RollingFile
	Data    *storage.DataSource
	Traces  *trace.Module
	Sink    *trace.Sink
	DataDir string
	UIPort  int
	Logger  *logging.Logger
}

// NewGateway creates a gateway over the given modules.
func NewGateway(deps GatewayDeps) *Gateway {
	log := deps.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Gateway{
		store:   deps.Store,
		rolling: deps.Rolling,
		data:    deps.Data,
		traces:  deps.Traces,
		sink:    deps.Sink,
		process: diagnostics.NewProcessMetricsCollector(),
		dataDir: deps.DataDir,
		uiPort:  deps.UIPort,
		log:     log,
	}
}

// ConfigSnapshot is the full configuration view served to the UI: every
// aggregate with its version hash, the plugin descriptors, and the agent's
// runtime coordinates.
type ConfigSnapshot struct {
	General           config.GeneralAggregate           `json:"generalConfig"`
	CoarseProfiling   config.CoarseProfilingAggregate   `json:"coarseProfilingConfig"`
	FineProfiling     config.FineProfilingAggregate     `json:"fineProfilingConfig"`
	User              config.UserAggregate              `json:"userConfig"`
	PluginDescriptors []config.PluginDescriptor         `json:"pluginDescriptors"`
	PluginConfigs     map[string]config.PluginAggregate `json:"pluginConfigs"`
	Pointcuts         []config.PointcutAggregate        `json:"pointcutConfigs"`
	DataDir           string                            `json:"dataDir"`
	UIPort            int                               `json:"uiPort"`
}

// Snapshot assembles the current configuration view.
func (g *Gateway) Snapshot() ConfigSnapshot {
	return ConfigSnapshot{
		General:           g.store.General(),
		CoarseProfiling:   g.store.CoarseProfiling(),
		FineProfiling:     g.store.FineProfiling(),
		User:              g.store.User(),
		PluginDescriptors: g.store.Registry().Descriptors(),
		PluginConfigs:     g.store.Plugins(),
		Pointcuts:         g.store.Pointcuts(),
		DataDir:           g.dataDir,
		UIPort:            g.uiPort,
	}
}

// UpdateGeneral applies a partial update to the general section. A changed
// rolling size is pushed to the rolling file after the swap; the resize is
// idempotent, so replays of the same capacity cost nothing.
func (g *Gateway) UpdateGeneral(payload []byte) (config.GeneralAggregate, error) {
	update, err := config.DecodeGeneralUpdate(payload)
	if err != nil {
		return config.GeneralAggregate{}, err
	}
	if update.VersionHash == nil {
		return config.GeneralAggregate{}, core.ErrMissingField("versionHash")
	}

	next := config.OverlayGeneral(g.store.General().GeneralConfig, update)
	if _, err := g.store.UpdateGeneral(next, *update.VersionHash); err != nil {
		return config.GeneralAggregate{}, err
	}

	g.applyRollingCapacity()
	return g.store.General(), nil
}

func (g *Gateway) applyRollingCapacity() {
	if g.rolling == nil {
		return
	}
	capacity := int64(g.store.General().RollingSizeMb) * 1024 * 1024
	if err := g.rolling.Resize(capacity); err != nil {
		g.log.Warn("applying rolling file capacity failed",
			"capacity_bytes", capacity,
			"error", err,
		)
	}
}

// UpdateCoarseProfiling applies a partial update to the coarse profiling
// section.
func (g *Gateway) UpdateCoarseProfiling(payload []byte) (config.CoarseProfilingAggregate, error) {
	update, err := config.DecodeCoarseProfilingUpdate(payload)
	if err != nil {
		return config.CoarseProfilingAggregate{}, err
	}
	if update.VersionHash == nil {
		return config.CoarseProfilingAggregate{}, core.ErrMissingField("versionHash")
	}

	next := config.OverlayCoarseProfiling(g.store.CoarseProfiling().CoarseProfilingConfig, update)
	if _, err := g.store.UpdateCoarseProfiling(next, *update.VersionHash); err != nil {
		return config.CoarseProfilingAggregate{}, err
	}
	return g.store.CoarseProfiling(), nil
}

// UpdateFineProfiling applies a partial update to the fine profiling section.
func (g *Gateway) UpdateFineProfiling(payload []byte) (config.FineProfilingAggregate, error) {
	update, err := config.DecodeFineProfilingUpdate(payload)
	if err != nil {
		return config.FineProfilingAggregate{}, err
	}
	if update.VersionHash == nil {
		return config.FineProfilingAggregate{}, core.ErrMissingField("versionHash")
	}

	next := config.OverlayFineProfiling(g.store.FineProfiling().FineProfilingConfig, update)
	if _, err := g.store.UpdateFineProfiling(next, *update.VersionHash); err != nil {
		return config.FineProfilingAggregate{}, err
	}
	return g.store.FineProfiling(), nil
}

// UpdateUser applies a partial update to the user capture section.
func (g *Gateway) UpdateUser(payload []byte) (config.UserAggregate, error) {
	update, err := config.DecodeUserUpdate(payload)
	if err != nil {
		return config.UserAggregate{}, err
	}
	if update.VersionHash == nil {
		return config.UserAggregate{}, core.ErrMissingField("versionHash")
	}

	next := config.OverlayUser(g.store.User().UserConfig, update)
	if _, err := g.store.UpdateUser(next, *update.VersionHash); err != nil {
		return config.UserAggregate{}, err
	}
	return g.store.User(), nil
}

// UpdatePlugin applies a partial update to one plugin's config. Properties
// are validated against the plugin's descriptor.
func (g *Gateway) UpdatePlugin(pluginID string, payload []byte) (config.PluginAggregate, error) {
	current, err := g.store.Plugin(pluginID)
	if err != nil {
		return config.PluginAggregate{}, err
	}
	desc, ok := g.store.Registry().Descriptor(pluginID)
	if !ok {
		return config.PluginAggregate{}, core.ErrNotFound("plugin", pluginID)
	}

	update, err := config.DecodePluginUpdate(payload)
	if err != nil {
		return config.PluginAggregate{}, err
	}
	if update.VersionHash == nil {
		return config.PluginAggregate{}, core.ErrMissingField("versionHash")
	}

	next, err := config.OverlayPlugin(desc, current.PluginConfig, update)
	if err != nil {
		return config.PluginAggregate{}, err
	}
	if _, err := g.store.UpdatePlugin(pluginID, next, *update.VersionHash); err != nil {
		return config.PluginAggregate{}, err
	}
	return g.store.Plugin(pluginID)
}

// PluginAggregate returns one plugin's current aggregate.
func (g *Gateway) PluginAggregate(pluginID string) (config.PluginAggregate, error) {
	return g.store.Plugin(pluginID)
}

// AddPointcut inserts a new pointcut and returns it with its assigned hash.
func (g *Gateway) AddPointcut(payload []byte) (config.PointcutAggregate, error) {
	cfg, err := config.DecodePointcutConfig(payload)
	if err != nil {
		return config.PointcutAggregate{}, err
	}
	hash, err := g.store.InsertPointcut(cfg)
	if err != nil {
		return config.PointcutAggregate{}, err
	}
	return config.PointcutAggregate{PointcutConfig: cfg, VersionHash: hash}, nil
}

// UpdatePointcut replaces the pointcut addressed by priorHash.
func (g *Gateway) UpdatePointcut(priorHash string, payload []byte) (config.PointcutAggregate, error) {
	cfg, err := config.DecodePointcutConfig(payload)
	if err != nil {
		return config.PointcutAggregate{}, err
	}
	hash, err := g.store.UpdatePointcut(priorHash, cfg)
	if err != nil {
		return config.PointcutAggregate{}, err
	}
	return config.PointcutAggregate{PointcutConfig: cfg, VersionHash: hash}, nil
}

// RemovePointcut deletes the pointcut addressed by hash.
func (g *Gateway) RemovePointcut(hash string) error {
	return g.store.DeletePointcut(hash)
}

// TraceSummaryView is the wire form of one stored trace summary.
type TraceSummaryView struct {
	ID            string `json:"id"`
	CapturedAt    string `json:"capturedAt"`
	DurationNanos int64  `json:"durationNanos"`
	Completed     bool   `json:"completed"`
	Stuck         bool   `json:"stuck"`
	Headline      string `json:"headline"`
	UserID        string `json:"userId,omitempty"`
	Attributes    string `json:"attributes,omitempty"`
	Metrics       string `json:"metrics,omitempty"`
}

// TracesView is the response for the recent-traces listing.
type TracesView struct {
	Total   int64              `json:"total"`
	Active  int                `json:"active"`
	Dropped int64              `json:"dropped"`
	Traces  []TraceSummaryView `json:"traces"`
}

// RecentTraces lists stored summaries, newest first, along with the live
// pipeline counters.
func (g *Gateway) RecentTraces(ctx context.Context, limit int) (TracesView, error) {
	view := TracesView{Traces: []TraceSummaryView{}}
	if g.traces != nil {
		view.Active = g.traces.ActiveCount()
	}
	if g.sink != nil {
		view.Dropped = g.sink.Dropped()
	}
	if g.data == nil {
		return view, nil
	}

	total, err := g.data.TraceCount(ctx)
	if err != nil {
		return TracesView{}, err
	}
	view.Total = total

	summaries, err := g.data.RecentTraces(ctx, limit)
	if err != nil {
		return TracesView{}, err
	}
	for _, s := range summaries {
		view.Traces = append(view.Traces, toTraceSummaryView(s))
	}
	return view, nil
}

func toTraceSummaryView(s storage.TraceSummary) TraceSummaryView {
	return TraceSummaryView{
		ID:            s.ID,
		CapturedAt:    s.CapturedAt.UTC().Format(time.RFC3339),
		DurationNanos: s.DurationNanos,
		Completed:     s.Completed,
		Stuck:         s.Stuck,
		Headline:      s.Headline,
		UserID:        s.UserID,
		Attributes:    s.Attributes,
		Metrics:       s.Metrics,
	}
}

// ProcessMetrics returns the current process snapshot.
func (g *Gateway) ProcessMetrics() diagnostics.ProcessMetrics {
	return g.process.Collect()
}
