// Package agent assembles the spyglass modules and owns their lifecycle.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spyglass-apm/spyglass/internal/api"
	"github.com/spyglass-apm/spyglass/internal/config"
	"github.com/spyglass-apm/spyglass/internal/core"
	"github.com/spyglass-apm/spyglass/internal/guard"
	"github.com/spyglass-apm/spyglass/internal/logging"
	"github.com/spyglass-apm/spyglass/internal/storage"
	"github.com/spyglass-apm/spyglass/internal/trace"
)

// State is the agent lifecycle state.
type State int

const (
	StateUnstarted State = iota
	StateStarting
	StateRunning
	StateFailedStart
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailedStart:
		return "failed_start"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configure an agent instance.
type Options struct {
	// DataDir is the directory holding the config document, the lock marker,
	// and the trace stores.
	DataDir string

	// UIHost and UIPort locate the local HTTP server. An empty host means
	// loopback; port 0 picks an ephemeral port.
	UIHost string
	UIPort int

	// Registry lists the plugins the agent knows about. Nil means none.
	Registry *config.Registry

	// Facility receives the transformer once the agent is running. Nil means
	// viewer mode: the agent serves its UI without instrumenting anything.
	Facility func(*trace.Transformer)

	Logger *logging.Logger
}

// Agent is the running assembly of modules over one data directory. Start
// builds the chain guard, config, data source, trace sink, trace module, UI
// server; Close tears it down in reverse.
type Agent struct {
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	state   State
	guard   *guard.Guard
	store   *config.Store
	data    *storage.DataSource
	rolling *storage.RollingFile
	sink    *trace.Sink
	traces  *trace.Module
	server  *api.Server
}

// New creates an agent in the unstarted state.
func New(opts Options) *Agent {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Agent{opts: opts, log: log}
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Store returns the config store, or nil unless the agent is running.
func (a *Agent) Store() *config.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store
}

// Traces returns the trace module, or nil unless the agent is running.
func (a *Agent) Traces() *trace.Module {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.traces
}

// UIAddr returns the bound UI address, or "" unless the agent is running.
func (a *Agent) UIAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Start claims the data directory and brings up every module. On any failure
// the modules already built are torn down in reverse, the claim is released,
// and the agent ends in the failed_start state with nothing reachable.
//
// Start is valid once, from the unstarted state. A started agent is never
// disturbed by a second call.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateUnstarted {
		return core.ErrLifecycle(core.CodeInvalidState,
			fmt.Sprintf("start is not valid from state %s", a.state))
	}
	a.state = StateStarting

	g, err := guard.Acquire(a.opts.DataDir, a.log)
	if err != nil {
		a.state = StateFailedStart
		return err
	}

	registry := a.opts.Registry
	if registry == nil {
		registry, err = config.NewRegistry()
		if err != nil {
			a.state = StateFailedStart
			a.releaseGuard(g)
			return core.ErrStartup("building empty plugin registry").WithCause(err)
		}
	}

	store, err := config.Open(a.opts.DataDir, registry, a.log.WithModule("config"))
	if err != nil {
		a.state = StateFailedStart
		a.releaseGuard(g)
		return core.ErrStartup("opening config store").WithCause(err)
	}

	data, err := storage.NewDataSource(filepath.Join(a.opts.DataDir, storage.DBFileName))
	if err != nil {
		a.state = StateFailedStart
		a.releaseGuard(g)
		return core.ErrStartup("opening trace data source").WithCause(err)
	}

	capacity := int64(store.General().RollingSizeMb) * 1024 * 1024
	rolling, err := storage.NewRollingFile(
		filepath.Join(a.opts.DataDir, storage.RollingFileName), capacity, a.log.WithModule("storage"))
	if err != nil {
		a.state = StateFailedStart
		data.Close()
		a.releaseGuard(g)
		return core.ErrStartup("opening rolling file").WithCause(err)
	}

	sink := trace.NewSink(data, rolling, a.log.WithModule("sink"))
	sink.Start(context.Background())

	traces := trace.NewModule(store, sink, a.log.WithModule("trace"))

	gateway := api.NewGateway(api.GatewayDeps{
		Store:   store,
		Rolling: rolling,
		Data:    data,
		Traces:  traces,
		Sink:    sink,
		DataDir: a.opts.DataDir,
		UIPort:  a.opts.UIPort,
		Logger:  a.log.WithModule("api"),
	})
	server := api.NewServer(gateway, api.WithLogger(a.log.WithModule("api")))

	host := a.opts.UIHost
	if host == "" {
		host = "127.0.0.1"
	}
	if err := server.Start(host, a.opts.UIPort); err != nil {
		a.state = StateFailedStart
		sink.Close()
		rolling.Close()
		data.Close()
		a.releaseGuard(g)
		return core.ErrStartup("starting ui server").WithCause(err)
	}

	a.guard = g
	a.store = store
	a.data = data
	a.rolling = rolling
	a.sink = sink
	a.traces = traces
	a.server = server
	a.state = StateRunning

	a.log.Info("agent running",
		"data_dir", a.opts.DataDir,
		"ui_addr", server.Addr(),
	)

	if a.opts.Facility != nil {
		a.opts.Facility(traces.Transformer())
	}
	return nil
}

// Close tears the modules down in reverse order and releases the data
// directory. It is valid from the running state; closing a closed agent is a
// no-op. A close from any other state is a sequencing error.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateClosed:
		return nil
	case StateRunning:
	default:
		return core.ErrLifecycle(core.CodeInvalidState,
			fmt.Sprintf("close is not valid from state %s", a.state))
	}

	var firstErr error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
			return
		}
		a.log.Warn("shutdown step failed", "step", step, "error", err)
	}

	record("shutting down ui server", a.server.Shutdown(ctx))
	record("closing trace sink", a.sink.Close())
	record("closing rolling file", a.rolling.Close())
	record("closing trace data source", a.data.Close())
	record("releasing data directory", a.guard.Release())

	a.server = nil
	a.traces = nil
	a.sink = nil
	a.rolling = nil
	a.data = nil
	a.store = nil
	a.guard = nil
	a.state = StateClosed

	a.log.Info("agent closed", "data_dir", a.opts.DataDir)
	return firstErr
}

func (a *Agent) releaseGuard(g *guard.Guard) {
	if err := g.Release(); err != nil {
		a.log.Warn("releasing data directory after failed start", "error", err)
	}
}
