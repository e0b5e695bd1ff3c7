// Package spyglass embeds the monitoring agent in a host process. Attach
// starts the agent once per process; failures are reported through the log
// and never propagate, so a host missing its data directory or losing the
// lock race keeps running uninstrumented.
package spyglass

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/spyglass-apm/spyglass/internal/agent"
	"github.com/spyglass-apm/spyglass/internal/config"
	"github.com/spyglass-apm/spyglass/internal/core"
	"github.com/spyglass-apm/spyglass/internal/logging"
	"github.com/spyglass-apm/spyglass/internal/trace"
)

// Instrumentation-facing types, aliased so hosts never import internal
// packages.
type (
	Transformer      = trace.Transformer
	PluginServices   = trace.PluginServices
	Trace            = trace.Trace
	ActiveSpan       = trace.ActiveSpan
	PluginDescriptor = config.PluginDescriptor
	PluginProperty   = config.PluginProperty
)

const shutdownTimeout = 10 * time.Second

// Options carry the launch settings for the embedded agent. Unset fields
// fall back to the ambient launch properties: SPYGLASS_* environment
// variables, then a spyglass.yaml in the working directory, then defaults.
type Options struct {
	// DataDir holds the config document, lock marker, and trace stores.
	// The property default is "spyglass-data" under the working directory.
	DataDir string

	// UIHost and UIPort locate the local HTTP server. The property defaults
	// are loopback and port 4000; a port of 0 picks an ephemeral port.
	UIHost string
	UIPort int

	// PluginDir is an optional directory of plugin descriptor documents.
	PluginDir string

	// Descriptors registers plugins directly, in addition to PluginDir.
	Descriptors []PluginDescriptor

	// Facility receives the transformer once the agent is running. Nil
	// leaves the host uninstrumented (viewer-style attach).
	Facility func(*Transformer)

	LogLevel  string
	LogFormat string
}

var (
	mu       sync.Mutex
	attached bool
	active   *agent.Agent
)

// Attach starts the embedded agent. At most one attach succeeds per process;
// later calls, including after Detach, are ignored. Start failures are
// logged and swallowed.
func Attach(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	props, propsErr := config.NewPropertyLoader().Load()
	if propsErr == nil {
		opts = withProperties(opts, props)
	}
	log := newLogger(opts)

	if attached {
		log.Debug("agent already attached; ignoring")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("agent attach panicked", "panic", r)
		}
	}()

	if propsErr != nil {
		log.Error("loading launch properties failed", "error", propsErr)
		return
	}

	registry, err := buildRegistry(opts, log)
	if err != nil {
		log.Error("loading plugin descriptors failed", "error", err)
		return
	}

	a := agent.New(agent.Options{
		DataDir:  opts.DataDir,
		UIHost:   opts.UIHost,
		UIPort:   opts.UIPort,
		Registry: registry,
		Facility: opts.Facility,
		Logger:   log,
	})
	if err := a.Start(); err != nil {
		if core.IsLockConflict(err) && isStopInvocation(os.Args) {
			log.Info("data directory owned by a running agent; stop invocation leaves it alone",
				"data_dir", opts.DataDir)
		} else {
			log.Error("agent start failed", "error", err)
		}
		return
	}

	active = a
	attached = true
}

// withProperties fills unset options from the loaded launch properties.
// Explicit options always win.
func withProperties(opts Options, props config.Properties) Options {
	if opts.DataDir == "" {
		opts.DataDir = props.DataDir
	}
	if opts.UIHost == "" {
		opts.UIHost = props.UIHost
	}
	if opts.UIPort == 0 {
		opts.UIPort = props.UIPort
	}
	if opts.PluginDir == "" {
		opts.PluginDir = props.PluginDir
	}
	if opts.LogLevel == "" {
		opts.LogLevel = props.LogLevel
	}
	if opts.LogFormat == "" {
		opts.LogFormat = props.LogFormat
	}
	return opts
}

// Detach stops the attached agent, flushing pending traces and releasing the
// data directory. The process's single start stays spent: a later Attach
// does not restart the agent.
func Detach() error {
	mu.Lock()
	a := active
	active = nil
	mu.Unlock()

	if a == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Close(ctx)
}

// Active reports whether an agent is attached and running.
func Active() bool {
	mu.Lock()
	defer mu.Unlock()
	return active != nil && active.State() == agent.StateRunning
}

// UIAddr returns the attached agent's UI address, or "" when none is
// running.
func UIAddr() string {
	mu.Lock()
	defer mu.Unlock()
	if active == nil {
		return ""
	}
	return active.UIAddr()
}

// Plugin returns the capability handle for a registered plugin.
func Plugin(pluginID string) (*PluginServices, error) {
	mu.Lock()
	a := active
	mu.Unlock()

	if a == nil {
		return nil, core.ErrLifecycle(core.CodeInvalidState, "no agent attached")
	}
	traces := a.Traces()
	if traces == nil {
		return nil, core.ErrLifecycle(core.CodeInvalidState, "no agent attached")
	}
	return traces.PluginServices(pluginID)
}

func newLogger(opts Options) *logging.Logger {
	cfg := logging.DefaultConfig()
	if opts.LogLevel != "" {
		cfg.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Format = opts.LogFormat
	}
	return logging.New(cfg).WithModule("spyglass")
}

func buildRegistry(opts Options, log *logging.Logger) (*config.Registry, error) {
	descriptors := append([]PluginDescriptor(nil), opts.Descriptors...)
	if opts.PluginDir != "" {
		loaded, err := config.LoadPluginDescriptors(opts.PluginDir)
		if err != nil {
			return nil, err
		}
		log.Debug("plugin descriptors loaded", "dir", opts.PluginDir, "count", len(loaded))
		descriptors = append(descriptors, loaded...)
	}
	return config.NewRegistry(descriptors...)
}

// A companion "stop" launch of the host reuses the same arguments with a
// trailing stop verb; its agent must not fight the running one for the lock.
func isStopInvocation(args []string) bool {
	return len(args) > 1 && args[len(args)-1] == "stop"
}
