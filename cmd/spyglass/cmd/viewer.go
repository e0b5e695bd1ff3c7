package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spyglass-apm/spyglass/internal/agent"
	"github.com/spyglass-apm/spyglass/internal/config"
	"github.com/spyglass-apm/spyglass/internal/logging"
)

var (
	viewerHost      string
	viewerPluginDir string
)

var viewerCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Serve the web UI over an existing data directory",
	Long: `Start the web UI and configuration API over a data directory without
instrumenting anything. Useful for inspecting traces captured by another
process, or for editing configuration while the instrumented host is down.

The viewer takes the same exclusive lock on the data directory as an
embedded agent, so it cannot run while the instrumented host is up.`,
	RunE: runViewer,
}

func init() {
	rootCmd.AddCommand(viewerCmd)

	viewerCmd.Flags().StringVar(&viewerHost, "host", "127.0.0.1", "interface the UI server binds to")
	viewerCmd.Flags().StringVar(&viewerPluginDir, "plugin-dir", "", "directory of plugin descriptor files")
}

func runViewer(_ *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
		Output: os.Stdout,
	})

	var descriptors []config.PluginDescriptor
	if viewerPluginDir != "" {
		loaded, err := config.LoadPluginDescriptors(viewerPluginDir)
		if err != nil {
			return fmt.Errorf("loading plugin descriptors: %w", err)
		}
		logger.Debug("loaded plugin descriptors", "count", len(loaded), "dir", viewerPluginDir)
		descriptors = loaded
	}
	registry, err := config.NewRegistry(descriptors...)
	if err != nil {
		return fmt.Errorf("building plugin registry: %w", err)
	}

	a := agent.New(agent.Options{
		DataDir:  viper.GetString("data_dir"),
		UIHost:   viewerHost,
		UIPort:   viper.GetInt("ui_port"),
		Registry: registry,
		Logger:   logger,
	})
	if err := a.Start(); err != nil {
		return fmt.Errorf("starting viewer: %w", err)
	}
	logger.Info("viewer started", "ui_addr", a.UIAddr(), "data_dir", viper.GetString("data_dir"))

	watchCtx, stopWatch := context.WithCancel(context.Background())
	go func() {
		if err := config.WatchDocument(watchCtx, a.Store(), logger); err != nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down viewer...")
	stopWatch()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		return fmt.Errorf("viewer shutdown: %w", err)
	}

	logger.Info("viewer stopped")
	return nil
}
