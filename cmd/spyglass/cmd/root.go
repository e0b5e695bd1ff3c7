package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	dataDir   string
	uiPort    int
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "spyglass",
	Short: "Control plane for the spyglass monitoring agent",
	Long: `spyglass manages a monitoring agent data directory: the configuration
document, the trace stores, and the local web UI.

The agent itself is embedded in a host process; this command inspects and
serves a data directory from outside.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .spyglass/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "spyglass-data",
		"agent data directory")
	rootCmd.PersistentFlags().IntVar(&uiPort, "ui-port", 4000,
		"local web UI port")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("ui_port", rootCmd.PersistentFlags().Lookup("ui-port"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() error {
	viper.SetDefault("data_dir", "spyglass-data")
	viper.SetDefault("ui_port", 4000)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "auto")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".spyglass")
		viper.AddConfigPath("$HOME/.config/spyglass")
	}

	viper.SetEnvPrefix("SPYGLASS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return nil
}
