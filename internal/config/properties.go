package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Properties are the agent launch settings, read once at attach time. They
// are distinct from the managed aggregates: they say where the data directory
// lives and how the local UI binds, not what the agent captures.
type Properties struct {
	DataDir   string `mapstructure:"data_dir"`
	UIHost    string `mapstructure:"ui_host"`
	UIPort    int    `mapstructure:"ui_port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	PluginDir string `mapstructure:"plugin_dir"`
}

// PropertyLoader reads launch properties from flags, environment, an optional
// YAML file, and defaults.
type PropertyLoader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewPropertyLoader creates a loader with its own viper instance.
func NewPropertyLoader() *PropertyLoader {
	return &PropertyLoader{
		v:         viper.New(),
		envPrefix: "SPYGLASS",
	}
}

// NewPropertyLoaderWithViper creates a loader using an existing viper
// instance. This allows integration with CLI flag bindings.
func NewPropertyLoaderWithViper(v *viper.Viper) *PropertyLoader {
	return &PropertyLoader{
		v:         v,
		envPrefix: "SPYGLASS",
	}
}

// WithConfigFile sets an explicit properties file path.
func (l *PropertyLoader) WithConfigFile(path string) *PropertyLoader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *PropertyLoader) Viper() *viper.Viper {
	return l.v
}

// Load reads properties from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (SPYGLASS_*)
// 3. Properties file (spyglass.yaml, when present)
// 4. Defaults
func (l *PropertyLoader) Load() (Properties, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("spyglass")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
	}

	// Read properties file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Properties{}, fmt.Errorf("reading properties: %w", err)
		}
	}

	var props Properties
	if err := l.v.Unmarshal(&props); err != nil {
		return Properties{}, fmt.Errorf("unmarshaling properties: %w", err)
	}
	if err := props.Validate(); err != nil {
		return Properties{}, err
	}
	return props, nil
}

// setDefaults configures default values.
func (l *PropertyLoader) setDefaults() {
	l.v.SetDefault("data_dir", "spyglass-data")
	l.v.SetDefault("ui_host", "127.0.0.1")
	l.v.SetDefault("ui_port", 4000)
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "auto")
	l.v.SetDefault("plugin_dir", "")
}

// Validate checks the loaded properties.
func (p Properties) Validate() error {
	if p.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if p.UIPort < 0 || p.UIPort > 65535 {
		return fmt.Errorf("ui_port %d out of range", p.UIPort)
	}
	return nil
}
