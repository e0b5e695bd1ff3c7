package config

// GeneralConfig holds the agent-wide capture settings.
type GeneralConfig struct {
	Enabled                bool `json:"enabled"`
	StoreThresholdMillis   int  `json:"storeThresholdMillis"`
	StuckThresholdSeconds  int  `json:"stuckThresholdSeconds"`
	MaxSpans               int  `json:"maxSpans"`
	RollingSizeMb          int  `json:"rollingSizeMb"`
	WarnOnSpanOutsideTrace bool `json:"warnOnSpanOutsideTrace"`
}

// DefaultGeneralConfig returns the seeded general settings.
func DefaultGeneralConfig() GeneralConfig {
	return GeneralConfig{
		Enabled:               true,
		StoreThresholdMillis:  3000,
		StuckThresholdSeconds: 180,
		MaxSpans:              5000,
		RollingSizeMb:         100,
	}
}

// CoarseProfilingConfig controls the always-on sampling profiler.
type CoarseProfilingConfig struct {
	Enabled            bool `json:"enabled"`
	InitialDelayMillis int  `json:"initialDelayMillis"`
	IntervalMillis     int  `json:"intervalMillis"`
	TotalSeconds       int  `json:"totalSeconds"`
}

// DefaultCoarseProfilingConfig returns the seeded coarse profiling settings.
func DefaultCoarseProfilingConfig() CoarseProfilingConfig {
	return CoarseProfilingConfig{
		Enabled:            true,
		InitialDelayMillis: 1000,
		IntervalMillis:     500,
		TotalSeconds:       300,
	}
}

// FineProfilingConfig controls the per-trace sampling profiler applied to a
// percentage of traces. StoreThresholdMillis -1 inherits the general threshold.
type FineProfilingConfig struct {
	Enabled              bool    `json:"enabled"`
	TracePercentage      float64 `json:"tracePercentage"`
	IntervalMillis       int     `json:"intervalMillis"`
	TotalSeconds         int     `json:"totalSeconds"`
	StoreThresholdMillis int     `json:"storeThresholdMillis"`
}

// DefaultFineProfilingConfig returns the seeded fine profiling settings.
func DefaultFineProfilingConfig() FineProfilingConfig {
	return FineProfilingConfig{
		Enabled:              true,
		TracePercentage:      0,
		IntervalMillis:       50,
		TotalSeconds:         10,
		StoreThresholdMillis: -1,
	}
}

// UserConfig enables targeted capture for a single user id, typically with a
// lower store threshold than the general setting.
type UserConfig struct {
	Enabled              bool   `json:"enabled"`
	UserID               string `json:"userId"`
	StoreThresholdMillis int    `json:"storeThresholdMillis"`
	FineProfiling        bool   `json:"fineProfiling"`
}

// DefaultUserConfig returns the seeded user capture settings.
func DefaultUserConfig() UserConfig {
	return UserConfig{
		Enabled:              false,
		UserID:               "",
		StoreThresholdMillis: 0,
		FineProfiling:        true,
	}
}

// PluginConfig holds one plugin's toggle and its typed option values. Keys and
// value types are constrained by the plugin's descriptor.
type PluginConfig struct {
	Enabled    bool           `json:"enabled"`
	Properties map[string]any `json:"properties"`
}

// PointcutConfig describes one ad hoc instrumentation target. CaptureItems
// says what the wrapper records: "metric", "span", "trace".
type PointcutConfig struct {
	PackagePath  string   `json:"packagePath"`
	FunctionName string   `json:"functionName"`
	ReceiverType string   `json:"receiverType,omitempty"`
	CaptureItems []string `json:"captureItems"`
	MetricName   string   `json:"metricName,omitempty"`
	SpanTemplate string   `json:"spanTemplate,omitempty"`
}

// GeneralAggregate pairs the general settings with their version hash.
// Marshaling flattens the value's fields alongside versionHash.
type GeneralAggregate struct {
	GeneralConfig
	VersionHash string `json:"versionHash"`
}

// CoarseProfilingAggregate pairs the coarse profiling settings with their
// version hash.
type CoarseProfilingAggregate struct {
	CoarseProfilingConfig
	VersionHash string `json:"versionHash"`
}

// FineProfilingAggregate pairs the fine profiling settings with their version
// hash.
type FineProfilingAggregate struct {
	FineProfilingConfig
	VersionHash string `json:"versionHash"`
}

// UserAggregate pairs the user capture settings with their version hash.
type UserAggregate struct {
	UserConfig
	VersionHash string `json:"versionHash"`
}

// PluginAggregate pairs a plugin config value with its version hash.
type PluginAggregate struct {
	PluginConfig
	VersionHash string `json:"versionHash"`
}

// PointcutAggregate pairs a pointcut value with its version hash, the hash
// being the entry's address for update and remove.
type PointcutAggregate struct {
	PointcutConfig
	VersionHash string `json:"versionHash"`
}

var validCaptureItems = map[string]bool{
	"metric": true,
	"span":   true,
	"trace":  true,
}
