package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spyglass-apm/spyglass/internal/core"
)

// GeneralUpdate represents a partial update to the general settings. Nil
// fields are left unchanged. VersionHash carries the caller's claimed
// current hash.
type GeneralUpdate struct {
	Enabled                *bool   `json:"enabled,omitempty"`
	StoreThresholdMillis   *int    `json:"storeThresholdMillis,omitempty"`
	StuckThresholdSeconds  *int    `json:"stuckThresholdSeconds,omitempty"`
	MaxSpans               *int    `json:"maxSpans,omitempty"`
	RollingSizeMb          *int    `json:"rollingSizeMb,omitempty"`
	WarnOnSpanOutsideTrace *bool   `json:"warnOnSpanOutsideTrace,omitempty"`
	VersionHash            *string `json:"versionHash,omitempty"`
}

// CoarseProfilingUpdate represents a partial update to the coarse profiling
// settings.
type CoarseProfilingUpdate struct {
	Enabled            *bool   `json:"enabled,omitempty"`
	InitialDelayMillis *int    `json:"initialDelayMillis,omitempty"`
	IntervalMillis     *int    `json:"intervalMillis,omitempty"`
	TotalSeconds       *int    `json:"totalSeconds,omitempty"`
	VersionHash        *string `json:"versionHash,omitempty"`
}

// FineProfilingUpdate represents a partial update to the fine profiling
// settings.
type FineProfilingUpdate struct {
	Enabled              *bool    `json:"enabled,omitempty"`
	TracePercentage      *float64 `json:"tracePercentage,omitempty"`
	IntervalMillis       *int     `json:"intervalMillis,omitempty"`
	TotalSeconds         *int     `json:"totalSeconds,omitempty"`
	StoreThresholdMillis *int     `json:"storeThresholdMillis,omitempty"`
	VersionHash          *string  `json:"versionHash,omitempty"`
}

// UserUpdate represents a partial update to the user capture settings.
type UserUpdate struct {
	Enabled              *bool   `json:"enabled,omitempty"`
	UserID               *string `json:"userId,omitempty"`
	StoreThresholdMillis *int    `json:"storeThresholdMillis,omitempty"`
	FineProfiling        *bool   `json:"fineProfiling,omitempty"`
	VersionHash          *string `json:"versionHash,omitempty"`
}

// PluginUpdate represents a partial update to one plugin's config. Property
// values stay raw until validated against the plugin's descriptor.
type PluginUpdate struct {
	Enabled     *bool                      `json:"enabled,omitempty"`
	Properties  map[string]json.RawMessage `json:"properties,omitempty"`
	VersionHash *string                    `json:"versionHash,omitempty"`
}

func decodeStrict(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.ErrMalformedPayload(err.Error())
	}
	if dec.More() {
		return core.ErrMalformedPayload("unexpected trailing data after payload")
	}
	return nil
}

// DecodeGeneralUpdate parses a partial general settings payload, rejecting
// unknown fields.
func DecodeGeneralUpdate(payload []byte) (*GeneralUpdate, error) {
	var u GeneralUpdate
	if err := decodeStrict(payload, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodeCoarseProfilingUpdate parses a partial coarse profiling payload.
func DecodeCoarseProfilingUpdate(payload []byte) (*CoarseProfilingUpdate, error) {
	var u CoarseProfilingUpdate
	if err := decodeStrict(payload, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodeFineProfilingUpdate parses a partial fine profiling payload.
func DecodeFineProfilingUpdate(payload []byte) (*FineProfilingUpdate, error) {
	var u FineProfilingUpdate
	if err := decodeStrict(payload, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodeUserUpdate parses a partial user capture payload.
func DecodeUserUpdate(payload []byte) (*UserUpdate, error) {
	var u UserUpdate
	if err := decodeStrict(payload, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodePluginUpdate parses a partial plugin config payload. Property values
// are validated later, against the plugin's descriptor.
func DecodePluginUpdate(payload []byte) (*PluginUpdate, error) {
	var u PluginUpdate
	if err := decodeStrict(payload, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// OverlayGeneral merges non-nil update fields onto cfg and returns the result.
func OverlayGeneral(cfg GeneralConfig, update *GeneralUpdate) GeneralConfig {
	if update.Enabled != nil {
		cfg.Enabled = *update.Enabled
	}
	if update.StoreThresholdMillis != nil {
		cfg.StoreThresholdMillis = *update.StoreThresholdMillis
	}
	if update.StuckThresholdSeconds != nil {
		cfg.StuckThresholdSeconds = *update.StuckThresholdSeconds
	}
	if update.MaxSpans != nil {
		cfg.MaxSpans = *update.MaxSpans
	}
	if update.RollingSizeMb != nil {
		cfg.RollingSizeMb = *update.RollingSizeMb
	}
	if update.WarnOnSpanOutsideTrace != nil {
		cfg.WarnOnSpanOutsideTrace = *update.WarnOnSpanOutsideTrace
	}
	return cfg
}

// OverlayCoarseProfiling merges non-nil update fields onto cfg.
func OverlayCoarseProfiling(cfg CoarseProfilingConfig, update *CoarseProfilingUpdate) CoarseProfilingConfig {
	if update.Enabled != nil {
		cfg.Enabled = *update.Enabled
	}
	if update.InitialDelayMillis != nil {
		cfg.InitialDelayMillis = *update.InitialDelayMillis
	}
	if update.IntervalMillis != nil {
		cfg.IntervalMillis = *update.IntervalMillis
	}
	if update.TotalSeconds != nil {
		cfg.TotalSeconds = *update.TotalSeconds
	}
	return cfg
}

// OverlayFineProfiling merges non-nil update fields onto cfg.
func OverlayFineProfiling(cfg FineProfilingConfig, update *FineProfilingUpdate) FineProfilingConfig {
	if update.Enabled != nil {
		cfg.Enabled = *update.Enabled
	}
	if update.TracePercentage != nil {
		cfg.TracePercentage = *update.TracePercentage
	}
	if update.IntervalMillis != nil {
		cfg.IntervalMillis = *update.IntervalMillis
	}
	if update.TotalSeconds != nil {
		cfg.TotalSeconds = *update.TotalSeconds
	}
	if update.StoreThresholdMillis != nil {
		cfg.StoreThresholdMillis = *update.StoreThresholdMillis
	}
	return cfg
}

// OverlayUser merges non-nil update fields onto cfg.
func OverlayUser(cfg UserConfig, update *UserUpdate) UserConfig {
	if update.Enabled != nil {
		cfg.Enabled = *update.Enabled
	}
	if update.UserID != nil {
		cfg.UserID = *update.UserID
	}
	if update.StoreThresholdMillis != nil {
		cfg.StoreThresholdMillis = *update.StoreThresholdMillis
	}
	if update.FineProfiling != nil {
		cfg.FineProfiling = *update.FineProfiling
	}
	return cfg
}

// OverlayPlugin merges a plugin update onto cfg, checking each property name
// and value type against the plugin's descriptor. Any unknown property or
// mistyped value fails the whole merge.
func OverlayPlugin(desc PluginDescriptor, cfg PluginConfig, update *PluginUpdate) (PluginConfig, error) {
	props := make(map[string]any, len(cfg.Properties))
	for name, value := range cfg.Properties {
		props[name] = value
	}
	cfg.Properties = props

	if update.Enabled != nil {
		cfg.Enabled = *update.Enabled
	}
	for name, raw := range update.Properties {
		prop, ok := desc.Property(name)
		if !ok {
			return PluginConfig{}, core.ErrMalformedPayload(
				fmt.Sprintf("plugin %q has no property %q", desc.ID, name))
		}
		value, err := decodePropertyValue(prop, raw)
		if err != nil {
			return PluginConfig{}, err
		}
		cfg.Properties[name] = value
	}
	return cfg, nil
}

func decodePropertyValue(prop PluginProperty, raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, core.ErrMalformedPayload(
			fmt.Sprintf("property %q must not be null", prop.Name))
	}
	switch prop.Type {
	case PropertyString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, core.ErrMalformedPayload(
				fmt.Sprintf("property %q expects a string value", prop.Name))
		}
		return v, nil
	case PropertyBoolean:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, core.ErrMalformedPayload(
				fmt.Sprintf("property %q expects a boolean value", prop.Name))
		}
		return v, nil
	case PropertyDouble:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, core.ErrMalformedPayload(
				fmt.Sprintf("property %q expects a numeric value", prop.Name))
		}
		return v, nil
	}
	return nil, core.ErrMalformedPayload(
		fmt.Sprintf("property %q has unsupported type %q", prop.Name, prop.Type))
}

// DecodePointcutConfig parses a full pointcut payload, rejecting unknown
// fields. A versionHash field is tolerated so stored entries round-trip.
func DecodePointcutConfig(payload []byte) (PointcutConfig, error) {
	var p struct {
		PointcutConfig
		VersionHash *string `json:"versionHash,omitempty"`
	}
	if err := decodeStrict(payload, &p); err != nil {
		return PointcutConfig{}, err
	}
	if err := ValidatePointcut(p.PointcutConfig); err != nil {
		return PointcutConfig{}, err
	}
	return p.PointcutConfig, nil
}

// ValidatePointcut checks the required target fields and capture item names.
func ValidatePointcut(cfg PointcutConfig) error {
	if cfg.PackagePath == "" {
		return core.ErrMissingField("packagePath")
	}
	if cfg.FunctionName == "" {
		return core.ErrMissingField("functionName")
	}
	for _, item := range cfg.CaptureItems {
		if !validCaptureItems[item] {
			return core.ErrMalformedPayload(fmt.Sprintf("unknown capture item %q", item))
		}
	}
	return nil
}
