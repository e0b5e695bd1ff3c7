package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Property types a plugin descriptor may declare.
const (
	PropertyString  = "string"
	PropertyBoolean = "boolean"
	PropertyDouble  = "double"
)

// PluginProperty describes one configurable plugin option.
type PluginProperty struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Default any    `yaml:"default,omitempty" json:"default,omitempty"`
	Label   string `yaml:"label,omitempty" json:"label,omitempty"`
	Hidden  bool   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// PluginDescriptor is a plugin's immutable metadata: identity plus the schema
// of its configurable properties.
type PluginDescriptor struct {
	ID         string           `yaml:"id" json:"id"`
	Name       string           `yaml:"name" json:"name"`
	Version    string           `yaml:"version" json:"version"`
	Properties []PluginProperty `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Property looks up a property by name.
func (d PluginDescriptor) Property(name string) (PluginProperty, bool) {
	for _, prop := range d.Properties {
		if prop.Name == name {
			return prop, true
		}
	}
	return PluginProperty{}, false
}

// DefaultConfig returns the descriptor's seeded config: enabled, with every
// property at its declared default.
func (d PluginDescriptor) DefaultConfig() PluginConfig {
	props := make(map[string]any, len(d.Properties))
	for _, prop := range d.Properties {
		props[prop.Name] = prop.Default
	}
	return PluginConfig{Enabled: true, Properties: props}
}

func validateDescriptor(d *PluginDescriptor) error {
	if d.ID == "" {
		return fmt.Errorf("plugin descriptor missing id")
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	seen := make(map[string]bool, len(d.Properties))
	for i := range d.Properties {
		prop := &d.Properties[i]
		if prop.Name == "" {
			return fmt.Errorf("plugin %q: property %d missing name", d.ID, i)
		}
		if seen[prop.Name] {
			return fmt.Errorf("plugin %q: duplicate property %q", d.ID, prop.Name)
		}
		seen[prop.Name] = true
		normalized, err := normalizeDefault(*prop)
		if err != nil {
			return fmt.Errorf("plugin %q: %w", d.ID, err)
		}
		prop.Default = normalized
	}
	return nil
}

// normalizeDefault coerces a property default to its declared type. YAML
// decodes whole numbers as int, so double defaults need widening.
func normalizeDefault(prop PluginProperty) (any, error) {
	switch prop.Type {
	case PropertyString:
		if prop.Default == nil {
			return "", nil
		}
		v, ok := prop.Default.(string)
		if !ok {
			return nil, fmt.Errorf("property %q: default %v is not a string", prop.Name, prop.Default)
		}
		return v, nil
	case PropertyBoolean:
		if prop.Default == nil {
			return false, nil
		}
		v, ok := prop.Default.(bool)
		if !ok {
			return nil, fmt.Errorf("property %q: default %v is not a boolean", prop.Name, prop.Default)
		}
		return v, nil
	case PropertyDouble:
		switch v := prop.Default.(type) {
		case nil:
			return float64(0), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		return nil, fmt.Errorf("property %q: default %v is not numeric", prop.Name, prop.Default)
	}
	return nil, fmt.Errorf("property %q: unsupported type %q", prop.Name, prop.Type)
}

// Registry holds the plugin descriptors registered for this process, keyed by
// id. It is immutable once built.
type Registry struct {
	descriptors []PluginDescriptor
	byID        map[string]PluginDescriptor
}

// NewRegistry validates the descriptors and builds the id index. Descriptors
// are sorted by id for stable iteration.
func NewRegistry(descriptors ...PluginDescriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make([]PluginDescriptor, 0, len(descriptors)),
		byID:        make(map[string]PluginDescriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if err := validateDescriptor(&d); err != nil {
			return nil, err
		}
		if _, exists := r.byID[d.ID]; exists {
			return nil, fmt.Errorf("duplicate plugin id %q", d.ID)
		}
		r.byID[d.ID] = d
		r.descriptors = append(r.descriptors, d)
	}
	sort.Slice(r.descriptors, func(i, j int) bool {
		return r.descriptors[i].ID < r.descriptors[j].ID
	})
	return r, nil
}

// Descriptor looks up a plugin descriptor by id.
func (r *Registry) Descriptor(id string) (PluginDescriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Descriptors returns all descriptors sorted by id.
func (r *Registry) Descriptors() []PluginDescriptor {
	out := make([]PluginDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// IDs returns the registered plugin ids sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		ids = append(ids, d.ID)
	}
	return ids
}

// ParsePluginDescriptor reads one YAML descriptor document.
func ParsePluginDescriptor(data []byte) (PluginDescriptor, error) {
	var d PluginDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return PluginDescriptor{}, fmt.Errorf("parsing plugin descriptor: %w", err)
	}
	if err := validateDescriptor(&d); err != nil {
		return PluginDescriptor{}, err
	}
	return d, nil
}

// LoadPluginDescriptors reads every .yaml/.yml descriptor in dir, sorted by
// file name. A missing directory yields an empty set.
func LoadPluginDescriptors(dir string) ([]PluginDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading plugin descriptor directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	descriptors := make([]PluginDescriptor, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading plugin descriptor %s: %w", name, err)
		}
		d, err := ParsePluginDescriptor(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
