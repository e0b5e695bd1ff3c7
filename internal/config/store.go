// Package config holds the agent's managed configuration: versioned
// aggregates for general capture, profiling, user capture, per-plugin
// options, and ad hoc pointcuts, persisted as one JSON document under the
// data directory. Every aggregate carries a version hash derived from its
// value; updates are compare-and-set against that hash.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spyglass-apm/spyglass/internal/core"
	"github.com/spyglass-apm/spyglass/internal/logging"
)

// Store is the in-memory home of the managed configuration. All reads and
// writes go through one mutex; a successful mutation is persisted before it
// becomes visible, and a failed persist leaves memory untouched.
type Store struct {
	mu       sync.RWMutex
	path     string
	registry *Registry
	log      *logging.Logger

	general   GeneralAggregate
	coarse    CoarseProfilingAggregate
	fine      FineProfilingAggregate
	user      UserAggregate
	plugins   map[string]PluginAggregate
	pointcuts []PointcutAggregate

	persistedSum string
}

// Open loads the config document from dataDir, seeds defaults for whatever
// is missing, and persists the result. A malformed document is set aside as
// config.json.invalid and replaced with defaults.
func Open(dataDir string, registry *Registry, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if registry == nil {
		registry = &Registry{byID: make(map[string]PluginDescriptor)}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &Store{
		path:     filepath.Join(dataDir, FileName),
		registry: registry,
		log:      log,
	}

	doc, err := readDocument(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			doc = defaultDocument()
		} else {
			asidePath := filepath.Join(dataDir, InvalidFileName)
			if renameErr := os.Rename(s.path, asidePath); renameErr != nil {
				log.Warn("could not set aside invalid config file",
					"path", s.path, "error", renameErr)
			} else {
				log.Warn("config file unreadable, set aside and starting from defaults",
					"path", s.path, "aside", asidePath, "error", err)
			}
			doc = defaultDocument()
		}
	} else if doc.Version != documentVersion {
		log.Warn("config document version differs, keeping recognized fields",
			"found", doc.Version, "expected", documentVersion)
	}

	if err := s.seed(doc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	err = s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// seed installs the document values, reconciling plugin entries against the
// registry: registered plugins missing from the document get descriptor
// defaults, document entries for unregistered plugins are dropped.
func (s *Store) seed(doc document) error {
	var err error
	if s.general, err = newGeneralAggregate(doc.General); err != nil {
		return err
	}
	if s.coarse, err = newCoarseProfilingAggregate(doc.CoarseProfiling); err != nil {
		return err
	}
	if s.fine, err = newFineProfilingAggregate(doc.FineProfiling); err != nil {
		return err
	}
	if s.user, err = newUserAggregate(doc.User); err != nil {
		return err
	}

	s.plugins = make(map[string]PluginAggregate, len(s.registry.byID))
	for id := range doc.Plugins {
		if _, ok := s.registry.Descriptor(id); !ok {
			s.log.Warn("dropping config entry for unregistered plugin", "plugin", id)
		}
	}
	for _, desc := range s.registry.Descriptors() {
		cfg := desc.DefaultConfig()
		if fromFile, ok := doc.Plugins[desc.ID]; ok {
			cfg = reconcilePluginConfig(desc, fromFile, s.log)
		}
		agg, err := newPluginAggregate(cfg)
		if err != nil {
			return err
		}
		s.plugins[desc.ID] = agg
	}

	s.pointcuts = make([]PointcutAggregate, 0, len(doc.Pointcuts))
	for _, cfg := range doc.Pointcuts {
		if err := ValidatePointcut(cfg); err != nil {
			s.log.Warn("dropping invalid pointcut entry",
				"packagePath", cfg.PackagePath, "functionName", cfg.FunctionName, "error", err)
			continue
		}
		agg, err := newPointcutAggregate(cfg)
		if err != nil {
			return err
		}
		s.pointcuts = append(s.pointcuts, agg)
	}
	return nil
}

// reconcilePluginConfig keeps the file's enabled flag and any declared
// properties whose values have the declared type; everything else falls back
// to descriptor defaults.
func reconcilePluginConfig(desc PluginDescriptor, fromFile PluginConfig, log *logging.Logger) PluginConfig {
	cfg := desc.DefaultConfig()
	cfg.Enabled = fromFile.Enabled
	for name, value := range fromFile.Properties {
		prop, ok := desc.Property(name)
		if !ok {
			log.Warn("dropping undeclared plugin property", "plugin", desc.ID, "property", name)
			continue
		}
		coerced, ok := coercePropertyValue(prop, value)
		if !ok {
			log.Warn("plugin property has wrong type, keeping default",
				"plugin", desc.ID, "property", name)
			continue
		}
		cfg.Properties[name] = coerced
	}
	return cfg
}

// coercePropertyValue checks a decoded JSON value against the property type.
// JSON numbers arrive as float64.
func coercePropertyValue(prop PluginProperty, value any) (any, bool) {
	switch prop.Type {
	case PropertyString:
		v, ok := value.(string)
		return v, ok
	case PropertyBoolean:
		v, ok := value.(bool)
		return v, ok
	case PropertyDouble:
		switch v := value.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		}
	}
	return nil, false
}

func newGeneralAggregate(cfg GeneralConfig) (GeneralAggregate, error) {
	hash, err := VersionHash(cfg)
	if err != nil {
		return GeneralAggregate{}, err
	}
	return GeneralAggregate{GeneralConfig: cfg, VersionHash: hash}, nil
}

func newCoarseProfilingAggregate(cfg CoarseProfilingConfig) (CoarseProfilingAggregate, error) {
	hash, err := VersionHash(cfg)
	if err != nil {
		return CoarseProfilingAggregate{}, err
	}
	return CoarseProfilingAggregate{CoarseProfilingConfig: cfg, VersionHash: hash}, nil
}

func newFineProfilingAggregate(cfg FineProfilingConfig) (FineProfilingAggregate, error) {
	hash, err := VersionHash(cfg)
	if err != nil {
		return FineProfilingAggregate{}, err
	}
	return FineProfilingAggregate{FineProfilingConfig: cfg, VersionHash: hash}, nil
}

func newUserAggregate(cfg UserConfig) (UserAggregate, error) {
	hash, err := VersionHash(cfg)
	if err != nil {
		return UserAggregate{}, err
	}
	return UserAggregate{UserConfig: cfg, VersionHash: hash}, nil
}

func newPluginAggregate(cfg PluginConfig) (PluginAggregate, error) {
	hash, err := VersionHash(cfg)
	if err != nil {
		return PluginAggregate{}, err
	}
	return PluginAggregate{PluginConfig: cfg, VersionHash: hash}, nil
}

func newPointcutAggregate(cfg PointcutConfig) (PointcutAggregate, error) {
	hash, err := VersionHash(cfg)
	if err != nil {
		return PointcutAggregate{}, err
	}
	return PointcutAggregate{PointcutConfig: cfg, VersionHash: hash}, nil
}

// General returns the general settings aggregate.
func (s *Store) General() GeneralAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.general
}

// CoarseProfiling returns the coarse profiling aggregate.
func (s *Store) CoarseProfiling() CoarseProfilingAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coarse
}

// FineProfiling returns the fine profiling aggregate.
func (s *Store) FineProfiling() FineProfilingAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fine
}

// User returns the user capture aggregate.
func (s *Store) User() UserAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Plugin returns one plugin's aggregate. Unknown ids report not found.
func (s *Store) Plugin(id string) (PluginAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.plugins[id]
	if !ok {
		return PluginAggregate{}, core.ErrNotFound("plugin", id)
	}
	agg.PluginConfig = clonePluginConfig(agg.PluginConfig)
	return agg, nil
}

// Plugins returns all plugin aggregates keyed by id.
func (s *Store) Plugins() map[string]PluginAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PluginAggregate, len(s.plugins))
	for id, agg := range s.plugins {
		agg.PluginConfig = clonePluginConfig(agg.PluginConfig)
		out[id] = agg
	}
	return out
}

// Pointcuts returns all pointcut aggregates in insertion order.
func (s *Store) Pointcuts() []PointcutAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PointcutAggregate, len(s.pointcuts))
	for i, agg := range s.pointcuts {
		agg.PointcutConfig = clonePointcutConfig(agg.PointcutConfig)
		out[i] = agg
	}
	return out
}

// Registry returns the plugin registry the store was opened with.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Path returns the config document path.
func (s *Store) Path() string {
	return s.path
}

// PersistedChecksum returns the sha256 hex of the last bytes the store wrote
// to disk. External tooling uses it to tell its own writes from foreign ones.
func (s *Store) PersistedChecksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistedSum
}

// UpdateGeneral replaces the general settings if priorHash still matches.
func (s *Store) UpdateGeneral(value GeneralConfig, priorHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.general.VersionHash != priorHash {
		return "", core.ErrOptimisticLock("generalConfig", priorHash, s.general.VersionHash)
	}
	next, err := newGeneralAggregate(value)
	if err != nil {
		return "", err
	}
	prev := s.general
	s.general = next
	if err := s.persistLocked(); err != nil {
		s.general = prev
		return "", err
	}
	return next.VersionHash, nil
}

// UpdateCoarseProfiling replaces the coarse profiling settings if priorHash
// still matches.
func (s *Store) UpdateCoarseProfiling(value CoarseProfilingConfig, priorHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coarse.VersionHash != priorHash {
		return "", core.ErrOptimisticLock("coarseProfilingConfig", priorHash, s.coarse.VersionHash)
	}
	next, err := newCoarseProfilingAggregate(value)
	if err != nil {
		return "", err
	}
	prev := s.coarse
	s.coarse = next
	if err := s.persistLocked(); err != nil {
		s.coarse = prev
		return "", err
	}
	return next.VersionHash, nil
}

// UpdateFineProfiling replaces the fine profiling settings if priorHash still
// matches.
func (s *Store) UpdateFineProfiling(value FineProfilingConfig, priorHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fine.VersionHash != priorHash {
		return "", core.ErrOptimisticLock("fineProfilingConfig", priorHash, s.fine.VersionHash)
	}
	next, err := newFineProfilingAggregate(value)
	if err != nil {
		return "", err
	}
	prev := s.fine
	s.fine = next
	if err := s.persistLocked(); err != nil {
		s.fine = prev
		return "", err
	}
	return next.VersionHash, nil
}

// UpdateUser replaces the user capture settings if priorHash still matches.
func (s *Store) UpdateUser(value UserConfig, priorHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.VersionHash != priorHash {
		return "", core.ErrOptimisticLock("userConfig", priorHash, s.user.VersionHash)
	}
	next, err := newUserAggregate(value)
	if err != nil {
		return "", err
	}
	prev := s.user
	s.user = next
	if err := s.persistLocked(); err != nil {
		s.user = prev
		return "", err
	}
	return next.VersionHash, nil
}

// UpdatePlugin replaces one plugin's config if priorHash still matches.
func (s *Store) UpdatePlugin(id string, value PluginConfig, priorHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.plugins[id]
	if !ok {
		return "", core.ErrNotFound("plugin", id)
	}
	if current.VersionHash != priorHash {
		return "", core.ErrOptimisticLock("pluginConfigs/"+id, priorHash, current.VersionHash)
	}
	next, err := newPluginAggregate(clonePluginConfig(value))
	if err != nil {
		return "", err
	}
	s.plugins[id] = next
	if err := s.persistLocked(); err != nil {
		s.plugins[id] = current
		return "", err
	}
	return next.VersionHash, nil
}

// InsertPointcut appends a new pointcut and returns its version hash.
func (s *Store) InsertPointcut(value PointcutConfig) (string, error) {
	if err := ValidatePointcut(value); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, err := newPointcutAggregate(clonePointcutConfig(value))
	if err != nil {
		return "", err
	}
	s.pointcuts = append(s.pointcuts, agg)
	if err := s.persistLocked(); err != nil {
		s.pointcuts = s.pointcuts[:len(s.pointcuts)-1]
		return "", err
	}
	return agg.VersionHash, nil
}

// UpdatePointcut replaces the pointcut holding priorHash and returns the new
// hash. No entry with priorHash reports not found.
func (s *Store) UpdatePointcut(priorHash string, value PointcutConfig) (string, error) {
	if err := ValidatePointcut(value); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.pointcutIndexLocked(priorHash)
	if idx < 0 {
		return "", core.ErrNotFound("pointcut", priorHash)
	}
	next, err := newPointcutAggregate(clonePointcutConfig(value))
	if err != nil {
		return "", err
	}
	prev := s.pointcuts[idx]
	s.pointcuts[idx] = next
	if err := s.persistLocked(); err != nil {
		s.pointcuts[idx] = prev
		return "", err
	}
	return next.VersionHash, nil
}

// DeletePointcut removes the pointcut holding hash. An absent hash reports
// not found.
func (s *Store) DeletePointcut(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.pointcutIndexLocked(hash)
	if idx < 0 {
		return core.ErrNotFound("pointcut", hash)
	}
	prev := s.pointcuts
	next := make([]PointcutAggregate, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	s.pointcuts = next
	if err := s.persistLocked(); err != nil {
		s.pointcuts = prev
		return err
	}
	return nil
}

// pointcutIndexLocked returns the first entry holding hash, or -1.
func (s *Store) pointcutIndexLocked(hash string) int {
	for i, agg := range s.pointcuts {
		if agg.VersionHash == hash {
			return i
		}
	}
	return -1
}

// persistLocked writes the full document atomically. Callers hold the write
// lock and roll back their staged change if this fails.
func (s *Store) persistLocked() error {
	doc := document{
		Version:         documentVersion,
		UpdatedAt:       time.Now().UTC(),
		General:         s.general.GeneralConfig,
		CoarseProfiling: s.coarse.CoarseProfilingConfig,
		FineProfiling:   s.fine.FineProfilingConfig,
		User:            s.user.UserConfig,
		Plugins:         make(map[string]PluginConfig, len(s.plugins)),
		Pointcuts:       make([]PointcutConfig, 0, len(s.pointcuts)),
	}
	for id, agg := range s.plugins {
		doc.Plugins[id] = agg.PluginConfig
	}
	for _, agg := range s.pointcuts {
		doc.Pointcuts = append(doc.Pointcuts, agg.PointcutConfig)
	}

	data, err := encodeDocument(doc)
	if err != nil {
		return core.ErrStorage(core.CodePersistFailed, "encoding config document").WithCause(err)
	}
	if err := atomicWriteFile(s.path, data, 0o644); err != nil {
		return core.ErrStorage(core.CodePersistFailed,
			fmt.Sprintf("writing config document to %s", s.path)).WithCause(err)
	}
	sum := sha256.Sum256(data)
	s.persistedSum = hex.EncodeToString(sum[:])
	return nil
}

func clonePluginConfig(cfg PluginConfig) PluginConfig {
	props := make(map[string]any, len(cfg.Properties))
	for name, value := range cfg.Properties {
		props[name] = value
	}
	cfg.Properties = props
	return cfg
}

func clonePointcutConfig(cfg PointcutConfig) PointcutConfig {
	if cfg.CaptureItems != nil {
		items := make([]string, len(cfg.CaptureItems))
		copy(items, cfg.CaptureItems)
		cfg.CaptureItems = items
	}
	return cfg
}
