package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FileName is the config document inside the data directory.
const FileName = "config.json"

// InvalidFileName is where an unreadable config document is set aside.
const InvalidFileName = "config.json.invalid"

const documentVersion = 1

// document is the persisted form of the full managed configuration. Version
// hashes are not stored; they are recomputed from the values on load.
type document struct {
	Version         int                     `json:"version"`
	UpdatedAt       time.Time               `json:"updated_at"`
	General         GeneralConfig           `json:"generalConfig"`
	CoarseProfiling CoarseProfilingConfig   `json:"coarseProfilingConfig"`
	FineProfiling   FineProfilingConfig     `json:"fineProfilingConfig"`
	User            UserConfig              `json:"userConfig"`
	Plugins         map[string]PluginConfig `json:"pluginConfigs"`
	Pointcuts       []PointcutConfig        `json:"pointcutConfigs"`
}

func defaultDocument() document {
	return document{
		Version:         documentVersion,
		General:         DefaultGeneralConfig(),
		CoarseProfiling: DefaultCoarseProfilingConfig(),
		FineProfiling:   DefaultFineProfilingConfig(),
		User:            DefaultUserConfig(),
		Plugins:         make(map[string]PluginConfig),
	}
}

// readDocument loads the document at path. A missing file reports
// os.ErrNotExist unchanged so callers can seed defaults.
func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("unmarshaling config document: %w", err)
	}
	if doc.Plugins == nil {
		doc.Plugins = make(map[string]PluginConfig)
	}
	return doc, nil
}

// encodeDocument serializes the document the way it is persisted.
func encodeDocument(doc document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling config document: %w", err)
	}
	return data, nil
}
