// Package config loads the engine configuration from YAML with hot
// reload. The manager hands out immutable snapshots through an atomic
// pointer; watchers fire after every change the file watcher picks up
// that parses cleanly. A malformed file keeps the previous snapshot.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/neuralmem/core/neural"
)

// Config is the engine-wide configuration. Brain-level parameters apply
// as defaults to brains created without their own config.
type Config struct {
	Brain         neural.BrainConfig  `yaml:"brain"`
	Store         StoreConfig         `yaml:"store"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
}

// StoreConfig tunes the persistence layer.
type StoreConfig struct {
	// DataDir overrides the platform data directory.
	DataDir string `yaml:"data_dir"`
	// MaxReaders bounds each brain's connection pool.
	MaxReaders int `yaml:"max_readers"`
	// NeuronCacheSize bounds the read-through neuron cache.
	NeuronCacheSize int64 `yaml:"neuron_cache_size"`
	// ContentIndex enables the full-text index per brain.
	ContentIndex bool `yaml:"content_index"`
}

// RetrievalConfig tunes the query pipeline.
type RetrievalConfig struct {
	// Timeout is the soft wall-clock limit per retrieval.
	Timeout time.Duration `yaml:"timeout"`
	// MaxConcurrent bounds parallel retrievals per engine.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// ConsolidationConfig tunes maintenance runs.
type ConsolidationConfig struct {
	// MaxDuration is the default strategy budget.
	MaxDuration time.Duration `yaml:"max_duration"`
	// ActionEventWindow bounds how long action events are retained.
	ActionEventWindow time.Duration `yaml:"action_event_window"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Brain: neural.DefaultBrainConfig(),
		Store: StoreConfig{
			MaxReaders:      8,
			NeuronCacheSize: 10_000,
			ContentIndex:    true,
		},
		Retrieval: RetrievalConfig{
			Timeout:       5 * time.Second,
			MaxConcurrent: 16,
		},
		Consolidation: ConsolidationConfig{
			MaxDuration:       time.Minute,
			ActionEventWindow: 30 * 24 * time.Hour,
		},
	}
}

// Load reads the file over the defaults. A missing file returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Brain.Normalize()
	d := Default()
	if c.Store.MaxReaders <= 0 {
		c.Store.MaxReaders = d.Store.MaxReaders
	}
	if c.Store.NeuronCacheSize <= 0 {
		c.Store.NeuronCacheSize = d.Store.NeuronCacheSize
	}
	if c.Retrieval.Timeout <= 0 {
		c.Retrieval.Timeout = d.Retrieval.Timeout
	}
	if c.Retrieval.MaxConcurrent <= 0 {
		c.Retrieval.MaxConcurrent = d.Retrieval.MaxConcurrent
	}
	if c.Consolidation.MaxDuration <= 0 {
		c.Consolidation.MaxDuration = d.Consolidation.MaxDuration
	}
	if c.Consolidation.ActionEventWindow <= 0 {
		c.Consolidation.ActionEventWindow = d.Consolidation.ActionEventWindow
	}
}
