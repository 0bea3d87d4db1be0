// Package config holds the explicit configuration object handed to every
// pipeline and retrieval component. Nothing in the core reads viper or
// package-level state directly; the CLI builds a Config once and passes it on.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/viper"
)

// Defaults mirror the values the catalog was designed around. Changing
// SampleRate or DurationSec on an existing catalog mixes incomparable vectors.
const (
	DefaultDataDir            = "data"
	DefaultSampleRate         = 22050
	DefaultDurationSec        = 30
	DefaultHNSWM              = 32
	DefaultHNSWEfConstruction = 200
	DefaultHNSWEfSearch       = 64
	DefaultConcurrency        = 4
	DefaultNetworkMode        = NetworkAuto
)

// Network modes control concurrency tuning for music libraries on NAS mounts
const (
	NetworkAuto = "auto"
	NetworkOn   = "on"
	NetworkOff  = "off"
)

// Config is the resolved runtime configuration
type Config struct {
	MusicDir           string
	DataDir            string
	SampleRate         int
	DurationSec        int
	HNSWM              int
	HNSWEfConstruction int
	HNSWEfSearch       int
	Concurrency        int
	Extensions         []string
	NetworkMode        string
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir,
		SampleRate:         DefaultSampleRate,
		DurationSec:        DefaultDurationSec,
		HNSWM:              DefaultHNSWM,
		HNSWEfConstruction: DefaultHNSWEfConstruction,
		HNSWEfSearch:       DefaultHNSWEfSearch,
		Concurrency:        DefaultConcurrency,
		NetworkMode:        DefaultNetworkMode,
	}
}

// SetDefaults registers default values on a viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("sample_rate", DefaultSampleRate)
	v.SetDefault("duration_sec", DefaultDurationSec)
	v.SetDefault("hnsw_m", DefaultHNSWM)
	v.SetDefault("hnsw_ef_construction", DefaultHNSWEfConstruction)
	v.SetDefault("hnsw_ef_search", DefaultHNSWEfSearch)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("network_mode", DefaultNetworkMode)
}

// FromViper resolves a Config from flags, environment and config file
// (viper precedence) and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		MusicDir:           v.GetString("music_dir"),
		DataDir:            v.GetString("data_dir"),
		SampleRate:         v.GetInt("sample_rate"),
		DurationSec:        v.GetInt("duration_sec"),
		HNSWM:              v.GetInt("hnsw_m"),
		HNSWEfConstruction: v.GetInt("hnsw_ef_construction"),
		HNSWEfSearch:       v.GetInt("hnsw_ef_search"),
		Concurrency:        v.GetInt("concurrency"),
		Extensions:         v.GetStringSlice("extensions"),
		NetworkMode:        strings.ToLower(v.GetString("network_mode")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. MusicDir is only required by the catalog step
// and is checked there.
func (c *Config) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir must be set")
	}
	if c.SampleRate < 8000 {
		problems = append(problems, fmt.Sprintf("sample_rate %d is below 8000", c.SampleRate))
	}
	if c.DurationSec < 5 {
		problems = append(problems, fmt.Sprintf("duration_sec %d is below the 5 second minimum", c.DurationSec))
	}
	if c.HNSWM < 2 {
		problems = append(problems, fmt.Sprintf("hnsw_m %d must be at least 2", c.HNSWM))
	}
	if c.HNSWEfConstruction < 1 {
		problems = append(problems, "hnsw_ef_construction must be positive")
	}
	if c.HNSWEfSearch < 1 {
		problems = append(problems, "hnsw_ef_search must be positive")
	}
	if c.Concurrency < 1 {
		problems = append(problems, "concurrency must be positive")
	}
	switch c.NetworkMode {
	case NetworkAuto, NetworkOn, NetworkOff:
	default:
		problems = append(problems, fmt.Sprintf("network_mode %q must be auto, on or off", c.NetworkMode))
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			problems = append(problems, fmt.Sprintf("extension %q must start with a dot", ext))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", util.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ForcedNetworkMode returns nil for auto detection, otherwise the forced value
func (c *Config) ForcedNetworkMode() *bool {
	switch c.NetworkMode {
	case NetworkOn:
		on := true
		return &on
	case NetworkOff:
		off := false
		return &off
	}
	return nil
}

// DBPath is the SQLite catalog location
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "tracks.sqlite")
}

// FeatureDir is the feature store directory
func (c *Config) FeatureDir() string {
	return filepath.Join(c.DataDir, "features")
}

// IndexDir holds the similarity index pair
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// ArtifactsDir receives event logs and run summaries
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}
