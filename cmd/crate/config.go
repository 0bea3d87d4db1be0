package main

import (
	"fmt"

	"github.com/franz/crate-digger/internal/config"
	"github.com/franz/crate-digger/internal/featstore"
	"github.com/franz/crate-digger/internal/pipeline"
	"github.com/franz/crate-digger/internal/report"
	"github.com/franz/crate-digger/internal/store"
	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/viper"
)

// loadConfig applies the log flags and resolves the runtime configuration
// with flag > environment (CRATE_*) > config file > default precedence
func loadConfig() (*config.Config, error) {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	return config.FromViper(viper.GetViper())
}

// stores bundles the two persistent stores
type stores struct {
	catalog  *store.Store
	features *featstore.Store
}

func (s *stores) Close() {
	if s.features != nil {
		s.features.Close()
	}
	if s.catalog != nil {
		s.catalog.Close()
	}
}

// storeMode selects how openStores opens the feature store
type storeMode int

const (
	// readWrite takes Badger's exclusive lock; ingestion and rating only
	readWrite storeMode = iota
	// readOnly shares the lock so queries can run side by side
	readOnly
)

// openStores opens the catalog and the feature store. In readWrite mode
// missing stores are created. In readOnly mode a missing feature directory
// leaves features nil.
func openStores(cfg *config.Config, mode storeMode) (*stores, error) {
	util.DebugLog("Opening catalog: %s", cfg.DBPath())
	catalog, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if mode == readOnly {
		if _, features := pipeline.ArtifactsPresent(cfg); !features {
			return &stores{catalog: catalog}, nil
		}
	}

	util.DebugLog("Opening feature store: %s", cfg.FeatureDir())
	open := featstore.Open
	if mode == readOnly {
		open = featstore.OpenReadOnly
	}
	features, err := open(cfg.FeatureDir())
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("failed to open feature store: %w", err)
	}

	return &stores{catalog: catalog, features: features}, nil
}

// newEventLogger opens the run's JSONL event log, degrading to a no-op
// logger when the artifacts directory is not writable
func newEventLogger(cfg *config.Config) *report.EventLogger {
	logLevel := report.LevelInfo // Default
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning // Only warnings and errors
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug // Everything
	}

	logger, err := report.NewEventLogger(cfg.ArtifactsDir(), logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.DebugLog("Event log: %s", logger.Path())
	return logger
}
