package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/franz/crate-digger/internal/config"
	"github.com/franz/crate-digger/internal/index"
	"github.com/franz/crate-digger/internal/pipeline"
	"github.com/franz/crate-digger/internal/retrieval"
	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which build artifacts exist",
	Long: `Report whether the catalog, the feature store and the similarity index are
present. Queries need all three; run 'crate build' to create what is missing.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := readStatus(cfg)
	if err != nil {
		return err
	}

	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}

	fmt.Printf("[%s] catalog   %s tracks (%s)\n", mark(st.Catalog), humanize.Comma(int64(st.Tracks)), cfg.DBPath())
	fmt.Printf("[%s] features  %s vectors (%s)\n", mark(st.Features), humanize.Comma(int64(st.Vectors)), cfg.FeatureDir())
	fmt.Printf("[%s] index     %s\n", mark(st.Index), cfg.IndexDir())

	if err := st.Ready(); err != nil {
		util.WarnLog("%v", err)
		return nil
	}
	util.SuccessLog("Ready for queries")
	return nil
}

// readStatus inspects artifacts without creating anything that is missing
func readStatus(cfg *config.Config) (pipeline.BuildStatus, error) {
	hasCatalog, hasFeatures := pipeline.ArtifactsPresent(cfg)
	if !hasCatalog || !hasFeatures {
		st, err := pipeline.CheckStatus(cfg, nil, nil)
		if err != nil {
			return st, err
		}
		if hasCatalog {
			st.Catalog = true
		}
		return st, nil
	}

	s, err := openStores(cfg, readOnly)
	if err != nil {
		return pipeline.BuildStatus{}, err
	}
	defer s.Close()

	return pipeline.CheckStatus(cfg, s.catalog, s.features)
}

// queryEnv is everything a read query needs
type queryEnv struct {
	cfg    *config.Config
	stores *stores
	index  *index.Index
	engine *retrieval.Engine
}

func (q *queryEnv) Close() {
	q.stores.Close()
}

// openQuery gates on build status, loads the index pair and wires the
// retrieval engine. The ranker is attached by the caller when requested.
func openQuery() (*queryEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := readStatus(cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Ready(); err != nil {
		return nil, err
	}

	s, err := openStores(cfg, readOnly)
	if err != nil {
		return nil, err
	}

	ix, warn, err := index.Load(cfg.IndexDir())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	if warn != nil {
		util.WarnLog("%v (re-run 'crate index')", warn)
	}
	ix.SetEfSearch(cfg.HNSWEfSearch)
	util.DebugLog("Loaded index generation %s with %d rows", ix.Generation(), ix.Len())

	return &queryEnv{
		cfg:    cfg,
		stores: s,
		index:  ix,
		engine: retrieval.New(&retrieval.Config{
			Index:   ix,
			Catalog: s.catalog,
			Vectors: s.features,
		}),
	}, nil
}
