package pipeline

import (
	"os"

	"github.com/franz/crate-digger/internal/config"
	"github.com/franz/crate-digger/internal/index"
	"github.com/franz/crate-digger/internal/util"
)

// Artifact names reported by BuildStatus.Ready
const (
	ArtifactCatalog  = "catalog"
	ArtifactFeatures = "features"
	ArtifactIndex    = "index"
)

// BuildStatus tells which pipeline artifacts exist. Querying needs all three.
type BuildStatus struct {
	Catalog  bool
	Features bool
	Index    bool

	Tracks  int
	Vectors int
}

// TrackCounter reports catalog size
type TrackCounter interface {
	CountTracks() (int, error)
}

// VectorCounter reports feature store size
type VectorCounter interface {
	Count() (int, error)
}

// CheckStatus inspects the configured artifacts. A nil store is treated as
// absent, so status works before anything was built.
func CheckStatus(cfg *config.Config, tracks TrackCounter, vectors VectorCounter) (BuildStatus, error) {
	var st BuildStatus

	if tracks != nil {
		n, err := tracks.CountTracks()
		if err != nil {
			return st, err
		}
		st.Tracks = n
		st.Catalog = n > 0
	}

	if vectors != nil {
		n, err := vectors.Count()
		if err != nil {
			return st, err
		}
		st.Vectors = n
		st.Features = n > 0
	}

	st.Index = index.Exists(cfg.IndexDir())
	return st, nil
}

// ArtifactsPresent reports whether the catalog database and feature
// directory exist on disk without opening them
func ArtifactsPresent(cfg *config.Config) (catalog, features bool) {
	if _, err := os.Stat(cfg.DBPath()); err == nil {
		catalog = true
	}
	if info, err := os.Stat(cfg.FeatureDir()); err == nil && info.IsDir() {
		features = true
	}
	return catalog, features
}

// Ready returns nil when querying is possible, otherwise a
// *util.NotReadyError naming what is missing
func (s BuildStatus) Ready() error {
	var missing []string
	if !s.Catalog {
		missing = append(missing, ArtifactCatalog)
	}
	if !s.Features {
		missing = append(missing, ArtifactFeatures)
	}
	if !s.Index {
		missing = append(missing, ArtifactIndex)
	}

	if len(missing) > 0 {
		return &util.NotReadyError{Missing: missing}
	}
	return nil
}
