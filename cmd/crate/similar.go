package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/franz/crate-digger/internal/rank"
	"github.com/franz/crate-digger/internal/retrieval"
	"github.com/franz/crate-digger/internal/store"
	"github.com/franz/crate-digger/internal/theory"
	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/cobra"
)

var similarCmd = &cobra.Command{
	Use:   "similar <track path or id>",
	Short: "Find tracks that sound like a seed track",
	Long: `Find the nearest neighbours of a cataloged track in feature space.

Filters:
  --bpm 128 --bpm-tol 6     keep tracks whose tempo is within 122..134 BPM
  --harmonic                keep tracks whose key mixes with the seed's key
  --camelot 8A              use this Camelot label instead of the seed's
  --camelot-mode same       exact key match instead of wheel neighbours

Filters are applied to 3×k candidates, so fewer than k results may come back.
With --rerank, results are reordered by a rating predicted from your own
star ratings (see 'crate rate').`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().IntP("k", "k", 10, "Number of results")
	similarCmd.Flags().Float64("bpm", 0, "Tempo window center (disabled when unset)")
	similarCmd.Flags().Float64("bpm-tol", retrieval.DefaultBPMTolerance, "Tempo window half-width in BPM")
	similarCmd.Flags().Bool("harmonic", false, "Only keep harmonically compatible keys")
	similarCmd.Flags().String("camelot", "", "Camelot label for --harmonic (default: the seed's key)")
	similarCmd.Flags().String("camelot-mode", theory.ModeCompatible, "Harmonic match mode: same or compatible")
	similarCmd.Flags().Bool("exclude-seed", false, "Leave the seed track out of the results")
	similarCmd.Flags().Bool("rerank", false, "Reorder results by predicted rating")
	similarCmd.Flags().Int("min-ratings", rank.DefaultConfig().MinRatings, "Rated tracks required for --rerank")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("k")
	bpmTol, _ := cmd.Flags().GetFloat64("bpm-tol")
	harmonic, _ := cmd.Flags().GetBool("harmonic")
	camelot, _ := cmd.Flags().GetString("camelot")
	mode, _ := cmd.Flags().GetString("camelot-mode")
	excludeSeed, _ := cmd.Flags().GetBool("exclude-seed")
	rerank, _ := cmd.Flags().GetBool("rerank")
	minRatings, _ := cmd.Flags().GetInt("min-ratings")

	opts := retrieval.SimilarOptions{
		Filter: retrieval.Filter{
			K:            k,
			BPMTolerance: bpmTol,
			Camelot:      camelot,
			CamelotMode:  mode,
		},
		Harmonic:    harmonic || camelot != "",
		ExcludeSeed: excludeSeed,
	}
	if cmd.Flags().Changed("bpm") {
		center, _ := cmd.Flags().GetFloat64("bpm")
		opts.BPMCenter = &center
	}

	q, err := openQuery()
	if err != nil {
		return err
	}
	defer q.Close()

	if rerank {
		if err := q.attachRanker(minRatings); err != nil {
			if !errors.Is(err, rank.ErrTooFewRatings) {
				return err
			}
			util.WarnLog("Re-ranking unavailable: %v", err)
		}
	}

	seedID, err := q.engine.ResolveSeed(resolvePathArg(args[0]))
	if err != nil {
		return err
	}
	seed, err := q.stores.catalog.GetTrack(seedID)
	if err != nil {
		return err
	}
	if seed == nil {
		return fmt.Errorf("track %s: %w", seedID, util.ErrNotFound)
	}

	ctx, stop := signalContext()
	defer stop()

	hits, err := q.engine.SimilarTo(ctx, seedID, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Seed: %s\n", describeTrack(seed))
	if len(hits) == 0 {
		util.WarnLog("No tracks passed the filters")
		return nil
	}
	printHits(hits)
	return nil
}

// attachRanker builds the rating-neighbour ranker from the user's ratings
func (q *queryEnv) attachRanker(minRatings int) error {
	rated, err := q.stores.catalog.RatedTracks()
	if err != nil {
		return err
	}

	cfg := rank.DefaultConfig()
	cfg.MinRatings = minRatings
	r, err := rank.FromCatalog(cfg, rated, q.stores.features)
	if err != nil {
		return err
	}
	util.DebugLog("Ranker trained on %d rated tracks", r.Len())

	q.engine = retrieval.New(&retrieval.Config{
		Index:   q.index,
		Catalog: q.stores.catalog,
		Vectors: q.stores.features,
		Ranker:  r,
	})
	return nil
}

// resolvePathArg makes relative paths absolute so they match catalog rows.
// Track IDs pass through unchanged.
func resolvePathArg(arg string) string {
	if util.IsTrackID(arg) {
		return arg
	}
	if abs, err := filepath.Abs(arg); err == nil {
		return abs
	}
	return arg
}

func printHits(hits []retrieval.Hit) {
	for i, h := range hits {
		pred := ""
		if h.Predicted != nil {
			pred = fmt.Sprintf("  ★%.1f", *h.Predicted)
		}
		desc := h.ID
		if h.Track != nil {
			desc = describeTrack(h.Track)
		}
		prefix := fmt.Sprintf("%3d. %.3f%s  ", i+1, h.Score, pred)
		if util.IsTerminal(os.Stdout.Fd()) {
			desc = fitWidth(desc, util.GetTerminalWidth()-utf8.RuneCountInString(prefix))
		}
		fmt.Println(prefix + desc)
	}
}

// fitWidth shortens s to at most width runes, marking the cut with an ellipsis
func fitWidth(s string, width int) string {
	if width < 8 || utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}

// describeTrack renders "Artist - Title [128.0 BPM, 8A] (id)"
func describeTrack(t *store.Track) string {
	var b strings.Builder

	name := t.Title
	if t.Artist != "" {
		name = t.Artist + " - " + t.Title
	}
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(t.Path)
	}
	b.WriteString(name)

	var tags []string
	if t.BPM != nil {
		tags = append(tags, fmt.Sprintf("%.1f BPM", *t.BPM))
	}
	if t.Camelot != "" {
		tags = append(tags, t.Camelot)
	}
	if t.Stars != nil {
		tags = append(tags, strings.Repeat("★", *t.Stars))
	}
	if len(tags) > 0 {
		b.WriteString(" [" + strings.Join(tags, ", ") + "]")
	}

	b.WriteString(" (" + t.ID + ")")
	return b.String()
}
