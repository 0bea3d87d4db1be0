package main

import (
	"fmt"
	"strconv"

	"github.com/franz/crate-digger/internal/retrieval"
	"github.com/franz/crate-digger/internal/store"
	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/cobra"
)

var rateCmd = &cobra.Command{
	Use:   "rate <track path or id> <stars>",
	Short: "Rate a track from 1 to 5 stars",
	Long: `Store a star rating on a cataloged track. Ratings are never touched by the
build and feed the --rerank option of 'crate similar'.`,
	Args: cobra.ExactArgs(2),
	RunE: runRate,
}

var unratedCmd = &cobra.Command{
	Use:   "unrated",
	Short: "List random unrated tracks for a rating session",
	RunE:  runUnrated,
}

func init() {
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(unratedCmd)

	unratedCmd.Flags().IntP("limit", "n", 10, "Number of tracks to list")
}

func runRate(cmd *cobra.Command, args []string) error {
	stars, err := strconv.Atoi(args[1])
	if err != nil || stars < store.MinStars || stars > store.MaxStars {
		return fmt.Errorf("%w: %q", store.ErrInvalidRating, args[1])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStores(cfg, readWrite)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := retrieval.New(&retrieval.Config{Catalog: s.catalog})
	id, err := engine.ResolveSeed(resolvePathArg(args[0]))
	if err != nil {
		return err
	}

	if err := s.catalog.SetRating(id, stars); err != nil {
		return err
	}

	events := newEventLogger(cfg)
	defer events.Close()
	events.LogRate(id, stars)

	t, err := s.catalog.GetTrack(id)
	if err != nil {
		return err
	}
	util.SuccessLog("Rated %s", describeTrack(t))
	return nil
}

func runUnrated(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStores(cfg, readOnly)
	if err != nil {
		return err
	}
	defer s.Close()

	tracks, err := s.catalog.RandomUnrated(limit)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		util.InfoLog("Every cataloged track is rated")
		return nil
	}

	rated, _ := s.catalog.CountRated()
	total, _ := s.catalog.CountTracks()
	util.InfoLog("%d of %d tracks rated", rated, total)

	for i, t := range tracks {
		fmt.Printf("%3d. %s\n     %s\n", i+1, describeTrack(t), t.Path)
	}
	fmt.Println("\nRate with: crate rate <id> <1-5>")
	return nil
}
