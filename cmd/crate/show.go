package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/franz/crate-digger/internal/retrieval"
	"github.com/franz/crate-digger/internal/theory"
	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <track path or id>",
	Short: "Show everything stored about a track",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStores(cfg, readOnly)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := retrieval.New(&retrieval.Config{Catalog: s.catalog})
	id, err := engine.ResolveSeed(resolvePathArg(args[0]))
	if err != nil {
		return err
	}

	t, err := s.catalog.GetTrack(id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("track %s: %w", id, util.ErrNotFound)
	}

	field := func(name, value string) {
		if value == "" {
			value = "-"
		}
		fmt.Printf("%-10s %s\n", name+":", value)
	}

	field("ID", t.ID)
	field("Path", t.Path)
	field("Title", t.Title)
	field("Artist", t.Artist)
	field("Album", t.Album)
	field("Genre", t.Genre)
	if t.Year != nil {
		field("Year", fmt.Sprintf("%d", *t.Year))
	}
	if t.Duration != nil {
		field("Duration", fmt.Sprintf("%d:%02d", int(*t.Duration)/60, int(*t.Duration)%60))
	}
	if t.BPM != nil {
		field("Tempo", fmt.Sprintf("%.1f BPM", *t.BPM))
	} else {
		field("Tempo", "")
	}
	field("Key", t.Key)
	if t.Camelot != "" {
		neighbors, err := theory.CamelotNeighbors(t.Camelot)
		if err == nil {
			field("Camelot", fmt.Sprintf("%s (mixes with %s)", t.Camelot, strings.Join(neighbors[1:], ", ")))
		} else {
			field("Camelot", t.Camelot)
		}
	} else {
		field("Camelot", "")
	}
	if t.Stars != nil {
		field("Rating", strings.Repeat("★", *t.Stars))
	} else {
		field("Rating", "")
	}
	if !t.AddedAt.IsZero() {
		field("Added", humanize.Time(t.AddedAt))
	}

	var vec []float32
	if s.features != nil {
		if vec, err = s.features.Get(id); err != nil {
			return err
		}
	}
	if vec != nil {
		field("Features", fmt.Sprintf("%d dimensions", len(vec)))
	} else {
		field("Features", "none (skipped or not analyzed yet)")
	}

	return nil
}
