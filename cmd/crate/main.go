package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/franz/crate-digger/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "crate",
		Short: "Crate Digger - find tracks that sound alike in your music library",
		Long: `crate catalogs a music directory, describes every track with an audio
feature vector, estimates tempo and key, and answers "more like this" queries
from an approximate nearest-neighbour index, optionally restricted to a tempo
window and to harmonically compatible keys on the Camelot wheel.

Every build step is resumable: re-running it only processes what is missing.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/crate.yaml)")
	rootCmd.PersistentFlags().String("music-dir", "", "music directory to catalog")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for catalog, features and index (default \"data\")")
	rootCmd.PersistentFlags().Int("concurrency", 0, "parallel workers for cataloging and extraction (default 4)")
	rootCmd.PersistentFlags().String("network-mode", "", "concurrency tuning for network mounts: auto, on, off (default \"auto\")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored log output")

	// Bind flags to viper
	viper.BindPFlag("music_dir", rootCmd.PersistentFlags().Lookup("music-dir"))
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
	viper.BindPFlag("network_mode", rootCmd.PersistentFlags().Lookup("network-mode"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("crate")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match
	viper.SetEnvPrefix("CRATE")
	viper.AutomaticEnv()

	util.SetColors(!viper.GetBool("no_color") && util.IsTerminal(os.Stderr.Fd()))

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

// signalContext is canceled on SIGINT or SIGTERM so long stages stop between
// tracks and stay resumable
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
