package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "feedwatch",
	Short: "Watch feeds for matching items and notify once per item",
	Long: "feedwatch polls reddit and RSS sources under an adaptive rate budget,\n" +
		"matches new items against configured patterns, and delivers each match\n" +
		"to a webhook or Telegram exactly once across restarts.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("feedwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
