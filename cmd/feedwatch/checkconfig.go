package main

import (
	"fmt"

	"feedwatch/internal/app"
	"feedwatch/internal/config"

	"github.com/spf13/cobra"
)

var checkconfigCmd = &cobra.Command{
	Use:   "checkconfig",
	Short: "Parse and validate the config file, then exit",
	RunE:  checkconfigAction,
}

func init() {
	rootCmd.AddCommand(checkconfigCmd)
}

func checkconfigAction(_ *cobra.Command, _ []string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	// Same checks the daemon applies to a live reload.
	if err := app.CheckConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d sources, %d patterns)\n", cfgPath, len(cfg.Sources), len(cfg.Patterns))
	return nil
}
