package main

import (
	"fmt"
	"os"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/seen"
	logx "feedwatch/pkg/logx"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Show dedup store statistics",
	RunE:  seenAction,
}

func init() {
	rootCmd.AddCommand(seenCmd)
}

func seenAction(_ *cobra.Command, _ []string) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return err
	}
	// Warnings only; the stats themselves go to stdout below.
	st, err := seen.Open(seen.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		MaxBytes:    cfg.Store.MaxBytes,
		BusyTimeout: busy,
	}, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	driver := cfg.Store.Driver
	if driver == "" {
		driver = "file"
	}
	fmt.Printf("seen store %s (%s)\n", cfg.Store.Path, driver)
	fmt.Printf("  entries: %s\n", humanize.Comma(int64(st.Len())))
	if oldest, ok := st.OldestAt(); ok {
		fmt.Printf("  oldest:  %s (%s)\n", oldest.UTC().Format(time.RFC3339), humanize.Time(oldest))
	}
	if fi, err := os.Stat(cfg.Store.Path); err == nil {
		fmt.Printf("  on disk: %s\n", humanize.Bytes(uint64(fi.Size())))
	}
	return nil
}
