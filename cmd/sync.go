package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wvfoia/wvfoia/internal/scraper"
	"github.com/wvfoia/wvfoia/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one incremental sync against the upstream portal",
	Long: `Scans upstream ids past the highest mirrored id and stores every entry
found. The scan ends after the configured number of consecutive missing ids,
which tolerates gaps in the upstream id sequence. Intended to run on a
schedule; a non-zero exit means the run failed partway and was recorded as
failed in the run log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		client := scraper.New(scraper.Options{
			BaseURL:     cfg.Scraper.BaseURL,
			UserAgent:   cfg.Scraper.UserAgent,
			Timeout:     time.Duration(cfg.Scraper.TimeoutSecs) * time.Second,
			RetryCount:  cfg.Scraper.RetryCount,
			RequestsPer: time.Duration(cfg.Scraper.RequestSpacingMsec) * time.Millisecond,
		})

		engine := sync.New(env.Store, client, env.Cache, env.Metrics, sync.Options{
			DriftTolerance: cfg.Sync.DriftTolerance,
			MaxScan:        cfg.Sync.MaxScan,
		})

		result, err := engine.Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("sync complete",
			zap.Int("added", result.Added),
			zap.Int("checked", result.Checked),
			zap.Int("last_checked_id", result.LastCheckedID),
		)
		fmt.Printf("Added %d entries (%d ids checked)\n", result.Added, result.Checked)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
