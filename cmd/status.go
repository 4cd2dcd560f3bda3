package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show last sync time and recent run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		last, err := env.Cache.LastUpdated(ctx)
		if err != nil {
			return err
		}
		if last == nil {
			fmt.Println("Last sync: never")
		} else {
			fmt.Printf("Last sync: %s\n", last.UTC().Format(time.RFC3339))
		}

		latestID, err := env.Store.LatestEntryID(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Highest mirrored id: %d\n", latestID)

		runs, err := env.Store.ListSyncRuns(ctx, statusLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No recorded sync runs.")
			return nil
		}

		fmt.Println("\nRecent runs:")
		for _, run := range runs {
			line := fmt.Sprintf("  %s  %-8s  added=%d checked=%d start_from=%d",
				run.StartedAt.UTC().Format(time.RFC3339), run.Status, run.Added, run.Checked, run.StartFrom)
			if run.Error != "" {
				line += "  error=" + run.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
