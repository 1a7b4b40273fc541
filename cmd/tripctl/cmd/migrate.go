package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"trainlog/internal/app"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rebuild the secondary store from the primary stores",
	Long: `Quiesce every store, replace the secondary trips and paths wholesale
and recompute the derived carbon values. Trip writes fail fast for the
duration of the run.

With --dry-run the run targets an in-memory store instead of postgres and
only the row counts are printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := open(ctx, app.Options{DryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Migrator.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("run %s\n", res.RunID)
		fmt.Printf("trips:         %d\n", res.Trips)
		fmt.Printf("paths:         %d\n", res.Paths)
		fmt.Printf("skipped paths: %d\n", res.SkippedPaths)
		fmt.Printf("recomputed:    %d\n", res.Recomputed)
		fmt.Printf("took:          %s\n", res.Duration)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "migrate into an in-memory store")
}
