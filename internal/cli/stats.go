package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
	"github.com/emiliopalmerini/mltrackr/internal/experiments"
	"github.com/emiliopalmerini/mltrackr/internal/util"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show experiment statistics for a user",
	Long: `Show summary statistics over a user's active experiments, read
directly from the configured store.

Examples:
  mltrackr stats --user alice`,
	RunE: runStats,
}

var statsUser string

func init() {
	statsCmd.Flags().StringVarP(&statsUser, "user", "u", "", "User id whose experiments are aggregated")
	_ = statsCmd.MarkFlagRequired("user")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	svc := experiments.NewService(app.Repo,
		experiments.WithLogger(app.Log),
		experiments.WithStoreTimeout(app.Config.StoreTimeout),
	)
	stats, err := svc.Stats(ctx, statsUser)
	if err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), statsUser, stats)
	return nil
}

func printStats(w io.Writer, user string, s domain.Stats) {
	fmt.Fprintf(w, "Experiments for %s\n", user)
	fmt.Fprintln(w, "─────────────────────────────")
	fmt.Fprintf(w, "Total:         %s\n", util.FormatNumber(s.TotalExperiments))
	if s.TotalExperiments == 0 {
		return
	}
	fmt.Fprintf(w, "Avg accuracy:  %s\n", util.FormatPercent(s.AvgAccuracy))
	fmt.Fprintf(w, "Best accuracy: %s\n", util.FormatPercent(s.MaxAccuracy))
	fmt.Fprintf(w, "Avg loss:      %s\n", util.FormatLoss(s.AvgLoss))
	fmt.Fprintf(w, "Best loss:     %s\n", util.FormatLoss(s.MinLoss))

	if len(s.TopTags) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Top tags:")
		for _, t := range s.TopTags {
			fmt.Fprintf(w, "  %-20s %d\n", t.Tag, t.Count)
		}
	}
}
