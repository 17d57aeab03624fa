package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pinboard/api/internal/cache"
	"pinboard/api/internal/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report containers whose positions are not dense",
	Long: `Lists every list (for cards) and board (for lists) whose sibling
positions are not exactly 0..n-1. Exits non-zero when any are found.`,
	RunE: runVerify,
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Renumber positions densely",
	Long: `Rewrites every container's positions to 0..n-1, keeping the current
order (position, then creation time, then id). Runs in a single transaction
holding every board's position lock. With --redis-url the cached trees of the
renumbered boards are evicted afterwards.`,
	RunE: runCompact,
}

func init() {
	rootCmd.AddCommand(verifyCmd, compactCmd)

	flags := compactCmd.Flags()
	flags.String("redis-url", "", "redis connection string of the board tree cache")
	_ = viper.BindPFlag("redis_url", flags.Lookup("redis-url"))
	_ = viper.BindEnv("redis_url", "PINBOARD_REDIS_URL", "REDIS_URL")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	positions, closer, err := openPositionStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closer.Close()

	anomalies, err := positions.Anomalies(cmd.Context())
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(anomalies) == 0 {
		fmt.Fprintln(out, "all positions are dense")
		return nil
	}
	if err := writeAnomalies(out, anomalies); err != nil {
		return err
	}
	return fmt.Errorf("verify: %d container(s) out of order, run compact to repair", len(anomalies))
}

func writeAnomalies(out io.Writer, anomalies []store.Anomaly) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCONTAINER\tCOUNT\tMIN\tMAX\tDISTINCT")
	for _, a := range anomalies {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", a.Kind, a.ContainerID, a.Count, a.MinPosition, a.MaxPosition, a.Distinct)
	}
	return w.Flush()
}

func runCompact(cmd *cobra.Command, _ []string) error {
	positions, closer, err := openPositionStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closer.Close()

	result, err := positions.Compact(cmd.Context())
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "renumbered %d row(s) on %d board(s)\n", result.Rows, len(result.Boards))

	redisURL := viper.GetString("redis_url")
	if redisURL == "" || len(result.Boards) == 0 {
		return nil
	}
	trees, err := cache.NewRedisTreeCache(redisURL, 0)
	if err != nil {
		return fmt.Errorf("compact: positions renumbered but cache not evicted: %w", err)
	}
	defer trees.Close()
	if err := trees.Invalidate(cmd.Context(), result.Boards...); err != nil {
		return fmt.Errorf("compact: positions renumbered but cache not evicted: %w", err)
	}
	fmt.Fprintf(out, "evicted %d cached board tree(s)\n", len(result.Boards))
	return nil
}
