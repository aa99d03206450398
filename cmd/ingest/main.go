package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"moniteur/internal/adapters"
	"moniteur/internal/app"
	"moniteur/internal/domain"
	"moniteur/internal/export"
	"moniteur/internal/query"
	"moniteur/internal/recorder"
	"moniteur/internal/report"
	"moniteur/internal/util"
)

var rootCmd = &cobra.Command{
	Use:           "ingest",
	Short:         "Record asset metrics into the time-series store.",
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run one recording round, or repeat with --every",
	RunE:  runRecord,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply the retention policy to every stored series",
	RunE:  runSweep,
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List the configured assets",
	RunE:  runAssets,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write one asset's series to a Parquet file",
	RunE:  runExport,
}

var (
	recordFlags = map[string]string{
		"workers":       "recorder.workers",
		"round-timeout": "recorder.round_timeout",
		"fetch-timeout": "recorder.fetch_timeout",
	}
	retentionFlags = map[string]string{
		"horizon":   "retention.horizon",
		"max-count": "retention.max_count",
	}
)

func init() {
	rootCmd.AddCommand(recordCmd, sweepCmd, assetsCmd, exportCmd)
	app.AddSharedFlags(rootCmd.PersistentFlags())

	recordCmd.Flags().Duration("every", 0, "Repeat rounds at this interval until interrupted")
	recordCmd.Flags().Bool("sweep", false, "Apply retention after each round")
	recordCmd.Flags().Int("workers", recorder.DefaultWorkers, "Maximum concurrent fetches")
	recordCmd.Flags().Duration("round-timeout", recorder.DefaultRoundTimeout, "Upper bound on one round")
	recordCmd.Flags().Duration("fetch-timeout", recorder.DefaultFetchTimeout, "Upper bound on one fetch")
	addRetentionFlags(recordCmd)
	addRetentionFlags(sweepCmd)

	exportCmd.Flags().String("asset", "", "Asset id to export")
	exportCmd.Flags().String("from", "", "Start, unix milliseconds or RFC3339 (default to minus 24h)")
	exportCmd.Flags().String("to", "", "End, unix milliseconds or RFC3339 (default now)")
	exportCmd.Flags().String("out", "", "Output .parquet path (default <asset>.parquet)")
	exportCmd.Flags().Int("max-points", 0, "Downsample to at most this many points")
	_ = exportCmd.MarkFlagRequired("asset")
}

func addRetentionFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("horizon", 0, "Drop points older than this")
	cmd.Flags().Int("max-count", 0, "Keep at most this many recent points per asset")
}

func bootstrap(cmd *cobra.Command, extra ...map[string]string) (*app.App, error) {
	keys := map[string]string{}
	for _, m := range extra {
		for k, v := range m {
			keys[k] = v
		}
	}
	return app.Bootstrap("ingest", cmd.Flags(), keys)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd, recordFlags, retentionFlags)
	if err != nil {
		return err
	}
	defer a.Close()

	every, _ := cmd.Flags().GetDuration("every")
	sweep, _ := cmd.Flags().GetBool("sweep")

	rec, err := recorder.New(a.Config.RecorderConfig(), adapters.NewDefaultFactory(nil), a.Store, a.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runOnce := func() error {
		started := time.Now()
		result, err := rec.Record(ctx, a.Registry.Current().Assets())
		if result != nil {
			if werr := report.WriteRound(cmd.OutOrStdout(), result, time.Since(started)); werr != nil {
				a.Logger.LogEvent(util.LOG_LEVEL_WARN, "While printing round report. Err -", werr)
			}
		}
		if err != nil {
			return err
		}
		if sweep {
			return applyRetention(ctx, a, a.Config.RetentionPolicy())
		}
		return nil
	}

	if every <= 0 {
		return runOnce()
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := runOnce(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			a.Logger.LogEvent(util.LOG_LEVEL_INFO, "Recording stopped by signal")
			return nil
		case <-ticker.C:
		}
	}
}

// applyRetention logs sweep failures; only a closed store is returned.
func applyRetention(ctx context.Context, a *app.App, policy domain.Retention) error {
	if policy.Horizon <= 0 && policy.MaxCount <= 0 {
		return nil
	}
	removed, err := a.Store.RetentionSweep(ctx, policy)
	if err != nil {
		a.Logger.LogFields(util.LOG_LEVEL_ERROR, "retention sweep failed", zap.Int("removed", removed), zap.Error(err))
		if errors.Is(err, domain.ErrStoreClosed) {
			return err
		}
		return nil
	}
	a.Logger.LogFields(util.LOG_LEVEL_INFO, "retention sweep finished",
		zap.Int("removed", removed), zap.Duration("horizon", policy.Horizon), zap.Int("max_count", policy.MaxCount))
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd, retentionFlags)
	if err != nil {
		return err
	}
	defer a.Close()

	policy := a.Config.RetentionPolicy()
	if policy.Horizon <= 0 && policy.MaxCount <= 0 {
		return errors.New("no retention policy: set retention.horizon or retention.max_count")
	}

	removed, err := a.Store.RetentionSweep(cmd.Context(), policy)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d points\n", removed)
	return err
}

func runAssets(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return report.WriteAssets(cmd.OutOrStdout(), a.Registry.Current().Assets())
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	assetID, _ := cmd.Flags().GetString("asset")
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")
	out, _ := cmd.Flags().GetString("out")
	maxPoints, _ := cmd.Flags().GetInt("max-points")

	req := query.Request{AssetID: assetID, MaxPoints: maxPoints}
	if req.From, err = query.ParseInstant(fromRaw); err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	if req.To, err = query.ParseInstant(toRaw); err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if out == "" {
		out = assetID + ".parquet"
	}

	points, err := query.NewService(a.Registry, a.Store).Series(cmd.Context(), req)
	if err != nil {
		return err
	}
	if err := export.WriteSeriesParquet(points, out); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d points to %s\n", len(points), out)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
