package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/undistort/internal/batch"
	"github.com/MeKo-Tech/undistort/internal/config"
)

// batchCmd represents the batch command for parallel image processing.
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Rectify many images in parallel",
	Long: `Rectify image files and directories in parallel against one calibration.
Directories are scanned for supported images; failed files are reported
without stopping the run when --continue-on-error is set.

Supported formats: JPEG, PNG, BMP, TIFF

Examples:
  undistort batch captures/*.png -c lens.json
  undistort batch captures/ --recursive --workers 8 -c lens.json
  undistort batch captures/ -c lens.json --format csv --output results.csv
  undistort batch captures/ -c lens.json --exclude "*_rectified.png" --stats`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config.
// Explicitly set CLI flags override config file values.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	applyRectifyFlags(cmd, cfg, "rectify-workers")
	batchConfig := cfg.ToBatchConfig()
	flags := cmd.Flags()

	if flags.Changed("format") {
		batchConfig.Format, _ = flags.GetString("format")
	}
	if flags.Changed("output") {
		batchConfig.OutputFile, _ = flags.GetString("output")
	}
	if flags.Changed("output-dir") {
		batchConfig.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("suffix") {
		batchConfig.Suffix, _ = flags.GetString("suffix")
	}
	if flags.Changed("workers") {
		batchConfig.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("recursive") {
		batchConfig.Recursive, _ = flags.GetBool("recursive")
	}
	if flags.Changed("continue-on-error") {
		batchConfig.ContinueOnError, _ = flags.GetBool("continue-on-error")
	}

	// File discovery, progress and locale settings are CLI-only.
	batchConfig.IncludePatterns, _ = flags.GetStringSlice("include")
	batchConfig.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	batchConfig.ShowProgress, _ = flags.GetBool("progress")
	batchConfig.Quiet, _ = flags.GetBool("quiet")
	batchConfig.ShowStats, _ = flags.GetBool("stats")
	batchConfig.ProgressInterval, _ = flags.GetDuration("progress-interval")
	batchConfig.Language, _ = flags.GetString("language")

	return batchConfig
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	batchConfig := configToBatchConfig(cfg, cmd)
	if batchConfig.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d (must be positive)", batchConfig.Workers)
	}

	if !batchConfig.Quiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Processing %d path(s)...\n", len(args))
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := batch.ProcessBatchContext(ctx, args, batchConfig, cmd.ErrOrStderr())
	if err != nil {
		if result == nil {
			return err
		}
		// Report what finished before the failure.
		_ = result.SaveResults(cmd.OutOrStdout(), batchConfig.Format, batchConfig.OutputFile, batchConfig.Quiet)
		return err
	}

	if err := result.SaveResults(cmd.OutOrStdout(), batchConfig.Format, batchConfig.OutputFile, batchConfig.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	if batchConfig.ShowStats {
		result.PrintStats(cmd.ErrOrStderr(), batchConfig.Quiet)
	}

	return nil
}

// commandContext returns the command's context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addRectifyFlags(batchCmd, "rectify-workers")

	// Output flags
	batchCmd.Flags().StringP("format", "f", "text", "output format: text, json, csv")
	batchCmd.Flags().StringP("output", "o", "", "results file (default: stdout)")
	batchCmd.Flags().StringP("output-dir", "d", "", "directory for rectified images (default: next to each input)")
	batchCmd.Flags().String("suffix", "_rectified", "suffix appended to rectified file names")
	batchCmd.Flags().String("language", "en", "locale used for numbers in statistics (e.g. en, de)")

	// Parallel processing flags
	batchCmd.Flags().IntP("workers", "w", 4, "number of files processed in parallel")
	batchCmd.Flags().Bool("continue-on-error", false, "keep going when a file fails")

	// File discovery flags
	batchCmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	batchCmd.Flags().StringSlice("include", []string{}, "file patterns to include (e.g. *.png)")
	batchCmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")

	// Progress and monitoring flags
	batchCmd.Flags().Bool("progress", true, "show progress on stderr")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress progress and status output")
	batchCmd.Flags().Bool("stats", false, "show processing statistics")
	batchCmd.Flags().Duration("progress-interval", 500*time.Millisecond, "progress update interval")
}
