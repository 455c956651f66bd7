package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/undistort/internal/batch"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image [files...]",
	Short: "Rectify images against a lens calibration",
	Long: `Rectify one or more image files and write <name><suffix>.png for each.

Supported formats: JPEG, PNG, BMP, TIFF

Examples:
  undistort image frame.png --calibration lens.json
  undistort image *.jpg -c lens.json --output-dir rectified --format json
  undistort image depth.png -c lens.json --channels gray --inverse=false`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runImageCommand,
}

func runImageCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input files provided")
	}

	cfg := GetConfig()
	applyRectifyFlags(cmd, cfg, "workers")
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "Processing %d image(s)\n", len(args)); err != nil {
		return fmt.Errorf("failed to write to stderr: %w", err)
	}

	pl, err := pipeline.NewBuilder().WithConfig(cfg.ToPipelineConfig()).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	start := time.Now()
	result := &batch.Result{WorkerCount: 1, Language: "en"}
	for _, pth := range args {
		item, err := rectifyFile(pl, pth, cfg.Output.Dir, cfg.Output.Suffix)
		if err != nil {
			return err
		}
		slog.Debug("Rectified image", "file", pth, "output", item.Output,
			"coverage", item.Result.CoverageRate)
		result.Items = append(result.Items, item)
	}
	result.Duration = time.Since(start)

	return result.SaveResults(cmd.OutOrStdout(), cfg.Output.Format, cfg.Output.File, false)
}

// rectifyFile rectifies one image and saves it under dir.
func rectifyFile(pl *pipeline.Pipeline, path, dir, suffix string) (batch.Item, error) {
	if !utils.IsSupportedImage(path) {
		return batch.Item{}, fmt.Errorf("unsupported image format: %s", path)
	}
	img, meta, err := utils.LoadImage(path)
	if err != nil {
		return batch.Item{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		return batch.Item{}, fmt.Errorf("%s: %w", path, err)
	}

	out, res, err := pl.ProcessImage(img)
	if err != nil {
		return batch.Item{}, fmt.Errorf("rectification failed for %s: %w", path, err)
	}

	outPath := batch.OutputPath(meta.Path, dir, suffix)
	if err := utils.SaveImage(outPath, out); err != nil {
		return batch.Item{}, fmt.Errorf("failed to save %s: %w", outPath, err)
	}
	return batch.Item{File: meta.Path, Output: outPath, Result: res}, nil
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "results file (default: stdout)")
	cmd.Flags().StringP("output-dir", "d", "", "directory for rectified images (default: next to the input)")
	cmd.Flags().String("suffix", "_rectified", "suffix appended to rectified file names")
	addRectifyFlags(cmd, "workers")
}

// bindImageFlags binds the output flags to viper configuration keys.
func bindImageFlags(cmd *cobra.Command) {
	flagBindings := []struct {
		key  string
		flag string
	}{
		{"output.format", "format"},
		{"output.file", "output"},
		{"output.dir", "output-dir"},
		{"output.suffix", "suffix"},
	}

	for _, binding := range flagBindings {
		if err := viper.BindPFlag(binding.key, cmd.Flags().Lookup(binding.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", binding.flag, err))
		}
	}
}

func init() {
	rootCmd.AddCommand(imageCmd)

	addImageFlags(imageCmd)
	bindImageFlags(imageCmd)
}

// GetImageCommand returns the image command for testing purposes.
func GetImageCommand() *cobra.Command {
	return imageCmd
}
