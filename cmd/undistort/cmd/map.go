package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/undistort/internal/lens"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
)

// mapCmd reports where one output pixel samples from.
var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Show the source coordinate for a target pixel",
	Long: `Map a target pixel of a width x height frame through the calibration
and print the source coordinate, the radius and the magnification applied.

Examples:
  undistort map -c lens.json --width 640 --height 480 --x 0 --y 0
  undistort map -c lens.json --width 640 --height 480 --x 320 --y 10 --format json`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runMapCommand,
}

// mapResult is the json output of the map command.
type mapResult struct {
	Target        [2]int     `json:"target"`
	Mapped        lens.Point `json:"mapped"`
	Source        [2]int     `json:"source"`
	InBounds      bool       `json:"in_bounds"`
	Center        lens.Point `json:"center"`
	Radius        float64    `json:"radius"`
	MaxRadius     float64    `json:"max_radius"`
	Magnification float64    `json:"magnification"`
}

func runMapCommand(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	applyRectifyFlags(cmd, cfg, "")
	if cfg.Calibration.File == "" {
		return errors.New("a calibration file is required (--calibration)")
	}

	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	x, _ := cmd.Flags().GetInt("x")
	y, _ := cmd.Flags().GetInt("y")
	format, _ := cmd.Flags().GetString("format")

	pl, err := pipeline.NewBuilder().WithConfig(cfg.ToPipelineConfig()).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	m, err := pl.Mapper(width, height)
	if err != nil {
		return err
	}

	sx, sy, ok := m.Source(x, y)
	res := mapResult{
		Target:        [2]int{x, y},
		Mapped:        m.Map(x, y),
		Source:        [2]int{sx, sy},
		InBounds:      ok,
		Center:        m.Center(),
		Radius:        m.Radius(x, y),
		MaxRadius:     m.MaxRadius(),
		Magnification: m.Magnification(x, y),
	}

	out := cmd.OutOrStdout()
	switch format {
	case outputFormatJSON:
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case outputFormatText, "":
		bounds := "inside"
		if !ok {
			bounds = "outside"
		}
		_, _ = fmt.Fprintf(out, "target: (%d, %d)\n", x, y)
		_, _ = fmt.Fprintf(out, "mapped: (%.4f, %.4f)\n", res.Mapped.X, res.Mapped.Y)
		_, _ = fmt.Fprintf(out, "source: (%d, %d) %s the frame\n", sx, sy, bounds)
		_, _ = fmt.Fprintf(out, "center: (%.4f, %.4f)\n", res.Center.X, res.Center.Y)
		_, _ = fmt.Fprintf(out, "radius: %.4f of %.4f\n", res.Radius, res.MaxRadius)
		_, err = fmt.Fprintf(out, "magnification: %.6f\n", res.Magnification)
		return err
	default:
		return fmt.Errorf("invalid output format: %s (must be text or json)", format)
	}
}

func init() {
	rootCmd.AddCommand(mapCmd)

	addRectifyFlags(mapCmd, "")
	mapCmd.Flags().Int("width", 0, "frame width in pixels")
	mapCmd.Flags().Int("height", 0, "frame height in pixels")
	mapCmd.Flags().Int("x", 0, "target x")
	mapCmd.Flags().Int("y", 0, "target y")
	mapCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	_ = mapCmd.MarkFlagRequired("width")
	_ = mapCmd.MarkFlagRequired("height")
}
