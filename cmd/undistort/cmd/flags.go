package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/undistort/internal/config"
)

// addRectifyFlags registers the calibration and kernel flags shared by the
// image, batch, map and serve commands. workersFlag names the flag that sets
// the per-frame column workers.
func addRectifyFlags(cmd *cobra.Command, workersFlag string) {
	cmd.Flags().StringP("calibration", "c", "", "calibration file (json, yaml, txt, csv or raw float32 .bin)")
	cmd.Flags().Bool("inverse", true, "use the inverse lookup table (false selects the forward table)")
	cmd.Flags().Float64("center-x", -1, "distortion center x in output pixels (overrides the calibration)")
	cmd.Flags().Float64("center-y", -1, "distortion center y in output pixels (overrides the calibration)")
	cmd.Flags().Bool("scale-center", true, "rescale the calibration center from its reference dimensions")
	cmd.Flags().String("channels", "auto", "channel mode: auto, gray, rgb, rgba")
	cmd.Flags().Bool("crop", false, "crop to the largest centred square before rectifying")
	if workersFlag != "" {
		cmd.Flags().Int(workersFlag, 0, "column workers per frame (0 = number of CPUs)")
	}
}

// applyRectifyFlags copies explicitly set flags over the loaded configuration.
func applyRectifyFlags(cmd *cobra.Command, cfg *config.Config, workersFlag string) {
	flags := cmd.Flags()
	if flags.Changed("calibration") {
		cfg.Calibration.File, _ = flags.GetString("calibration")
	}
	if flags.Changed("inverse") {
		cfg.Calibration.Inverse, _ = flags.GetBool("inverse")
	}
	if flags.Changed("center-x") {
		cfg.Calibration.CenterX, _ = flags.GetFloat64("center-x")
	}
	if flags.Changed("center-y") {
		cfg.Calibration.CenterY, _ = flags.GetFloat64("center-y")
	}
	if flags.Changed("scale-center") {
		cfg.Calibration.ScaleCenter, _ = flags.GetBool("scale-center")
	}
	if flags.Changed("channels") {
		cfg.Rectify.Channels, _ = flags.GetString("channels")
	}
	if flags.Changed("crop") {
		cfg.Rectify.CenterCrop, _ = flags.GetBool("crop")
	}
	if workersFlag != "" && flags.Changed(workersFlag) {
		cfg.Rectify.Workers, _ = flags.GetInt(workersFlag)
	}
}
