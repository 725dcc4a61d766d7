package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func newPresetsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List export presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := ctx.presets.List()
			if *ctx.jsonOutput {
				return writeJSON(cmd, presets)
			}

			rows := make([][]string, 0, len(presets))
			for _, p := range presets {
				rows = append(rows, []string{p.ID, p.Platform, outputLabel(p), maxDuration(p), maxSize(p)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Platform", "Output", "Max duration", "Max size"}, rows, 3, 4))
			return nil
		},
	}
	cmd.AddCommand(newEstimateCommand(ctx))
	return cmd
}

func newEstimateCommand(ctx *commandContext) *cobra.Command {
	var duration float64
	cmd := &cobra.Command{
		Use:   "estimate <preset>",
		Short: "Estimate output size and render time for a duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.presets.Get(args[0])
			if err != nil {
				return err
			}
			report, err := preset.Validate(p, duration, 0)
			if err != nil {
				return err
			}
			if *ctx.jsonOutput {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Preset:          %s\n", presetLabel(p))
			fmt.Fprintf(out, "Duration:        %s\n", formatSeconds(report.Duration))
			fmt.Fprintf(out, "Estimated size:  %s\n", humanize.Bytes(uint64(report.EstimatedFileSize)))
			fmt.Fprintf(out, "Estimated time:  %s\n", formatSeconds(report.EstimatedProcessingTime))
			printWarnings(out, report.Warnings)
			return nil
		},
	}
	cmd.Flags().Float64VarP(&duration, "duration", "d", 60, "Render duration in seconds")
	return cmd
}

func outputLabel(p *models.ExportPreset) string {
	if p.Video == nil {
		if p.Audio != nil {
			return fmt.Sprintf("audio %s", p.Audio.Codec)
		}
		return "-"
	}
	return fmt.Sprintf("%dx%d %s", p.Video.Width, p.Video.Height, p.Video.Codec)
}

func maxDuration(p *models.ExportPreset) string {
	if p.Constraints == nil || p.Constraints.MaxDuration <= 0 {
		return "-"
	}
	return formatSeconds(p.Constraints.MaxDuration)
}

func maxSize(p *models.ExportPreset) string {
	if p.Constraints == nil || p.Constraints.MaxFileSize <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(p.Constraints.MaxFileSize))
}
