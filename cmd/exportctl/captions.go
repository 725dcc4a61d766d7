package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	var (
		format   string
		presetID string
		output   string
		duration float64
	)
	cmd := &cobra.Command{
		Use:   "captions <transcript>",
		Short: "Convert a transcript into SRT, VTT or ASS captions",
		Long: `Convert a speech-to-text transcript (JSON) or an existing SRT/VTT file
into a caption file. Timing is adjusted for readability and long lines are
wrapped. With --preset the preset's caption style and format are used.

Example:
  exportctl captions talk.json --format vtt -o talk.vtt
  exportctl captions talk.srt --preset tiktok --duration 58.2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segments, err := loadSegments(args[0])
			if err != nil {
				return err
			}

			gen := ctx.captions()
			fmtName := models.SubtitleFormat(format)
			if presetID != "" {
				p, err := ctx.presets.Get(presetID)
				if err != nil {
					return err
				}
				if p.Subtitles != nil {
					gen = gen.WithStyle(p.Subtitles.Style)
					if !cmd.Flags().Changed("format") {
						fmtName = p.Subtitles.Format
					}
				}
				if p.Video != nil {
					gen = gen.WithResolution(p.Video.Width, p.Video.Height)
				}
			}
			if fmtName == models.SubtitleFormatBurned {
				return fmt.Errorf("preset %s burns captions into the video; pass --format to write a file", presetID)
			}

			data, err := gen.Generate(segments, fmtName, duration)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("write captions: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d captions (%s) to %s\n", len(segments), humanize.Bytes(uint64(len(data))), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(models.SubtitleFormatSRT), "Caption format: srt, vtt or ass")
	cmd.Flags().StringVarP(&presetID, "preset", "p", "", "Take caption style from a preset")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Media duration in seconds; captions are clamped to it")
	return cmd
}
