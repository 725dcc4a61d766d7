package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// jobFlags are shared by plan and render
type jobFlags struct {
	source       string
	presetID     string
	presetFile   string
	timelineFile string
	tracks       []string
	start        float64
	end          float64
	output       string
	overwrite    bool
	transcript   string
	subtitles    bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.source, "source", "s", "", "Source media file")
	flags.StringVarP(&f.presetID, "preset", "p", "", "Preset id (see 'exportctl presets')")
	flags.StringVar(&f.presetFile, "preset-file", "", "JSON file with a custom preset")
	flags.StringVarP(&f.timelineFile, "timeline", "t", "", "JSON file with the timeline to render")
	flags.StringSliceVar(&f.tracks, "tracks", nil, "Timeline track ids to include (default: all enabled)")
	flags.Float64Var(&f.start, "start", -1, "Range start in seconds")
	flags.Float64Var(&f.end, "end", -1, "Range end in seconds")
	flags.StringVarP(&f.output, "output", "o", "", "Output file")
	flags.BoolVar(&f.overwrite, "overwrite", false, "Replace an existing output file")
	flags.StringVar(&f.transcript, "transcript", "", "Transcript (JSON, SRT or VTT) for captions")
	flags.BoolVar(&f.subtitles, "subtitles", false, "Write a sidecar caption file next to the output")
}

// job turns the flags into the job the API would have received
func (f *jobFlags) job() (*models.ExportJob, error) {
	job := &models.ExportJob{
		ID:     models.JobID(uuid.New().String()),
		Kind:   models.JobKindExport,
		Source: f.source,
		Settings: models.ExportSettings{
			SchemaVersion: models.CurrentSettingsVersion,
			PresetID:      f.presetID,
		},
		Options: models.JobOptions{IncludeSubtitles: f.subtitles},
	}

	if f.presetFile != "" {
		var p models.ExportPreset
		if err := readJSON(f.presetFile, &p); err != nil {
			return nil, fmt.Errorf("read preset: %w", err)
		}
		job.Settings.Preset = &p
	}

	if f.timelineFile != "" {
		var tl models.Timeline
		if err := readJSON(f.timelineFile, &tl); err != nil {
			return nil, fmt.Errorf("read timeline: %w", err)
		}
		job.Timeline = &models.TimelineRef{TimelineID: tl.ID, Timeline: &tl, TrackIDs: f.tracks}
	}
	if f.start >= 0 || f.end >= 0 {
		if job.Timeline == nil {
			job.Timeline = &models.TimelineRef{}
		}
		if f.start >= 0 {
			start := f.start
			job.Timeline.RangeStart = &start
		}
		if f.end >= 0 {
			end := f.end
			job.Timeline.RangeEnd = &end
		}
	}
	if job.Source == "" && (job.Timeline == nil || job.Timeline.Timeline == nil) {
		return nil, fmt.Errorf("either --source or --timeline is required")
	}

	if f.output != "" {
		job.Output = models.OutputSpec{Filename: filepath.Base(f.output), Overwrite: f.overwrite}
	} else {
		job.Output.Overwrite = f.overwrite
	}

	if f.transcript != "" {
		segments, err := loadSegments(f.transcript)
		if err != nil {
			return nil, err
		}
		job.Options.Transcript = segments
	}
	return job, nil
}

// outputDir is the directory --output points into; empty uses the configured one
func (f *jobFlags) outputDir() string {
	if f.output == "" {
		return ""
	}
	return dirOf(f.output)
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the ffmpeg command an export would run",
		Long: `Resolve the preset, validate the platform constraints and print the
ffmpeg invocation without running it.

Example:
  exportctl plan --source interview.mp4 --preset youtube
  exportctl plan --timeline episode.json --preset tiktok --start 30 --end 75`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := flags.job()
			if err != nil {
				return err
			}
			inv, err := ctx.exportService(flags.outputDir()).Plan(cmd.Context(), job)
			if err != nil {
				return err
			}
			p, err := ctx.presets.Resolve(job.Settings)
			if err != nil {
				return err
			}
			report, err := preset.Validate(p, inv.Duration, 0)
			if err != nil {
				return err
			}

			if *ctx.jsonOutput {
				return writeJSON(cmd, map[string]any{
					"command":  inv.String(),
					"passes":   inv.Passes(),
					"duration": inv.Duration,
					"output":   inv.Output,
					"estimate": report,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Preset:          %s\n", presetLabel(p))
			fmt.Fprintf(out, "Duration:        %s\n", formatSeconds(inv.Duration))
			fmt.Fprintf(out, "Passes:          %d\n", inv.Passes())
			fmt.Fprintf(out, "Estimated size:  %s\n", humanize.Bytes(uint64(report.EstimatedFileSize)))
			fmt.Fprintf(out, "Estimated time:  %s\n", formatSeconds(report.EstimatedProcessingTime))
			printWarnings(out, report.Warnings)
			fmt.Fprintf(out, "\n%s\n", inv.String())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Run an export synchronously",
		Long: `Render an export in the foreground, reporting progress on stderr.
The job never touches the export queue or the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := flags.job()
			if err != nil {
				return err
			}

			progress := make(chan models.ProgressEvent, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				printProgress(cmd.ErrOrStderr(), progress)
			}()

			start := time.Now()
			result, err := ctx.exportService(flags.outputDir()).HandleExport(cmd.Context(), job, progress)
			close(progress)
			<-done
			if err != nil {
				return err
			}

			if *ctx.jsonOutput {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Output:     %s\n", result.OutputPath)
			if result.SubtitlePath != "" {
				fmt.Fprintf(out, "Captions:   %s\n", result.SubtitlePath)
			}
			fmt.Fprintf(out, "Size:       %s\n", humanize.Bytes(uint64(result.FileSize)))
			fmt.Fprintf(out, "Duration:   %s\n", formatSeconds(result.Duration))
			if result.Bitrate > 0 {
				fmt.Fprintf(out, "Bitrate:    %s\n", humanize.SIWithDigits(float64(result.Bitrate), 1, "bit/s"))
			}
			fmt.Fprintf(out, "Took:       %s\n", time.Since(start).Round(time.Millisecond))
			printWarnings(out, result.Warnings)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// printProgress renders progress events as they arrive until the channel
// closes. On a terminal the line is redrawn in place.
func printProgress(w io.Writer, events <-chan models.ProgressEvent) {
	inPlace := isTerminal(w)
	var last string
	for ev := range events {
		line := fmt.Sprintf("%5.1f%%  %s", ev.ProgressPercent, ev.CurrentOperation)
		if ev.SpeedMultiplier != nil {
			line += fmt.Sprintf("  %.2fx", *ev.SpeedMultiplier)
		}
		if line == last {
			continue
		}
		last = line
		if inPlace {
			fmt.Fprintf(w, "\r%-60s", line)
		} else {
			fmt.Fprintln(w, line)
		}
	}
	if inPlace && last != "" {
		fmt.Fprintln(w)
	}
}

func loadSegments(path string) ([]models.SubtitleSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(extOf(path)) {
	case ".srt":
		return subtitle.ParseSRT(f)
	case ".vtt":
		return subtitle.ParseVTT(f)
	default:
		return subtitle.LoadTranscript(f)
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
