package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/events"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow export progress events from the message broker",
		Long: `Subscribe to the export events exchange and print events until interrupted.

Example:
  exportctl watch                    # every event
  exportctl watch --stage failed     # only failures`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			binding := ""
			if stage != "" {
				binding = events.RoutingKey(models.ProgressEvent{Stage: models.Stage(stage)})
			}
			out := cmd.OutOrStdout()
			return events.Watch(cmd.Context(), ctx.config.Events, binding, func(ev models.ProgressEvent) {
				if *ctx.jsonOutput {
					data, _ := json.Marshal(ev)
					fmt.Fprintln(out, string(data))
					return
				}
				fmt.Fprintln(out, formatEvent(ev))
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "Only show one stage: started, processing, complete, failed or cancelled")
	return cmd
}

func formatEvent(ev models.ProgressEvent) string {
	line := fmt.Sprintf("%s  %-36s  %-10s  %5.1f%%", ev.Timestamp.Format("15:04:05"), ev.JobID, ev.Stage, ev.ProgressPercent)
	if ev.CurrentOperation != "" {
		line += "  " + ev.CurrentOperation
	}
	if ev.ProcessedFrames != nil {
		line += fmt.Sprintf("  %s frames", humanize.Comma(*ev.ProcessedFrames))
	}
	if ev.Error != "" {
		line += "  error: " + ev.Error
	}
	return line
}
