package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printWarnings(out io.Writer, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(out, "Warning:         %s\n", w)
	}
}

func presetLabel(p *models.ExportPreset) string {
	if p.Platform == "" {
		return p.ID
	}
	return fmt.Sprintf("%s (%s)", p.ID, p.Platform)
}

func formatSeconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(100 * time.Millisecond).String()
}

func dirOf(path string) string {
	return filepath.Dir(path)
}

func extOf(path string) string {
	return filepath.Ext(path)
}
