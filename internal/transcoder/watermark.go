package transcoder

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// withWatermarkDefaults fills unset watermark options
func withWatermarkDefaults(w models.Watermark) models.Watermark {
	if w.Position == "" {
		w.Position = "bottom-right"
	}
	if w.Opacity == 0 {
		w.Opacity = 0.8
	}
	if w.Scale == 0 {
		w.Scale = 0.15 // of the video width
	}
	if w.FontSize == 0 {
		w.FontSize = 24
	}
	if w.FontColor == "" {
		w.FontColor = "white"
	}
	if w.Padding == 0 {
		w.Padding = 10
	}
	return w
}

func validateWatermark(w *models.Watermark) error {
	if w.ImagePath == "" && w.Text == "" {
		return exporterr.Validationf("watermark needs either an image or text")
	}
	if w.Opacity < 0 || w.Opacity > 1 {
		return exporterr.Validationf("watermark opacity %.2f outside [0,1]", w.Opacity)
	}
	if w.Scale < 0 || w.Scale > 1 {
		return exporterr.Validationf("watermark scale %.2f outside [0,1]", w.Scale)
	}
	return nil
}

// applyWatermark overlays the watermark on video and returns the new label.
// Image watermarks are read from imageInput; text is drawn with drawtext.
func applyWatermark(g *FilterGraph, video string, w models.Watermark, imageInput int, fontFile string) string {
	w = withWatermarkDefaults(w)

	if w.ImagePath == "" {
		fc := NewFilterChain().Add(buildTextWatermarkFilter(w, fontFile))
		return g.Pipe(video, "wm", fc)
	}

	// scale relative to the video width, then fade the alpha channel
	sized, base := g.Label("wmsrc"), g.Label("wmbase")
	g.Add([]string{fmt.Sprintf("%d:v", imageInput), video},
		fmt.Sprintf("scale2ref=w='main_w*%s':h='ow/a'", num(w.Scale)), sized, base)

	faded := g.Label("wmimg")
	g.Add([]string{sized}, fmt.Sprintf("format=rgba,colorchannelmixer=aa=%.2f", w.Opacity), faded)

	out := g.Label("wm")
	g.Add([]string{base, faded}, "overlay="+calculateWatermarkPosition(w.Position, w.Padding), out)
	return out
}

// buildTextWatermarkFilter builds the drawtext filter for a text watermark
func buildTextWatermarkFilter(w models.Watermark, fontFile string) string {
	var x, y string
	padding := w.Padding

	switch w.Position {
	case "top-left":
		x = fmt.Sprintf("%d", padding)
		y = fmt.Sprintf("%d", padding)
	case "top-right":
		x = fmt.Sprintf("w-tw-%d", padding)
		y = fmt.Sprintf("%d", padding)
	case "bottom-left":
		x = fmt.Sprintf("%d", padding)
		y = fmt.Sprintf("h-th-%d", padding)
	case "center":
		x = "(w-tw)/2"
		y = "(h-th)/2"
	default:
		x = fmt.Sprintf("w-tw-%d", padding)
		y = fmt.Sprintf("h-th-%d", padding)
	}

	filter := "drawtext="
	if fontFile != "" {
		filter += "fontfile=" + escapeFilterValue(fontFile) + ":"
	}
	return filter + fmt.Sprintf("text=%s:fontsize=%d:fontcolor=%s@%.2f:x=%s:y=%s",
		escapeDrawtext(w.Text), w.FontSize, ffColor(w.FontColor), w.Opacity, x, y)
}

// calculateWatermarkPosition returns the overlay position for an image watermark
func calculateWatermarkPosition(position string, padding int) string {
	switch position {
	case "top-left":
		return fmt.Sprintf("%d:%d", padding, padding)
	case "top-right":
		return fmt.Sprintf("W-w-%d:%d", padding, padding)
	case "bottom-left":
		return fmt.Sprintf("%d:H-h-%d", padding, padding)
	case "center":
		return "(W-w)/2:(H-h)/2"
	default:
		return fmt.Sprintf("W-w-%d:H-h-%d", padding, padding)
	}
}
