package subtitle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Overlay describes one burned-in caption for the filter graph
type Overlay struct {
	Text  string // lines separated by "\n"
	Start float64
	End   float64
	Style models.SubtitleStyle
}

// Generator prepares transcript segments and renders them as files or overlays
type Generator struct {
	optimizer *Optimizer
	style     models.SubtitleStyle
	playResX  int
	playResY  int
}

// NewGenerator creates a generator. A nil optimizer uses DefaultOptimizer.
func NewGenerator(optimizer *Optimizer, style models.SubtitleStyle) *Generator {
	if optimizer == nil {
		optimizer = DefaultOptimizer()
	}
	if style.MaxLineLength <= 0 {
		style.MaxLineLength = 42
	}
	if style.MaxLines <= 0 {
		style.MaxLines = 2
	}
	return &Generator{optimizer: optimizer, style: style}
}

// WithStyle returns a copy of the generator using style, keeping unset layout limits
func (g *Generator) WithStyle(style models.SubtitleStyle) *Generator {
	if style.MaxLineLength <= 0 {
		style.MaxLineLength = g.style.MaxLineLength
	}
	if style.MaxLines <= 0 {
		style.MaxLines = g.style.MaxLines
	}
	out := *g
	out.style = style
	return &out
}

// WithResolution sets the ASS script resolution to the output frame size
func (g *Generator) WithResolution(width, height int) *Generator {
	out := *g
	out.playResX, out.playResY = width, height
	return &out
}

// Prepare validates, normalizes, retimes and wraps segments. Blank segments are dropped.
func (g *Generator) Prepare(segments []models.SubtitleSegment, mediaDuration float64) ([]models.SubtitleSegment, error) {
	cleaned := make([]models.SubtitleSegment, 0, len(segments))
	for i, seg := range segments {
		if seg.End <= seg.Start {
			return nil, exporterr.Validationf("subtitle segment %d: end %.3f must be after start %.3f", i, seg.End, seg.Start)
		}
		if seg.Start < 0 {
			return nil, exporterr.Validationf("subtitle segment %d: negative start", i)
		}
		seg.Text = Normalize(seg.Text)
		if seg.Text == "" {
			continue
		}
		cleaned = append(cleaned, seg)
	}

	timed := g.optimizer.Optimize(cleaned, mediaDuration)
	for i := range timed {
		timed[i].Text = strings.Join(Wrap(timed[i].Text, g.style.MaxLineLength, g.style.MaxLines), "\n")
	}
	return timed, nil
}

// Generate renders prepared captions in the requested sidecar format
func (g *Generator) Generate(segments []models.SubtitleSegment, format models.SubtitleFormat, mediaDuration float64) ([]byte, error) {
	prepared, err := g.Prepare(segments, mediaDuration)
	if err != nil {
		return nil, err
	}

	opts := FormatOptions{ShowSpeaker: g.style.ShowSpeaker, PlayResX: g.playResX, PlayResY: g.playResY}
	switch format {
	case models.SubtitleFormatSRT:
		return []byte(FormatSRT(prepared, opts)), nil
	case models.SubtitleFormatVTT:
		style := g.style
		opts.Style = &style
		return []byte(FormatVTT(prepared, opts)), nil
	case models.SubtitleFormatASS:
		style := g.style
		opts.Style = &style
		return []byte(FormatASS(prepared, opts)), nil
	default:
		return nil, exporterr.Validationf("subtitle format %q has no file representation", format)
	}
}

// WriteFile renders captions and writes them to path
func (g *Generator) WriteFile(path string, segments []models.SubtitleSegment, format models.SubtitleFormat, mediaDuration float64) error {
	data, err := g.Generate(segments, format, mediaDuration)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create subtitle directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write subtitles: %w", err)
	}
	return nil
}

// Overlays returns one drawtext descriptor per prepared segment for burned captions
func (g *Generator) Overlays(segments []models.SubtitleSegment, mediaDuration float64) ([]Overlay, error) {
	prepared, err := g.Prepare(segments, mediaDuration)
	if err != nil {
		return nil, err
	}

	overlays := make([]Overlay, 0, len(prepared))
	for _, seg := range prepared {
		text := seg.Text
		if g.style.ShowSpeaker && seg.Speaker != "" {
			text = seg.Speaker + ": " + text
		}
		overlays = append(overlays, Overlay{Text: text, Start: seg.Start, End: seg.End, Style: g.style})
	}
	return overlays, nil
}
