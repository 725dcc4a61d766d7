package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// FormatOptions control emitter details shared by all formats
type FormatOptions struct {
	ShowSpeaker bool
	Style       *models.SubtitleStyle
	// PlayResX and PlayResY set the ASS script resolution
	PlayResX int
	PlayResY int
}

// FormatSRT renders segments as SubRip
func FormatSRT(segments []models.SubtitleSegment, opts FormatOptions) string {
	var b strings.Builder
	for i, seg := range segments {
		text := seg.Text
		if opts.ShowSpeaker && seg.Speaker != "" {
			text = seg.Speaker + ": " + text
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(seg.Start), srtTimestamp(seg.End), text)
	}
	return b.String()
}

// FormatVTT renders segments as WebVTT with an optional STYLE block
func FormatVTT(segments []models.SubtitleSegment, opts FormatOptions) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")

	if opts.Style != nil {
		b.WriteString(vttStyleBlock(*opts.Style))
	}

	for i, seg := range segments {
		text := seg.Text
		if opts.ShowSpeaker && seg.Speaker != "" {
			text = "<v " + seg.Speaker + ">" + text
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, vttTimestamp(seg.Start), vttTimestamp(seg.End), text)
	}
	return b.String()
}

// FormatASS renders segments as an Advanced SubStation Alpha script with a single style
func FormatASS(segments []models.SubtitleSegment, opts FormatOptions) string {
	style := models.SubtitleStyle{}
	if opts.Style != nil {
		style = *opts.Style
	}
	resX, resY := opts.PlayResX, opts.PlayResY
	if resX <= 0 || resY <= 0 {
		resX, resY = 1920, 1080
	}

	var b strings.Builder
	b.WriteString("[Script Info]\n")
	b.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", resX)
	fmt.Fprintf(&b, "PlayResY: %d\n", resY)
	b.WriteString("WrapStyle: 0\n")
	b.WriteString("ScaledBorderAndShadow: yes\n\n")

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, " +
		"Alignment, MarginL, MarginR, MarginV, Encoding\n")
	b.WriteString(assStyleLine(style))
	b.WriteString("\n")

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, seg := range segments {
		name := ""
		if opts.ShowSpeaker {
			name = strings.ReplaceAll(seg.Speaker, ",", " ")
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,%s,0,0,0,,%s\n",
			assTimestamp(seg.Start), assTimestamp(seg.End), name, assText(seg.Text))
	}
	return b.String()
}

func splitMillis(seconds float64) (h, m, s, ms int64) {
	total := int64(math.Round(seconds * 1000))
	if total < 0 {
		total = 0
	}
	h = total / 3_600_000
	m = total / 60_000 % 60
	s = total / 1000 % 60
	ms = total % 1000
	return
}

func srtTimestamp(seconds float64) string {
	h, m, s, ms := splitMillis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func vttTimestamp(seconds float64) string {
	h, m, s, ms := splitMillis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func assTimestamp(seconds float64) string {
	total := int64(math.Round(seconds * 100))
	if total < 0 {
		total = 0
	}
	h := total / 360_000
	m := total / 6000 % 60
	s := total / 100 % 60
	cs := total % 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

func assText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", `\N`)
}

func vttStyleBlock(style models.SubtitleStyle) string {
	var rules []string
	if style.FontName != "" {
		rules = append(rules, fmt.Sprintf("  font-family: %s;", style.FontName))
	}
	if style.FontSize > 0 {
		rules = append(rules, fmt.Sprintf("  font-size: %dpx;", style.FontSize))
	}
	if style.PrimaryColor != "" {
		rules = append(rules, fmt.Sprintf("  color: %s;", cssColor(style.PrimaryColor)))
	}
	if style.BackgroundColor != "" {
		rules = append(rules, fmt.Sprintf("  background-color: %s;", cssColor(style.BackgroundColor)))
	}
	if style.Bold {
		rules = append(rules, "  font-weight: bold;")
	}
	if len(rules) == 0 {
		return ""
	}
	return "STYLE\n::cue {\n" + strings.Join(rules, "\n") + "\n}\n\n"
}

func assStyleLine(style models.SubtitleStyle) string {
	font := style.FontName
	if font == "" {
		font = "Arial"
	}
	size := style.FontSize
	if size <= 0 {
		size = 48
	}
	primary := style.PrimaryColor
	if primary == "" {
		primary = "white"
	}
	outlineColor := style.OutlineColor
	if outlineColor == "" {
		outlineColor = "black"
	}
	back := style.BackgroundColor
	if back == "" {
		back = "black@0.5"
	}
	bold := 0
	if style.Bold {
		bold = -1
	}
	outline := style.Outline
	if outline <= 0 {
		outline = 2
	}
	marginV := style.MarginV
	if marginV <= 0 {
		marginV = 40
	}

	return fmt.Sprintf("Style: Default,%s,%d,%s,&H000000FF,%s,%s,%d,0,0,0,100,100,0,0,1,%d,0,%d,10,10,%d,1\n",
		font, size, assColor(primary), assColor(outlineColor), assColor(back), bold, outline, alignment(style.Position), marginV)
}

// alignment maps a position to the ASS numpad alignment
func alignment(position string) int {
	switch position {
	case "top":
		return 8
	case "center", "middle":
		return 5
	default:
		return 2
	}
}

var namedColors = map[string]string{
	"white":  "FFFFFF",
	"black":  "000000",
	"yellow": "FFFF00",
	"red":    "FF0000",
	"green":  "00FF00",
	"blue":   "0000FF",
	"cyan":   "00FFFF",
	"gray":   "808080",
}

// parseColor accepts "name", "#RRGGBB" or "0xRRGGBB", each optionally followed
// by "@opacity" as ffmpeg does, and returns RRGGBB plus opacity in [0,1].
func parseColor(color string) (string, float64) {
	opacity := 1.0
	if i := strings.IndexByte(color, '@'); i >= 0 {
		if v, err := strconv.ParseFloat(color[i+1:], 64); err == nil {
			opacity = math.Max(0, math.Min(1, v))
		}
		color = color[:i]
	}
	color = strings.ToLower(strings.TrimSpace(color))
	if hex, ok := namedColors[color]; ok {
		return hex, opacity
	}
	color = strings.TrimPrefix(strings.TrimPrefix(color, "#"), "0x")
	if len(color) == 6 {
		if _, err := strconv.ParseUint(color, 16, 32); err == nil {
			return strings.ToUpper(color), opacity
		}
	}
	return "FFFFFF", opacity
}

// assColor converts to &HAABBGGRR where AA is transparency
func assColor(color string) string {
	rgb, opacity := parseColor(color)
	alpha := int(math.Round((1 - opacity) * 255))
	return fmt.Sprintf("&H%02X%s%s%s", alpha, rgb[4:6], rgb[2:4], rgb[0:2])
}

func cssColor(color string) string {
	rgb, opacity := parseColor(color)
	if opacity >= 1 {
		return "#" + rgb
	}
	r, _ := strconv.ParseUint(rgb[0:2], 16, 8)
	g, _ := strconv.ParseUint(rgb[2:4], 16, 8)
	b, _ := strconv.ParseUint(rgb[4:6], 16, 8)
	return fmt.Sprintf("rgba(%d,%d,%d,%s)", r, g, b, strconv.FormatFloat(opacity, 'f', -1, 64))
}
