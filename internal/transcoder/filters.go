package transcoder

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

var encoders = map[string]string{
	"h264": "libx264",
	"avc":  "libx264",
	"h265": "libx265",
	"hevc": "libx265",
	"vp9":  "libvpx-vp9",
	"av1":  "libaom-av1",
	"aac":  "aac",
	"mp3":  "libmp3lame",
	"opus": "libopus",
}

// encoderFor maps a codec name to the ffmpeg encoder; unknown names pass through
func encoderFor(codec string) string {
	if enc, ok := encoders[strings.ToLower(codec)]; ok {
		return enc
	}
	return codec
}

// ffColor converts #RRGGBB[AA] to ffmpeg's 0xRRGGBB[AA]; names and name@alpha pass through
func ffColor(c string) string {
	if strings.HasPrefix(c, "#") {
		return "0x" + c[1:]
	}
	return c
}

// fade is a fade in or out in segment-local time
type fade struct {
	in       bool
	start    float64
	duration float64
}

func (f fade) video() string {
	return fmt.Sprintf("fade=t=%s:st=%s:d=%s", direction(f.in), ts(f.start), ts(f.duration))
}

func (f fade) audio() string {
	return fmt.Sprintf("afade=t=%s:st=%s:d=%s", direction(f.in), ts(f.start), ts(f.duration))
}

func direction(in bool) string {
	if in {
		return "in"
	}
	return "out"
}

var filterName = regexp.MustCompile(`^[a-z0-9_]+$`)

// effectFilters turns a clip's enabled effects into fades and named video
// filters. Transitions are handled by the caller since they span two clips.
func effectFilters(clip models.Clip) ([]fade, []string, error) {
	var fades []fade
	var named []string
	for _, e := range clip.Effects {
		if !e.Enabled {
			continue
		}
		switch e.Kind {
		case models.EffectKindFade:
			fades = append(fades, fadeFor(e, clip.Duration))
		case models.EffectKindFilter:
			f, err := namedFilter(e)
			if err != nil {
				return nil, nil, fmt.Errorf("clip %s: %w", clip.ID, err)
			}
			named = append(named, f)
		}
	}
	return fades, named, nil
}

func fadeFor(e models.Effect, clipDuration float64) fade {
	in := !e.FadesOut()
	d := paramFloat(e.Params, "duration", 0.5)
	if e.Start != nil && e.End != nil && *e.End > *e.Start {
		return fade{in: in, start: *e.Start, duration: *e.End - *e.Start}
	}
	d = math.Min(d, clipDuration)
	if in {
		return fade{in: true, start: 0, duration: d}
	}
	return fade{in: false, start: clipDuration - d, duration: d}
}

func namedFilter(e models.Effect) (string, error) {
	name := e.Params["name"]
	if !filterName.MatchString(name) {
		return "", fmt.Errorf("invalid filter name %q", name)
	}
	args := escapeChars(e.Params["args"], `[],;`)
	if e.Start != nil && e.End != nil {
		enable := fmt.Sprintf("enable='between(t,%s,%s)'", ts(*e.Start), ts(*e.End))
		if args == "" {
			args = enable
		} else {
			args += ":" + enable
		}
	}
	if args == "" {
		return name, nil
	}
	return name + "=" + args, nil
}

func transitionDuration(clip models.Clip) float64 {
	for _, e := range clip.Effects {
		if e.Enabled && e.Kind == models.EffectKindTransition {
			return paramFloat(e.Params, "duration", 1.0)
		}
	}
	return 0
}

func paramFloat(params map[string]string, key string, def float64) float64 {
	var v float64
	if s, ok := params[key]; ok {
		if _, err := fmt.Sscanf(s, "%g", &v); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// interpolate returns the crop region at time t on a time-sorted keyframe track
func interpolate(kf []models.CropKeyframe, t float64) models.CropRegion {
	if t <= kf[0].Time {
		return kf[0].Region
	}
	for i := 1; i < len(kf); i++ {
		if t <= kf[i].Time {
			a, b := kf[i-1], kf[i]
			if b.Time-a.Time < 1e-9 {
				return b.Region
			}
			f := (t - a.Time) / (b.Time - a.Time)
			r := a.Region
			r.X = int(math.Round(float64(a.Region.X) + float64(b.Region.X-a.Region.X)*f))
			r.Y = int(math.Round(float64(a.Region.Y) + float64(b.Region.Y-a.Region.Y)*f))
			return r
		}
	}
	return kf[len(kf)-1].Region
}

// mapKeyframes converts a source-time keyframe track into output time by
// walking the concatenated segments. Each segment gets a keyframe at both of
// its edges so the crop follows the cut.
func mapKeyframes(kf []models.CropKeyframe, segs []segment) []models.CropKeyframe {
	if len(kf) == 0 {
		return nil
	}
	src := make([]models.CropKeyframe, len(kf))
	copy(src, kf)
	sort.SliceStable(src, func(i, j int) bool { return src[i].Time < src[j].Time })

	var out []models.CropKeyframe
	for _, s := range segs {
		if !s.trimmed {
			return src
		}
		start, end := s.clip.SourceStart, s.clip.SourceEnd
		scale := s.clip.Duration / (end - start)
		out = append(out, models.CropKeyframe{Time: s.outStart, Region: interpolate(src, start)})
		for _, k := range src {
			if k.Time > start && k.Time < end {
				out = append(out, models.CropKeyframe{Time: s.outStart + (k.Time-start)*scale, Region: k.Region})
			}
		}
		out = append(out, models.CropKeyframe{Time: s.outStart + s.clip.Duration, Region: interpolate(src, end)})
	}
	return out
}

// mapTranscript converts source-time captions into output time. Each
// segment that plays source keeps the captions overlapping its range, cut to
// the range and shifted to where the segment lands. Malformed captions pass
// through untouched so validation still sees them.
func mapTranscript(in []models.SubtitleSegment, segs []segment, source int) []models.SubtitleSegment {
	var out []models.SubtitleSegment
	for _, c := range in {
		if c.End <= c.Start {
			out = append(out, c)
		}
	}
	for _, s := range segs {
		if !s.trimmed {
			return in
		}
		if s.input != source {
			continue
		}
		start, end := s.clip.SourceStart, s.clip.SourceEnd
		scale := s.clip.Duration / (end - start)
		for _, c := range in {
			a, b := math.Max(c.Start, start), math.Min(c.End, end)
			if c.End <= c.Start || b <= a {
				continue
			}
			c.Start = s.outStart + (a-start)*scale
			c.End = s.outStart + (b-start)*scale
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// cropFilter renders a keyframe track as a crop filter whose x and y
// expressions linearly interpolate between consecutive keyframes.
func cropFilter(kf []models.CropKeyframe) string {
	w, h := kf[0].Region.Width, kf[0].Region.Height
	return fmt.Sprintf("crop=w=%d:h=%d:x=%s:y=%s", w, h,
		cropExpr(kf, func(r models.CropRegion) int { return r.X }),
		cropExpr(kf, func(r models.CropRegion) int { return r.Y }))
}

func cropExpr(kf []models.CropKeyframe, axis func(models.CropRegion) int) string {
	constant := true
	for _, k := range kf[1:] {
		if axis(k.Region) != axis(kf[0].Region) {
			constant = false
			break
		}
	}
	if constant {
		return fmt.Sprintf("%d", axis(kf[0].Region))
	}

	expr := fmt.Sprintf("%d", axis(kf[len(kf)-1].Region))
	for i := len(kf) - 2; i >= 0; i-- {
		a, b := kf[i], kf[i+1]
		dt := b.Time - a.Time
		if dt < 1e-9 {
			continue
		}
		va, vb := axis(a.Region), axis(b.Region)
		segment := fmt.Sprintf("%d", va)
		if va != vb {
			segment = fmt.Sprintf("%d+(%d)*(t-%s)/%s", va, vb-va, ts(a.Time), ts(dt))
		}
		expr = fmt.Sprintf("if(lt(t,%s),%s,%s)", ts(b.Time), segment, expr)
	}
	return "'" + expr + "'"
}

// centerCropFilter crops the largest centered window of the given aspect ratio
func centerCropFilter(aspect float64) string {
	a := num(math.Round(aspect*1e6) / 1e6)
	return fmt.Sprintf("crop=w='trunc(min(iw,ih*%s)/2)*2':h='trunc(min(ih,iw/%s)/2)*2'", a, a)
}

// scaleFilter scales to the target size; a zero dimension keeps the aspect ratio
func scaleFilter(width, height int) string {
	if width <= 0 && height <= 0 {
		return ""
	}
	w, h := "-2", "-2"
	if width > 0 {
		w = fmt.Sprintf("%d", width)
	}
	if height > 0 {
		h = fmt.Sprintf("%d", height)
	}
	return fmt.Sprintf("scale=%s:%s", w, h)
}

// eqFilter renders color correction; zero contrast, saturation and gamma mean unchanged
func eqFilter(cc *models.ColorCorrection) string {
	if cc == nil {
		return ""
	}
	contrast, saturation, gamma := cc.Contrast, cc.Saturation, cc.Gamma
	if contrast == 0 {
		contrast = 1
	}
	if saturation == 0 {
		saturation = 1
	}
	if gamma == 0 {
		gamma = 1
	}
	if cc.Brightness == 0 && contrast == 1 && saturation == 1 && gamma == 1 {
		return ""
	}
	return fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s:gamma=%s",
		num(cc.Brightness), num(contrast), num(saturation), num(gamma))
}

// captionFilters draws each caption line centered horizontally and gated to
// the caption's interval
func captionFilters(overlays []subtitle.Overlay, fontFile string) []string {
	var out []string
	for _, o := range overlays {
		style := o.Style
		size := style.FontSize
		if size <= 0 {
			size = 48
		}
		margin := style.MarginV
		if margin <= 0 {
			margin = 40
		}
		font := fontFile
		if style.FontFile != "" {
			font = style.FontFile
		}
		lineHeight := int(math.Round(float64(size) * 1.25))

		lines := strings.Split(o.Text, "\n")
		for i, line := range lines {
			var y string
			switch style.Position {
			case "top":
				y = fmt.Sprintf("%d", margin+i*lineHeight)
			case "center":
				y = fmt.Sprintf("(h-%d)/2+%d", len(lines)*lineHeight, i*lineHeight)
			default:
				y = fmt.Sprintf("h-%d", margin+(len(lines)-i)*lineHeight)
			}

			var b strings.Builder
			b.WriteString("drawtext=")
			if font != "" {
				b.WriteString("fontfile=" + escapeFilterValue(font) + ":")
			} else if style.FontName != "" {
				b.WriteString("font=" + escapeFilterValue(style.FontName) + ":")
			}
			fmt.Fprintf(&b, "text=%s:fontsize=%d:fontcolor=%s", escapeDrawtext(line), size, ffColor(orDefault(style.PrimaryColor, "white")))
			outline := style.Outline
			if outline <= 0 {
				outline = 2
			}
			fmt.Fprintf(&b, ":borderw=%d:bordercolor=%s", outline, ffColor(orDefault(style.OutlineColor, "black")))
			if style.BackgroundColor != "" {
				fmt.Fprintf(&b, ":box=1:boxcolor=%s:boxborderw=8", ffColor(style.BackgroundColor))
			}
			fmt.Fprintf(&b, ":x=(w-text_w)/2:y=%s:enable='between(t,%s,%s)'", y, ts(o.Start), ts(o.End))
			out = append(out, b.String())
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
