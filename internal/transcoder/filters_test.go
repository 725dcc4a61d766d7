package transcoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func TestFilterGraph(t *testing.T) {
	g := NewFilterGraph()
	a := g.Pipe("0:v:0", "v", NewFilterChain().Add("trim=start=0:end=1").Add("").Add("setpts=PTS-STARTPTS"))
	b := g.Pipe("0:v:0", "v", NewFilterChain())
	out := g.Label("out")
	g.Add([]string{a, b}, "concat=n=2:v=1:a=0", out)

	assert.Equal(t, "v0", a)
	assert.Equal(t, "0:v:0", b, "empty chain passes the input through")
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 1, g.Count("trim"))
	assert.Equal(t, 0, g.Count("atrim"))
	assert.Equal(t, "[0:v:0]trim=start=0:end=1,setpts=PTS-STARTPTS[v0];[v0][0:v:0]concat=n=2:v=1:a=0[out0]", g.String())
}

func TestEscaping(t *testing.T) {
	assert.Equal(t, `a\[b\]\;c`, escapeFilterValue("a[b];c"))
	assert.Equal(t, `C\\:/fonts/a.ttf`, escapeFilterValue(`C:/fonts/a.ttf`))
	assert.Equal(t, `it\\\'s 50\\\\% off\\: now`, escapeDrawtext("it's 50% off: now"))
}

func TestTextWatermark(t *testing.T) {
	g := NewFilterGraph()
	out := applyWatermark(g, "v", models.Watermark{Text: "@brand"}, -1, "")

	assert.Equal(t, "wm0", out)
	assert.Equal(t, "[v]drawtext=text=@brand:fontsize=24:fontcolor=white@0.80:x=w-tw-10:y=h-th-10[wm0]", g.String())
}

func TestImageWatermark(t *testing.T) {
	g := NewFilterGraph()
	out := applyWatermark(g, "v", models.Watermark{ImagePath: "logo.png", Position: "top-left", Opacity: 0.5, Scale: 0.2}, 1, "")

	assert.Equal(t, "wm0", out)
	assert.Equal(t,
		"[1:v][v]scale2ref=w='main_w*0.2':h='ow/a'[wmsrc0][wmbase0];"+
			"[wmsrc0]format=rgba,colorchannelmixer=aa=0.50[wmimg0];"+
			"[wmbase0][wmimg0]overlay=10:10[wm0]",
		g.String())
}

func TestCalculateWatermarkPosition(t *testing.T) {
	tests := map[string]string{
		"top-left":     "10:10",
		"top-right":    "W-w-10:10",
		"bottom-left":  "10:H-h-10",
		"center":       "(W-w)/2:(H-h)/2",
		"bottom-right": "W-w-10:H-h-10",
	}
	for position, want := range tests {
		assert.Equal(t, want, calculateWatermarkPosition(position, 10), position)
	}
}

func TestCaptionFilters(t *testing.T) {
	overlays := []subtitle.Overlay{{
		Text:  "first line\nsecond",
		Start: 1.5,
		End:   3,
		Style: models.SubtitleStyle{FontSize: 40, PrimaryColor: "#FFFF00", BackgroundColor: "black@0.5", MarginV: 100},
	}}

	got := captionFilters(overlays, "/fonts/Inter.ttf")
	require.Len(t, got, 2)
	assert.Equal(t,
		"drawtext=fontfile=/fonts/Inter.ttf:text=first line:fontsize=40:fontcolor=0xFFFF00:borderw=2:bordercolor=black"+
			":box=1:boxcolor=black@0.5:boxborderw=8:x=(w-text_w)/2:y=h-200:enable='between(t,1.500,3.000)'",
		got[0])
	assert.True(t, strings.Contains(got[1], "text=second") && strings.Contains(got[1], "y=h-150"))
}

func TestEqFilter(t *testing.T) {
	assert.Equal(t, "", eqFilter(nil))
	assert.Equal(t, "", eqFilter(&models.ColorCorrection{Contrast: 1}))
	assert.Equal(t, "eq=brightness=0:contrast=1.2:saturation=1:gamma=1", eqFilter(&models.ColorCorrection{Contrast: 1.2}))
}

func TestScaleFilter(t *testing.T) {
	assert.Equal(t, "scale=1080:1920", scaleFilter(1080, 1920))
	assert.Equal(t, "scale=1280:-2", scaleFilter(1280, 0))
	assert.Equal(t, "", scaleFilter(0, 0))
}

func TestAudioFilters(t *testing.T) {
	assert.Equal(t, "loudnorm=I=-16.0:TP=-1.5:LRA=11.0", loudnormFilter(DefaultLoudness()))
	assert.Equal(t, "", volumeFilter(1))
	assert.Equal(t, "volume=1.5", volumeFilter(1.5))
	assert.Nil(t, atempoChain(1))
	assert.Equal(t, []string{"atempo=2.0", "atempo=1.5"}, atempoChain(3))
	assert.Equal(t, []string{"atempo=0.5", "atempo=0.5"}, atempoChain(0.25))
	assert.Equal(t, []string{"-c:a", "libopus", "-b:a", "96k"}, audioSpecOptions("opus", 96000, 0, 0))
}

func TestFadeFor(t *testing.T) {
	out := fadeFor(models.Effect{Kind: models.EffectKindFade, Params: map[string]string{"direction": "out", "duration": "2"}}, 5)
	assert.Equal(t, fade{in: false, start: 3, duration: 2}, out)

	short := fadeFor(models.Effect{Kind: models.EffectKindFade, Params: map[string]string{"duration": "9"}}, 4)
	assert.Equal(t, fade{in: true, start: 0, duration: 4}, short)
}
