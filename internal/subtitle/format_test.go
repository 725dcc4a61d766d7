package subtitle

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func sampleSegments() []models.SubtitleSegment {
	return []models.SubtitleSegment{
		{Start: 1, End: 3.5, Text: "Hello there", Speaker: "Ana"},
		{Start: 3661.042, End: 3663.9, Text: "Second line\nwith a break", Speaker: "Ben"},
	}
}

func TestFormatSRT(t *testing.T) {
	got := FormatSRT(sampleSegments(), FormatOptions{})
	want := "1\n00:00:01,000 --> 00:00:03,500\nHello there\n\n" +
		"2\n01:01:01,042 --> 01:01:03,900\nSecond line\nwith a break\n\n"
	assert.Equal(t, want, got)

	withSpeaker := FormatSRT(sampleSegments()[:1], FormatOptions{ShowSpeaker: true})
	assert.Contains(t, withSpeaker, "\nAna: Hello there\n")
}

func TestFormatVTT(t *testing.T) {
	got := FormatVTT(sampleSegments()[:1], FormatOptions{ShowSpeaker: true})
	assert.Equal(t, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:03.500\n<v Ana>Hello there\n\n", got)

	styled := FormatVTT(sampleSegments()[:1], FormatOptions{Style: &models.SubtitleStyle{
		FontName: "Inter", FontSize: 32, PrimaryColor: "yellow", BackgroundColor: "black@0.5",
	}})
	assert.True(t, strings.HasPrefix(styled, "WEBVTT\n\nSTYLE\n::cue {\n"))
	assert.Contains(t, styled, "  color: #FFFF00;\n")
	assert.Contains(t, styled, "  background-color: rgba(0,0,0,0.5);\n")
	assert.Contains(t, styled, "  font-family: Inter;\n")
}

func TestFormatASS(t *testing.T) {
	got := FormatASS(sampleSegments(), FormatOptions{
		ShowSpeaker: true,
		PlayResX:    1080,
		PlayResY:    1920,
		Style:       &models.SubtitleStyle{FontName: "Inter", FontSize: 60, Bold: true, Position: "top", PrimaryColor: "#FF8000"},
	})

	assert.Contains(t, got, "[Script Info]\nScriptType: v4.00+\nPlayResX: 1080\nPlayResY: 1920\n")
	assert.Contains(t, got, "Style: Default,Inter,60,&H000080FF,&H000000FF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,2,0,8,10,10,40,1\n")
	assert.Contains(t, got, "Dialogue: 0,0:00:01.00,0:00:03.50,Default,Ana,0,0,0,,Hello there\n")
	assert.Contains(t, got, `Dialogue: 0,1:01:01.04,1:01:03.90,Default,Ben,0,0,0,,Second line\Nwith a break`)
}

func TestAssColor(t *testing.T) {
	assert.Equal(t, "&H00FFFFFF", assColor("white"))
	assert.Equal(t, "&H000000FF", assColor("#FF0000"))
	assert.Equal(t, "&H80000000", assColor("black@0.5"))
	assert.Equal(t, "&H00FFFFFF", assColor("not-a-color"))
}

func TestTimestamps(t *testing.T) {
	assert.Equal(t, "00:00:00,000", srtTimestamp(-1))
	assert.Equal(t, "00:00:59,999", srtTimestamp(59.9994))
	assert.Equal(t, "00:01:00,000", srtTimestamp(59.9996))
	assert.Equal(t, "10:00:00.000", vttTimestamp(36000))
	assert.Equal(t, "0:00:02.35", assTimestamp(2.346))
}

func TestParseSRT(t *testing.T) {
	input := "1\r\n00:00:01,000 --> 00:00:02,500\r\nfirst\r\n\r\n2\n00:00:03,250 --> 00:00:04,000\nsecond\nline\n"
	segs, err := ParseSRT(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, "1", segs[0].ID)
	assert.Equal(t, 1.0, segs[0].Start)
	assert.Equal(t, 2.5, segs[0].End)
	assert.Equal(t, "second\nline", segs[1].Text)

	_, err = ParseSRT(strings.NewReader("1\nnot a timing line\ntext\n"))
	assert.Error(t, err)
}

func TestParseVTT(t *testing.T) {
	input := "WEBVTT - title\n\nSTYLE\n::cue { color: white; }\n\nNOTE a comment\n\n" +
		"intro\n00:01.500 --> 00:03.000 align:start position:10%\n<v Ana>Hi</v>\n\n" +
		"00:00:04.000 --> 00:00:05.000\nno id\n"
	segs, err := ParseVTT(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, "intro", segs[0].ID)
	assert.Equal(t, 1.5, segs[0].Start)
	assert.Equal(t, 3.0, segs[0].End)
	assert.Equal(t, "Ana", segs[0].Speaker)
	assert.Equal(t, "Hi", segs[0].Text)
	assert.Equal(t, "no id", segs[1].Text)

	_, err = ParseVTT(strings.NewReader("1\n00:00:01.000 --> 00:00:02.000\nx\n"))
	assert.Error(t, err, "header is mandatory")
}

func randomSegments(rng *rand.Rand, n int) []models.SubtitleSegment {
	words := []string{"alpha", "beta", "gamma", "delta", "café", "naïve", "straße", "42", "hello,", "world."}
	var segs []models.SubtitleSegment
	t := 0.0
	for i := 0; i < n; i++ {
		t += rng.Float64() * 3
		d := 0.2 + rng.Float64()*5
		var text []string
		for j := 0; j < 1+rng.Intn(8); j++ {
			text = append(text, words[rng.Intn(len(words))])
		}
		segs = append(segs, models.SubtitleSegment{Start: t, End: t + d, Text: strings.Join(text, " ")})
		t += d
	}
	return segs
}

func assertRoundTrip(t *testing.T, want, got []models.SubtitleSegment) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.LessOrEqual(t, math.Abs(want[i].Start-got[i].Start), 0.0005+1e-9, "start %d", i)
		assert.LessOrEqual(t, math.Abs(want[i].End-got[i].End), 0.0005+1e-9, "end %d", i)
		assert.Equal(t, want[i].Text, got[i].Text)
	}
}

func TestSRTRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		segs := randomSegments(rng, 1+rng.Intn(20))
		parsed, err := ParseSRT(strings.NewReader(FormatSRT(segs, FormatOptions{})))
		require.NoError(t, err)
		assertRoundTrip(t, segs, parsed)
	}
}

func TestVTTRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	style := &models.SubtitleStyle{FontName: "Arial", PrimaryColor: "white"}
	for i := 0; i < 50; i++ {
		segs := randomSegments(rng, 1+rng.Intn(20))
		for j := range segs {
			segs[j].Speaker = "S1"
		}
		parsed, err := ParseVTT(strings.NewReader(FormatVTT(segs, FormatOptions{ShowSpeaker: true, Style: style})))
		require.NoError(t, err)
		assertRoundTrip(t, segs, parsed)
		assert.Equal(t, "S1", parsed[0].Speaker)
	}
}
