package subtitle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func testGenerator() *Generator {
	return NewGenerator(&Optimizer{ReadingSpeed: 20, MinDisplayTime: 0.5, MaxDisplayTime: 6, MinGap: 0.05},
		models.SubtitleStyle{MaxLineLength: 16, MaxLines: 2, ShowSpeaker: true})
}

func TestPrepareValidates(t *testing.T) {
	g := testGenerator()

	_, err := g.Prepare([]models.SubtitleSegment{{Start: 2, End: 1, Text: "backwards"}}, 0)
	assert.True(t, exporterr.IsValidation(err))

	out, err := g.Prepare([]models.SubtitleSegment{
		{Start: 0, End: 1, Text: "   "},
		{Start: 1, End: 3, Text: "a caption that needs wrapping"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1, "blank segments are dropped")
	assert.Equal(t, "a caption that\nneeds wrapping", out[0].Text)
}

func TestGenerateFormats(t *testing.T) {
	g := testGenerator()
	segs := []models.SubtitleSegment{{Start: 0, End: 2, Text: "hello", Speaker: "Ana"}}

	srt, err := g.Generate(segs, models.SubtitleFormatSRT, 0)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:02,000\nAna: hello\n\n", string(srt))

	vtt, err := g.Generate(segs, models.SubtitleFormatVTT, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(vtt), "WEBVTT\n\n"))
	assert.Contains(t, string(vtt), "<v Ana>hello")

	ass, err := g.WithResolution(1080, 1920).Generate(segs, models.SubtitleFormatASS, 0)
	require.NoError(t, err)
	assert.Contains(t, string(ass), "PlayResX: 1080")
	assert.Contains(t, string(ass), ",Default,Ana,")

	_, err = g.Generate(segs, models.SubtitleFormatBurned, 0)
	assert.True(t, exporterr.IsValidation(err))
}

func TestGeneratedSRTParsesBack(t *testing.T) {
	g := NewGenerator(DefaultOptimizer(), models.SubtitleStyle{})
	segs := []models.SubtitleSegment{
		{Start: 0.5, End: 2.0, Text: "first"},
		{Start: 2.05, End: 4.0, Text: "second"},
	}

	data, err := g.Generate(segs, models.SubtitleFormatSRT, 0)
	require.NoError(t, err)
	parsed, err := ParseSRT(strings.NewReader(string(data)))
	require.NoError(t, err)

	prepared, err := g.Prepare(segs, 0)
	require.NoError(t, err)
	assertRoundTrip(t, prepared, parsed)
	assert.LessOrEqual(t, parsed[0].End, parsed[1].Start)
}

func TestWriteFile(t *testing.T) {
	g := testGenerator()
	path := filepath.Join(t.TempDir(), "nested", "captions.vtt")

	err := g.WriteFile(path, []models.SubtitleSegment{{Start: 0, End: 1, Text: "x"}}, models.SubtitleFormatVTT, 0)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "WEBVTT"))
}

func TestOverlays(t *testing.T) {
	g := testGenerator().WithStyle(models.SubtitleStyle{FontSize: 40, ShowSpeaker: true})
	overlays, err := g.Overlays([]models.SubtitleSegment{
		{Start: 1, End: 2, Text: "hi", Speaker: "Ben"},
		{Start: 4, End: 5, Text: "bye"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, overlays, 2)

	assert.Equal(t, "Ben: hi", overlays[0].Text)
	assert.Equal(t, 1.0, overlays[0].Start)
	assert.Equal(t, 40, overlays[0].Style.FontSize)
	assert.Equal(t, 16, overlays[0].Style.MaxLineLength, "layout limits are inherited")
	assert.Equal(t, "bye", overlays[1].Text)
}

func TestLoadTranscript(t *testing.T) {
	doc := `{
  "language": "en",
  "segments": [
    {"id": 0, "start": 0.0, "end": 2.5, "text": " Hello world ", "confidence": 0.93, "speaker": "SPEAKER_00",
     "words": [{"word": "Hello", "start": 0.0, "end": 0.4, "confidence": 0.9}]},
    {"start": 3.0, "end": 3.0, "text": "zero length"},
    {"id": "seg-2", "start": 4.0, "end": 5.0, "text": "Bye"}
  ],
  "speakers": [{"id": "SPEAKER_00", "segments": 1, "total_duration": 2.5}]
}`

	segs, err := LoadTranscript(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, "0", segs[0].ID)
	assert.Equal(t, "Hello world", segs[0].Text)
	assert.Equal(t, "SPEAKER_00", segs[0].Speaker)
	require.NotNil(t, segs[0].Confidence)
	assert.Equal(t, 0.93, *segs[0].Confidence)
	assert.Equal(t, "seg-2", segs[1].ID)

	_, err = LoadTranscript(strings.NewReader("not json"))
	assert.Error(t, err)
}
