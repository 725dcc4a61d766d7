package transcoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func landscapePreset() *models.ExportPreset {
	return &models.ExportPreset{
		ID:       "landscape",
		Platform: "Test",
		Video:    &models.VideoSpec{Codec: "h264", Width: 1920, Height: 1080, Bitrate: 8000000, FPS: 30},
		Audio:    &models.AudioSpec{Codec: "aac", Bitrate: 192000},
	}
}

func sourceInfo() *models.MediaInfo {
	return &models.MediaInfo{Path: "in.mp4", Duration: 60, Width: 1920, Height: 1080, HasVideo: true, HasAudio: true}
}

func clip(id string, start, duration, srcStart, srcEnd float64) models.Clip {
	return models.Clip{ID: id, TimelineStart: start, Duration: duration, SourceStart: srcStart, SourceEnd: srcEnd, Volume: 1, Opacity: 1}
}

func threeClipTimeline() *models.Timeline {
	return &models.Timeline{
		ID: "tl-1",
		Tracks: []models.Track{{
			ID: "v1", Kind: models.TrackKindVideo, Enabled: true, Volume: 1, Opacity: 1,
			Clips: []models.Clip{
				clip("c1", 0, 5, 0, 5),
				clip("c2", 5, 5, 10, 15),
				clip("c3", 10, 2, 2, 4),
			},
		}},
	}
}

func TestSynthesizeThreeClips(t *testing.T) {
	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{
		Source:     "in.mp4",
		SourceInfo: sourceInfo(),
		Timeline:   threeClipTimeline(),
		Preset:     landscapePreset(),
		Output:     "out.mp4",
	})
	require.NoError(t, err)

	assert.InDelta(t, 12.0, inv.Duration, 1e-9)
	assert.Len(t, inv.Inputs, 1)
	assert.Equal(t, 3, inv.Graph().Count("trim"))
	assert.Equal(t, 3, inv.Graph().Count("atrim"))
	assert.Equal(t, 2, inv.Graph().Count("concat"))

	graph := inv.FilterGraph
	assert.Contains(t, graph, "[0:v:0]trim=start=0.000:end=5.000,setpts=PTS-STARTPTS[v0]")
	assert.Contains(t, graph, "[0:v:0]trim=start=10.000:end=15.000,setpts=PTS-STARTPTS[v1]")
	assert.Contains(t, graph, "[0:v:0]trim=start=2.000:end=4.000,setpts=PTS-STARTPTS[v2]")
	assert.Contains(t, graph, "[v0][v1][v2]concat=n=3:v=1:a=0[vcat0]")
	assert.Contains(t, graph, "[a0][a1][a2]concat=n=3:v=0:a=1[acat0]")
	assert.Contains(t, graph, "[vcat0]scale=1920:1080,setsar=1,fps=30[vpost0]")
	assert.NotContains(t, graph, "crop=")

	assert.Equal(t, []string{
		"-hide_banner", "-nostats", "-progress", "pipe:1", "-n",
		"-i", "in.mp4",
		"-filter_complex", graph,
		"-map", "[vpost0]", "-map", "[acat0]",
		"-c:v", "libx264", "-preset", "medium", "-b:v", "8000k", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
		"out.mp4",
	}, inv.Args(1))
}

func TestSynthesizeConcatOrderFollowsTimeline(t *testing.T) {
	tl := threeClipTimeline()
	clips := tl.Tracks[0].Clips
	tl.Tracks[0].Clips = []models.Clip{clips[2], clips[0], clips[1]}

	inv, err := NewSynthesizer("").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Timeline: tl, Preset: landscapePreset(), Output: "out.mp4"})
	require.NoError(t, err)

	first := strings.Index(inv.FilterGraph, "trim=start=0.000:end=5.000")
	last := strings.Index(inv.FilterGraph, "trim=start=2.000:end=4.000")
	assert.Less(t, first, last)
	assert.Equal(t, "ffmpeg", inv.Binary)
}

func TestSynthesizeRangeTrimsClips(t *testing.T) {
	start, end := 3.0, 11.0
	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{
		Source: "in.mp4", SourceInfo: sourceInfo(), Timeline: threeClipTimeline(),
		RangeStart: &start, RangeEnd: &end,
		Preset: landscapePreset(), Output: "out.mp4",
	})
	require.NoError(t, err)

	assert.InDelta(t, 8.0, inv.Duration, 1e-9)
	assert.Contains(t, inv.FilterGraph, "trim=start=3.000:end=5.000")
	assert.Contains(t, inv.FilterGraph, "trim=start=10.000:end=15.000")
	assert.Contains(t, inv.FilterGraph, "trim=start=2.000:end=3.000")
}

func TestSynthesizeSkipsDisabledAndSelectsTracks(t *testing.T) {
	tl := threeClipTimeline()
	tl.Tracks = append(tl.Tracks,
		models.Track{ID: "a1", Kind: models.TrackKindAudio, Enabled: true, Volume: 0.5, Clips: []models.Clip{
			{ID: "m1", MediaRef: "music.mp3", Duration: 12, SourceEnd: 12, Volume: 0.8},
		}},
		models.Track{ID: "v2", Kind: models.TrackKindVideo, Enabled: false, Volume: 1, Clips: []models.Clip{
			clip("x", 0, 3, 0, 3),
		}},
	)

	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Timeline: tl, Preset: landscapePreset(), Output: "out.mp4"})
	require.NoError(t, err)
	require.Len(t, inv.Inputs, 2)
	assert.Equal(t, "music.mp3", inv.Inputs[1].Path)
	assert.Equal(t, 3, inv.Graph().Count("trim"))
	assert.Equal(t, 1, inv.Graph().Count("atrim"))
	assert.Contains(t, inv.FilterGraph, "[1:a:0]atrim=start=0.000:end=12.000,asetpts=PTS-STARTPTS,volume=0.4[a0]")
	assert.Contains(t, inv.Maps, "[a0]")

	_, err = NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", Timeline: tl, TrackIDs: []string{"nope"}, Preset: landscapePreset(), Output: "out.mp4"})
	assert.True(t, exporterr.IsValidation(err))
}

func TestSynthesizeTransitionsAndSpeed(t *testing.T) {
	tl := threeClipTimeline()
	tl.Tracks[0].Clips[0].Effects = []models.Effect{{ID: "t", Kind: models.EffectKindTransition, Enabled: true, Params: map[string]string{"duration": "1"}}}
	tl.Tracks[0].Clips[2] = clip("c3", 10, 2, 0, 4)

	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Timeline: tl, Preset: landscapePreset(), Output: "out.mp4"})
	require.NoError(t, err)

	graph := inv.FilterGraph
	assert.Contains(t, graph, "[0:v:0]trim=start=0.000:end=5.000,setpts=PTS-STARTPTS,fade=t=out:st=4.500:d=0.500[v0]")
	assert.Contains(t, graph, "[0:v:0]trim=start=10.000:end=15.000,setpts=PTS-STARTPTS,fade=t=in:st=0.000:d=0.500[v1]")
	assert.Contains(t, graph, "afade=t=out:st=4.500:d=0.500")
	assert.Contains(t, graph, "trim=start=0.000:end=4.000,setpts=(PTS-STARTPTS)*0.5[v2]")
	assert.Contains(t, graph, "atrim=start=0.000:end=4.000,asetpts=PTS-STARTPTS,atempo=2[a2]")
}

func TestSynthesizeEffects(t *testing.T) {
	tl := threeClipTimeline()
	s, e := 1.0, 2.0
	tl.Tracks[0].Clips[1].Effects = []models.Effect{
		{ID: "f", Kind: models.EffectKindFade, Enabled: true, Params: map[string]string{"direction": "in", "duration": "0.25"}},
		{ID: "g", Kind: models.EffectKindFilter, Enabled: true, Params: map[string]string{"name": "hflip"}, Start: &s, End: &e},
		{ID: "off", Kind: models.EffectKindFilter, Enabled: false, Params: map[string]string{"name": "vflip"}},
	}

	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Timeline: tl, Preset: landscapePreset(), Output: "out.mp4"})
	require.NoError(t, err)
	assert.Contains(t, inv.FilterGraph, "fade=t=in:st=0.000:d=0.250,hflip=enable='between(t,1.000,2.000)'[v1]")
	assert.NotContains(t, inv.FilterGraph, "vflip")

	tl.Tracks[0].Clips[1].Effects = []models.Effect{{ID: "bad", Kind: models.EffectKindFilter, Enabled: true, Params: map[string]string{"name": "movie=/etc/passwd"}}}
	_, err = NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Timeline: tl, Preset: landscapePreset(), Output: "out.mp4"})
	assert.True(t, exporterr.IsValidation(err))
}

func TestSynthesizeAudioOnly(t *testing.T) {
	p := &models.ExportPreset{
		ID:           "podcast",
		Audio:        &models.AudioSpec{Codec: "aac", Bitrate: 128000, SampleRate: 44100, Channels: 2, Format: "m4a"},
		Processing:   &models.ProcessingFlags{Normalize: true, NoiseReduction: true},
		Optimization: models.Optimization{FastStart: true, TwoPass: true},
	}
	info := sourceInfo()
	info.Duration = 30

	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: info, Preset: p, Output: "out.m4a"})
	require.NoError(t, err)

	assert.True(t, inv.AudioOnly)
	assert.False(t, inv.TwoPass, "two-pass only applies to video")
	assert.InDelta(t, 30.0, inv.Duration, 1e-9)
	assert.Equal(t, "[0:a:0]loudnorm=I=-16.0:TP=-1.5:LRA=11.0,afftdn=nf=-25[apost0]", inv.FilterGraph)
	assert.Equal(t, []string{"[apost0]"}, inv.Maps)

	args := inv.Args(1)
	assert.Contains(t, args, "-vn")
	assert.NotContains(t, args, "-c:v")
	assert.Equal(t, []string{"-vn", "-c:a", "aac", "-b:a", "128k", "-ar", "44100", "-ac", "2", "-movflags", "+faststart", "out.m4a"},
		args[len(args)-12:])
}

func TestSynthesizeTwoPass(t *testing.T) {
	p := landscapePreset()
	p.Optimization.TwoPass = true

	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Preset: p, Output: "/tmp/out/x.mp4"})
	require.NoError(t, err)
	require.Equal(t, 2, inv.Passes())
	assert.Equal(t, "/tmp/out/x-passlog", inv.PassLog)

	first := inv.Args(1)
	assert.Contains(t, first, "-y")
	assert.Equal(t, []string{"-pass", "1", "-passlogfile", "/tmp/out/x-passlog", "-an", "-f", "null", "-"}, first[len(first)-8:])
	assert.NotContains(t, first, "-c:a")

	second := inv.Args(2)
	assert.Contains(t, second, "-n")
	assert.Equal(t, "/tmp/out/x.mp4", second[len(second)-1])
	assert.Equal(t, []string{"-pass", "2", "-passlogfile", "/tmp/out/x-passlog"}, second[len(second)-5:len(second)-1])

	assert.Equal(t, 1, strings.Count(inv.String(), " && "))
}

func TestSynthesizeCrop(t *testing.T) {
	vertical := &models.ExportPreset{
		ID:    "vertical",
		Video: &models.VideoSpec{Codec: "h264", Width: 1080, Height: 1920, AspectRatio: "9:16", Bitrate: 6000000},
		Audio: &models.AudioSpec{Codec: "aac", Bitrate: 128000},
	}

	t.Run("center", func(t *testing.T) {
		inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Preset: vertical, Output: "out.mp4"})
		require.NoError(t, err)
		assert.Contains(t, inv.FilterGraph,
			"[0:v:0]crop=w='trunc(min(iw,ih*0.5625)/2)*2':h='trunc(min(ih,iw/0.5625)/2)*2',scale=1080:1920,setsar=1[vpost0]")
	})

	t.Run("keyframes", func(t *testing.T) {
		kf := []models.CropKeyframe{
			{Time: 0, Region: models.CropRegion{X: 0, Width: 608, Height: 1080}},
			{Time: 2, Region: models.CropRegion{X: 100, Width: 608, Height: 1080}},
		}
		inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{Source: "in.mp4", SourceInfo: sourceInfo(), Preset: vertical, Keyframes: kf, Output: "out.mp4"})
		require.NoError(t, err)
		assert.Contains(t, inv.FilterGraph, "crop=w=608:h=1080:x='if(lt(t,2.000),0+(100)*(t-0.000)/2.000,100)':y=0,scale=1080:1920")
	})
}

func TestSynthesizePostProcessingOrder(t *testing.T) {
	p := landscapePreset()
	p.Processing = &models.ProcessingFlags{ColorCorrection: &models.ColorCorrection{Brightness: 0.05}}

	inv, err := NewSynthesizer("ffmpeg").Synthesize(Request{
		Source: "in.mp4", SourceInfo: sourceInfo(), Preset: p, Output: "out.mp4",
		Captions:  []subtitle.Overlay{{Text: "hi", Start: 1, End: 2}},
		Watermark: &models.Watermark{Text: "@brand"},
	})
	require.NoError(t, err)

	g := inv.FilterGraph
	eq := strings.Index(g, "eq=brightness=0.05:contrast=1:saturation=1:gamma=1")
	caption := strings.Index(g, "drawtext=text=hi")
	mark := strings.Index(g, "drawtext=text=@brand")
	require.True(t, eq >= 0 && caption >= 0 && mark >= 0, g)
	assert.Less(t, eq, caption)
	assert.Less(t, caption, mark)
	assert.Equal(t, []string{"[wm0]", "0:a:0"}, inv.Maps)
}

func TestSynthesizeValidation(t *testing.T) {
	s := NewSynthesizer("ffmpeg")

	_, err := s.Synthesize(Request{Source: "in.mp4", Output: "out.mp4"})
	assert.True(t, exporterr.IsValidation(err), "missing preset")

	_, err = s.Synthesize(Request{Source: "in.mp4", Preset: landscapePreset()})
	assert.True(t, exporterr.IsValidation(err), "missing output")

	_, err = s.Synthesize(Request{Timeline: &models.Timeline{ID: "empty"}, Preset: landscapePreset(), Output: "out.mp4"})
	assert.True(t, exporterr.IsValidation(err), "nothing to export")

	_, err = s.Synthesize(Request{Preset: landscapePreset(), Output: "out.mp4"})
	assert.True(t, exporterr.IsValidation(err), "no source or timeline")

	_, err = s.Synthesize(Request{Source: "in.mp4", Preset: landscapePreset(), Output: "out.mp4", Watermark: &models.Watermark{}})
	assert.True(t, exporterr.IsValidation(err), "empty watermark")
}

func TestMapKeyframes(t *testing.T) {
	src := []models.CropKeyframe{
		{Time: 10, Region: models.CropRegion{X: 100, Width: 608, Height: 1080}},
		{Time: 0, Region: models.CropRegion{X: 0, Width: 608, Height: 1080}},
	}
	segs := []segment{{trimmed: true, outStart: 5, clip: models.Clip{SourceStart: 2, SourceEnd: 4, Duration: 2}}}

	got := mapKeyframes(src, segs)
	require.Len(t, got, 2)
	assert.Equal(t, 5.0, got[0].Time)
	assert.Equal(t, 20, got[0].Region.X)
	assert.Equal(t, 7.0, got[1].Time)
	assert.Equal(t, 40, got[1].Region.X)

	untrimmed := mapKeyframes(src, []segment{{}})
	assert.Equal(t, 0.0, untrimmed[0].Time, "sorted")
}

func TestCropExprConstantAxis(t *testing.T) {
	kf := []models.CropKeyframe{
		{Time: 0, Region: models.CropRegion{X: 10, Y: 0, Width: 100, Height: 100}},
		{Time: 1, Region: models.CropRegion{X: 10, Y: 0, Width: 100, Height: 100}},
	}
	assert.Equal(t, "crop=w=100:h=100:x=10:y=0", cropFilter(kf))
}

func TestInvocationString(t *testing.T) {
	inv := &Invocation{
		Binary:      "ffmpeg",
		Inputs:      []Input{{Path: "my clip.mp4"}},
		FilterGraph: "[0:v:0]scale=1280:720[v]",
		Maps:        []string{"[v]"},
		Output:      "out.mp4",
		Overwrite:   true,
	}
	assert.Equal(t,
		"ffmpeg -hide_banner -nostats -progress pipe:1 -y -i 'my clip.mp4' -filter_complex '[0:v:0]scale=1280:720[v]' -map '[v]' out.mp4",
		inv.String())
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "-c:v", shellQuote("-c:v"))
	assert.Equal(t, "'a b'", shellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestOutputTranscriptFollowsClips(t *testing.T) {
	s := NewSynthesizer("")
	transcript := []models.SubtitleSegment{
		{Start: 3, End: 4.5, Text: "reused"},
		{Start: 12, End: 13, Text: "middle"},
		{Start: 20, End: 21, Text: "cut"},
	}
	req := Request{Source: "in.mp4", SourceInfo: sourceInfo(), Timeline: threeClipTimeline(), Preset: landscapePreset(), Output: "out.mp4"}

	got := s.OutputTranscript(req, transcript)
	require.Len(t, got, 3)
	assert.Equal(t, "reused", got[0].Text)
	assert.InDelta(t, 3.0, got[0].Start, 1e-9)
	assert.InDelta(t, 4.5, got[0].End, 1e-9)
	assert.Equal(t, "middle", got[1].Text)
	assert.InDelta(t, 7.0, got[1].Start, 1e-9)
	assert.InDelta(t, 8.0, got[1].End, 1e-9)
	assert.Equal(t, "reused", got[2].Text, "the clip replaying 2-4 shows the caption again, cut to the clip")
	assert.InDelta(t, 11.0, got[2].Start, 1e-9)
	assert.InDelta(t, 12.0, got[2].End, 1e-9)

	full := Request{Source: "in.mp4", SourceInfo: sourceInfo(), Preset: landscapePreset(), Output: "out.mp4"}
	assert.Equal(t, transcript, s.OutputTranscript(full, transcript))

	other := threeClipTimeline()
	other.Tracks[0].Clips[1].MediaRef = "broll.mp4"
	req.Timeline = other
	for _, seg := range s.OutputTranscript(req, transcript) {
		assert.NotEqual(t, "middle", seg.Text, "clips from other media carry no source captions")
	}
}
