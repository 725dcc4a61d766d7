package transcoder

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Request is everything needed to build one export invocation
type Request struct {
	Source     string            // media used for a full-source pass and clips without a media ref
	SourceInfo *models.MediaInfo // probed source, optional
	Timeline   *models.Timeline  // nil exports the whole source
	TrackIDs   []string          // empty selects every enabled track
	RangeStart *float64          // timeline (or source) range to export
	RangeEnd   *float64
	Preset     *models.ExportPreset
	Keyframes  []models.CropKeyframe // source-time crop track from auto-crop
	Captions   []subtitle.Overlay    // burned captions in output time, see OutputTranscript
	Watermark  *models.Watermark
	FontFile   string
	Output     string
	Overwrite  bool
	PassLog    string // two-pass statistics prefix, defaults next to the output
}

// segment is one clip placed in the concatenated output
type segment struct {
	input    int
	clip     models.Clip
	volume   float64
	outStart float64
	trimmed  bool
	fadeIn   float64 // transition dip from the previous clip
	fadeOut  float64 // transition dip into the next clip
}

// Synthesizer turns a Request into an ffmpeg invocation
type Synthesizer struct {
	ffmpegPath string
	loudness   LoudnessTarget
}

// NewSynthesizer creates a synthesizer for the given ffmpeg binary
func NewSynthesizer(ffmpegPath string) *Synthesizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Synthesizer{ffmpegPath: ffmpegPath, loudness: DefaultLoudness()}
}

type build struct {
	req    Request
	graph  *FilterGraph
	inputs []Input
	index  map[string]int
}

// Synthesize builds the filter graph and arguments for req. It never runs
// anything, so it is safe to call for dry runs.
func (s *Synthesizer) Synthesize(req Request) (*Invocation, error) {
	if req.Preset == nil {
		return nil, exporterr.Validationf("no preset to synthesize")
	}
	if req.Output == "" {
		return nil, exporterr.Validationf("output path is required")
	}
	if req.Watermark != nil {
		if err := validateWatermark(req.Watermark); err != nil {
			return nil, err
		}
	}

	b := &build{req: req, graph: NewFilterGraph(), index: make(map[string]int)}

	video, audio, err := b.segments()
	if err != nil {
		return nil, err
	}
	audioOnly := req.Preset.AudioOnly() || len(video) == 0
	if audioOnly && len(audio) == 0 {
		return nil, exporterr.Validationf("nothing to export: no clips in the selected tracks and range")
	}

	inv := &Invocation{
		Binary:    s.ffmpegPath,
		Output:    req.Output,
		Overwrite: req.Overwrite,
		AudioOnly: audioOnly,
	}

	if !audioOnly {
		label, err := b.videoChain(video)
		if err != nil {
			return nil, err
		}
		inv.Maps = append(inv.Maps, mapRef(label))
		inv.VideoOptions = videoOptions(req.Preset.Video)
		inv.Duration = totalDuration(video)
	} else {
		inv.Duration = totalDuration(audio)
	}

	if len(audio) > 0 {
		label, err := b.audioChain(audio, s.loudness)
		if err != nil {
			return nil, err
		}
		ref := mapRef(label)
		if !strings.HasPrefix(ref, "[") && (req.SourceInfo == nil) {
			ref += "?"
		}
		inv.Maps = append(inv.Maps, ref)
		a := req.Preset.Audio
		if a == nil {
			a = &models.AudioSpec{Codec: "aac", Bitrate: 128000}
		}
		inv.AudioOptions = audioSpecOptions(a.Codec, a.Bitrate, a.SampleRate, a.Channels)
	} else {
		inv.AudioOptions = []string{"-an"}
	}
	if audioOnly {
		inv.VideoOptions = []string{"-vn"}
	}

	if req.Preset.Optimization.FastStart && fastStartContainer(req.Preset.Container()) {
		inv.OutputOptions = append(inv.OutputOptions, "-movflags", "+faststart")
	}
	if req.Preset.Optimization.TwoPass && !audioOnly {
		inv.TwoPass = true
		inv.PassLog = req.PassLog
		if inv.PassLog == "" {
			inv.PassLog = strings.TrimSuffix(req.Output, extOf(req.Output)) + "-passlog"
		}
	}

	inv.Inputs = b.inputs
	inv.FilterGraph = b.graph.String()
	inv.graph = b.graph
	return inv, nil
}

// OutputTranscript moves a transcript timed against req.Source onto the
// output timeline of req. Without a source the transcript is taken to be in
// output time already.
func (s *Synthesizer) OutputTranscript(req Request, transcript []models.SubtitleSegment) []models.SubtitleSegment {
	if req.Source == "" || len(transcript) == 0 {
		return transcript
	}
	b := &build{req: req, graph: NewFilterGraph(), index: make(map[string]int)}
	source := b.input(req.Source)
	video, audio, err := b.segments()
	if err != nil {
		return transcript
	}
	segs := video
	if req.Preset != nil && req.Preset.AudioOnly() || len(segs) == 0 {
		segs = audio
	}
	return mapTranscript(transcript, segs, source)
}

// input registers a media path and returns its input index
func (b *build) input(path string) int {
	if i, ok := b.index[path]; ok {
		return i
	}
	b.inputs = append(b.inputs, Input{Path: path})
	b.index[path] = len(b.inputs) - 1
	return len(b.inputs) - 1
}

func (b *build) mediaPath(c models.Clip) (string, error) {
	if c.MediaRef != "" {
		return c.MediaRef, nil
	}
	if b.req.Source != "" {
		return b.req.Source, nil
	}
	return "", exporterr.Validationf("clip %s has no media reference and the job has no source", c.ID)
}

func (b *build) sourceHasAudio() bool {
	return b.req.SourceInfo == nil || b.req.SourceInfo.HasAudio
}

// segments collects video and audio segments in output order
func (b *build) segments() ([]segment, []segment, error) {
	if b.req.Timeline == nil {
		return b.fullSource()
	}

	tracks, err := b.selectTracks()
	if err != nil {
		return nil, nil, err
	}

	var video, audio []segment
	for _, track := range tracks {
		if track.Kind != models.TrackKindVideo && track.Kind != models.TrackKindAudio {
			continue
		}
		for _, c := range track.Clips {
			clip, ok := b.inRange(c)
			if !ok {
				continue
			}
			path, err := b.mediaPath(clip)
			if err != nil {
				return nil, nil, err
			}
			seg := segment{input: b.input(path), clip: clip, volume: clip.Volume * track.Volume, trimmed: true}
			if track.Kind == models.TrackKindVideo {
				video = append(video, seg)
			} else {
				audio = append(audio, seg)
			}
		}
	}

	order(video)
	order(audio)
	if len(audio) == 0 && b.sourceHasAudio() {
		audio = append(audio, video...)
	}
	return video, audio, nil
}

func (b *build) fullSource() ([]segment, []segment, error) {
	if b.req.Source == "" {
		return nil, nil, exporterr.Validationf("export needs a source or a timeline")
	}
	seg := segment{input: b.input(b.req.Source), volume: 1}

	duration := 0.0
	if b.req.SourceInfo != nil {
		duration = b.req.SourceInfo.Duration
	}
	if b.req.RangeStart != nil || b.req.RangeEnd != nil {
		start, end := 0.0, duration
		if b.req.RangeStart != nil {
			start = *b.req.RangeStart
		}
		if b.req.RangeEnd != nil {
			end = *b.req.RangeEnd
		}
		if end <= start {
			return nil, nil, exporterr.Validationf("invalid source range [%.3f, %.3f]", start, end)
		}
		seg.trimmed = true
		seg.clip = models.Clip{ID: "source", SourceStart: start, SourceEnd: end, Duration: end - start, Volume: 1}
	} else {
		seg.clip = models.Clip{ID: "source", Duration: duration, SourceEnd: duration, Volume: 1}
	}

	video := []segment{seg}
	if b.req.SourceInfo != nil && !b.req.SourceInfo.HasVideo {
		video = nil
	}
	var audio []segment
	if b.sourceHasAudio() {
		audio = []segment{seg}
	}
	return video, audio, nil
}

func (b *build) selectTracks() ([]models.Track, error) {
	tl := b.req.Timeline
	if len(b.req.TrackIDs) == 0 {
		var out []models.Track
		for _, t := range tl.Tracks {
			if t.Enabled {
				out = append(out, t)
			}
		}
		return out, nil
	}

	out := make([]models.Track, 0, len(b.req.TrackIDs))
	for _, id := range b.req.TrackIDs {
		t, ok := tl.Track(id)
		if !ok {
			return nil, exporterr.Validationf("timeline %s has no track %s", tl.ID, id)
		}
		if t.Enabled {
			out = append(out, *t)
		}
	}
	return out, nil
}

// inRange clips c to the requested timeline range, recomputing source points
// proportionally and shifting ranged effects. ok is false if nothing remains.
func (b *build) inRange(c models.Clip) (models.Clip, bool) {
	c = c.Clone()
	if c.Duration <= 0 || c.SourceEnd <= c.SourceStart {
		return c, false
	}
	from, to := c.TimelineStart, c.TimelineEnd()
	if b.req.RangeStart != nil {
		from = math.Max(from, *b.req.RangeStart)
	}
	if b.req.RangeEnd != nil {
		to = math.Min(to, *b.req.RangeEnd)
	}
	if to-from < 1e-6 {
		return c, false
	}
	if from == c.TimelineStart && to == c.TimelineEnd() {
		return c, true
	}

	ratio := c.SourceDuration() / c.Duration
	offset := from - c.TimelineStart
	c.SourceStart, c.SourceEnd = c.SourceStart+offset*ratio, c.SourceStart+(to-c.TimelineStart)*ratio
	c.TimelineStart, c.Duration = from, to-from

	effects := c.Effects[:0]
	for _, e := range c.Effects {
		if e.Start != nil && e.End != nil {
			s, en := math.Max(*e.Start-offset, 0), math.Min(*e.End-offset, c.Duration)
			if en <= s {
				continue
			}
			e.Start, e.End = &s, &en
		}
		effects = append(effects, e)
	}
	c.Effects = effects
	return c, true
}

// order sorts segments by timeline position, assigns output offsets and
// spreads transition dips across neighbouring clips
func order(segs []segment) {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].clip.TimelineStart < segs[j].clip.TimelineStart })
	t := 0.0
	for i := range segs {
		segs[i].outStart = t
		t += segs[i].clip.Duration
		if d := transitionDuration(segs[i].clip); d > 0 && i+1 < len(segs) {
			half := math.Min(d/2, math.Min(segs[i].clip.Duration, segs[i+1].clip.Duration)/2)
			segs[i].fadeOut = half
			segs[i+1].fadeIn = half
		}
	}
}

func totalDuration(segs []segment) float64 {
	var d float64
	for _, s := range segs {
		d += s.clip.Duration
	}
	return d
}

// videoChain emits steps 1-3 and 5-7 for the video stream and returns the final label
func (b *build) videoChain(segs []segment) (string, error) {
	labels := make([]string, 0, len(segs))
	for _, s := range segs {
		src := fmt.Sprintf("%d:v:0", s.input)
		fc := NewFilterChain()
		if s.trimmed {
			fc.Addf("trim=start=%s:end=%s", ts(s.clip.SourceStart), ts(s.clip.SourceEnd))
			fc.Add(setpts(s.clip))
		}
		fades, named, err := effectFilters(s.clip)
		if err != nil {
			return "", exporterr.Validation("synthesize", err)
		}
		for _, f := range b.transitionFades(s) {
			fc.Add(f.video())
		}
		for _, f := range fades {
			fc.Add(f.video())
		}
		for _, f := range named {
			fc.Add(f)
		}
		labels = append(labels, b.graph.Pipe(src, "v", fc))
	}

	current := labels[0]
	if len(labels) > 1 {
		current = b.graph.Label("vcat")
		b.graph.Add(labels, fmt.Sprintf("concat=n=%d:v=1:a=0", len(labels)), current)
	}

	post := NewFilterChain()
	b.frame(post, segs)
	if p := b.req.Preset.Processing; p != nil {
		post.Add(eqFilter(p.ColorCorrection))
	}
	for _, f := range captionFilters(b.req.Captions, b.req.FontFile) {
		post.Add(f)
	}
	current = b.graph.Pipe(current, "vpost", post)

	if b.req.Watermark != nil {
		image := -1
		if b.req.Watermark.ImagePath != "" {
			image = b.input(b.req.Watermark.ImagePath)
		}
		current = applyWatermark(b.graph, current, *b.req.Watermark, image, b.req.FontFile)
	}
	return current, nil
}

// frame adds cropping, scaling and frame rate normalisation
func (b *build) frame(fc *FilterChain, segs []segment) {
	spec := b.req.Preset.Video
	switch {
	case len(b.req.Keyframes) > 0:
		fc.Add(cropFilter(mapKeyframes(b.req.Keyframes, segs)))
	case b.needsCenterCrop():
		fc.Add(centerCropFilter(b.targetAspect()))
	}
	fc.Add(scaleFilter(spec.Width, spec.Height))
	fc.Add("setsar=1")
	if spec.FPS > 0 {
		fc.Add("fps=" + num(spec.FPS))
	}
}

func (b *build) targetAspect() float64 {
	spec := b.req.Preset.Video
	if spec.AspectRatio != "" {
		if a, err := models.ParseAspectRatio(spec.AspectRatio); err == nil {
			return a
		}
	}
	if spec.Width > 0 && spec.Height > 0 {
		return float64(spec.Width) / float64(spec.Height)
	}
	return 0
}

func (b *build) needsCenterCrop() bool {
	target := b.targetAspect()
	if target <= 0 {
		return false
	}
	info := b.req.SourceInfo
	if info == nil || info.Width <= 0 || info.Height <= 0 {
		return b.req.Preset.Video.AspectRatio != ""
	}
	return math.Abs(float64(info.Width)/float64(info.Height)-target) > 0.01
}

func (b *build) transitionFades(s segment) []fade {
	var out []fade
	if s.fadeIn > 0 {
		out = append(out, fade{in: true, start: 0, duration: s.fadeIn})
	}
	if s.fadeOut > 0 {
		out = append(out, fade{in: false, start: s.clip.Duration - s.fadeOut, duration: s.fadeOut})
	}
	return out
}

// audioChain emits the per-segment audio trims, concat and step 4
func (b *build) audioChain(segs []segment, loudness LoudnessTarget) (string, error) {
	labels := make([]string, 0, len(segs))
	for _, s := range segs {
		src := fmt.Sprintf("%d:a:0", s.input)
		fc := NewFilterChain()
		if s.trimmed {
			fc.Addf("atrim=start=%s:end=%s", ts(s.clip.SourceStart), ts(s.clip.SourceEnd))
			fc.Add("asetpts=PTS-STARTPTS")
			for _, f := range atempoChain(s.clip.SourceDuration() / s.clip.Duration) {
				fc.Add(f)
			}
		}
		fc.Add(volumeFilter(s.volume))
		fades, _, err := effectFilters(s.clip)
		if err != nil {
			return "", exporterr.Validation("synthesize", err)
		}
		for _, f := range b.transitionFades(s) {
			fc.Add(f.audio())
		}
		for _, f := range fades {
			fc.Add(f.audio())
		}
		labels = append(labels, b.graph.Pipe(src, "a", fc))
	}

	current := labels[0]
	if len(labels) > 1 {
		current = b.graph.Label("acat")
		b.graph.Add(labels, fmt.Sprintf("concat=n=%d:v=0:a=1", len(labels)), current)
	}

	post := NewFilterChain()
	if p := b.req.Preset.Processing; p != nil {
		if p.Normalize {
			post.Add(loudnormFilter(loudness))
		}
		if p.NoiseReduction {
			post.Add(noiseReductionFilter())
		}
	}
	return b.graph.Pipe(current, "apost", post), nil
}

// setpts resets timestamps and applies any speed change implied by the clip
// duration differing from its source range
func setpts(c models.Clip) string {
	factor := c.Duration / c.SourceDuration()
	if math.Abs(factor-1) < 1e-6 {
		return "setpts=PTS-STARTPTS"
	}
	return fmt.Sprintf("setpts=(PTS-STARTPTS)*%s", num(math.Round(factor*1e6)/1e6))
}

func videoOptions(v *models.VideoSpec) []string {
	codec := v.Codec
	if codec == "" {
		codec = "h264"
	}
	enc := encoderFor(codec)
	args := []string{"-c:v", enc}
	if enc == "libx264" || enc == "libx265" {
		args = append(args, "-preset", "medium")
	}
	if v.Bitrate > 0 {
		args = append(args, "-b:v", kbps(v.Bitrate))
	}
	if v.Profile != "" {
		args = append(args, "-profile:v", v.Profile)
	}
	pix := v.PixelFormat
	if pix == "" {
		pix = "yuv420p"
	}
	return append(args, "-pix_fmt", pix)
}

func fastStartContainer(container string) bool {
	switch strings.ToLower(container) {
	case "mp4", "mov", "m4a", "m4v":
		return true
	}
	return false
}

// mapRef turns a graph label into a -map argument; input stream specifiers pass through
func mapRef(label string) string {
	if strings.Contains(label, ":") {
		return label
	}
	return "[" + label + "]"
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		return path[i:]
	}
	return ""
}
