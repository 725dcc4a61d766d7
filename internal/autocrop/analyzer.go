package autocrop

import (
	"context"
	"errors"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Config controls sampling, detection filtering and smoothing
type Config struct {
	SampleInterval  float64 // seconds between sampled frames
	BucketSize      float64 // seconds per keyframe bucket
	MinConfidence   float64
	SmoothingFactor float64 // 0 < f <= 1, 1 disables smoothing
	MaxMovement     float64 // pixels per keyframe step, <= 0 disables the clamp
	Concurrency     int     // parallel detector calls
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		SampleInterval:  1.0,
		BucketSize:      1.0,
		MinConfidence:   0.5,
		SmoothingFactor: 0.3,
		MaxMovement:     50,
		Concurrency:     4,
	}
}

// Analyzer turns subject detections into a smoothed crop keyframe track
type Analyzer struct {
	cfg      Config
	sampler  FrameSampler
	detector Detector
	logger   *logging.Logger
}

// NewAnalyzer creates an analyzer. A nil detector falls back to NopDetector.
func NewAnalyzer(cfg Config, sampler FrameSampler, detector Detector, logger *logging.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = cfg.SampleInterval
	}
	if cfg.SmoothingFactor <= 0 || cfg.SmoothingFactor > 1 {
		cfg.SmoothingFactor = def.SmoothingFactor
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if detector == nil {
		detector = NopDetector{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Analyzer{
		cfg:      cfg,
		sampler:  sampler,
		detector: detector,
		logger:   logger.WithComponent("autocrop"),
	}
}

// Analyze samples the source, detects subjects and returns one smoothed
// keyframe per time bucket. When nothing is detected the result is a single
// static center crop keyframe at time 0.
func (a *Analyzer) Analyze(ctx context.Context, source models.MediaInfo, aspect float64) ([]models.CropKeyframe, error) {
	w, h, err := CropWindow(source.Width, source.Height, aspect)
	if err != nil {
		return nil, err
	}
	center := []models.CropKeyframe{{
		Time:   0,
		Region: Centered(source.Width, source.Height, w, h, float64(source.Width)/2, float64(source.Height)/2),
	}}
	if a.sampler == nil || (w == source.Width && h == source.Height) {
		return center, nil
	}

	frames, err := a.sampler.SampleFrames(ctx, source.Path, a.cfg.SampleInterval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, exporterr.Cancelled("sample frames", err)
		}
		return nil, exporterr.Transient("sample frames", err)
	}

	detections, err := a.detectAll(ctx, frames, source)
	if err != nil {
		return nil, err
	}

	keyframes := a.bucketize(frames, detections, source, w, h)
	if len(keyframes) == 0 {
		a.logger.WithField("source", source.Path).Debug("No subjects detected, using center crop")
		return center, nil
	}
	return Smooth(keyframes, a.cfg.SmoothingFactor, a.cfg.MaxMovement), nil
}

// detectAll runs the detector on every frame with bounded concurrency. A
// failing frame is logged and treated as empty so one bad frame does not fail
// the export. Detections are scaled to source coordinates and filtered by
// confidence.
func (a *Analyzer) detectAll(ctx context.Context, frames []Frame, source models.MediaInfo) ([][]Detection, error) {
	results := make([][]Detection, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i := range frames {
		i := i
		g.Go(func() error {
			dets, err := a.detector.Detect(gctx, frames[i])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.WithField("time", frames[i].Time).WarnWithErr("Detection failed for frame", err)
				return nil
			}
			results[i] = a.filter(dets, frames[i], source)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, exporterr.Cancelled("detect subjects", err)
	}
	return results, nil
}

func (a *Analyzer) filter(dets []Detection, frame Frame, source models.MediaInfo) []Detection {
	sx, sy := 1.0, 1.0
	if frame.Width > 0 && frame.Height > 0 {
		sx = float64(source.Width) / float64(frame.Width)
		sy = float64(source.Height) / float64(frame.Height)
	}

	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < a.cfg.MinConfidence || d.Confidence <= 0 || d.Width <= 0 || d.Height <= 0 {
			continue
		}
		d.X *= sx
		d.Width *= sx
		d.Y *= sy
		d.Height *= sy
		out = append(out, d)
	}
	return out
}

type bucket struct {
	sumX, sumY, sumW float64
	count            int
}

// bucketize groups detections into time buckets and centers the window on
// each bucket's confidence-weighted centroid. Buckets without detections hold
// the previous position. Returns nil if no bucket has detections.
func (a *Analyzer) bucketize(frames []Frame, detections [][]Detection, source models.MediaInfo, w, h int) []models.CropKeyframe {
	buckets := make(map[int]*bucket)
	last := -1
	for i, frame := range frames {
		idx := int(math.Floor(frame.Time / a.cfg.BucketSize))
		last = max(last, idx)
		for _, d := range detections[i] {
			b := buckets[idx]
			if b == nil {
				b = &bucket{}
				buckets[idx] = b
			}
			cx := d.X + d.Width/2
			cy := d.Y + d.Height/2
			b.sumX += cx * d.Confidence
			b.sumY += cy * d.Confidence
			b.sumW += d.Confidence
			b.count++
		}
	}
	if len(buckets) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(buckets))
	for idx := range buckets {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	// leading empty buckets start on the first detected position
	cx, cy := centroid(buckets[indexes[0]])
	keyframes := make([]models.CropKeyframe, 0, last+1)
	for idx := 0; idx <= last; idx++ {
		confidence := 0.0
		if b, ok := buckets[idx]; ok {
			cx, cy = centroid(b)
			confidence = math.Min(b.sumW/float64(b.count), 1)
		}
		region := Centered(source.Width, source.Height, w, h, cx, cy)
		region.Confidence = confidence
		keyframes = append(keyframes, models.CropKeyframe{
			Time:   float64(idx) * a.cfg.BucketSize,
			Region: region,
		})
	}
	return keyframes
}

func centroid(b *bucket) (float64, float64) {
	return b.sumX / b.sumW, b.sumY / b.sumW
}
