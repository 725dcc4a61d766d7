package subtitle

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// minSpan keeps a segment non-empty when a media bound squeezes it
const minSpan = 0.001

// Optimizer adjusts caption timing for readability
type Optimizer struct {
	ReadingSpeed   float64 // characters per second
	MinDisplayTime float64 // seconds
	MaxDisplayTime float64 // seconds
	MinGap         float64 // seconds between consecutive captions
}

// DefaultOptimizer returns commonly used broadcast reading settings
func DefaultOptimizer() *Optimizer {
	return &Optimizer{
		ReadingSpeed:   17,
		MinDisplayTime: 1.0,
		MaxDisplayTime: 7.0,
		MinGap:         0.1,
	}
}

// IdealDuration returns how long text should stay on screen given the source span
func (o *Optimizer) IdealDuration(text string, sourceDuration float64) float64 {
	d := sourceDuration
	if o.ReadingSpeed > 0 {
		d = math.Max(d, float64(utf8.RuneCountInString(text))/o.ReadingSpeed)
	}
	if o.MinDisplayTime > 0 {
		d = math.Max(d, o.MinDisplayTime)
	}
	if o.MaxDisplayTime > 0 && o.MaxDisplayTime >= o.MinDisplayTime {
		d = math.Min(d, o.MaxDisplayTime)
	}
	return d
}

// Optimize returns retimed copies of segments sorted by start. Each segment gets
// its ideal duration; when that would run into the next segment the end is
// pulled back to leave MinGap, and if that would break MinDisplayTime the next
// segment is pushed later instead, keeping its own duration. When
// mediaDuration > 0 ends are capped to it, which makes the minimum display
// time best-effort near the end of the media.
func (o *Optimizer) Optimize(segments []models.SubtitleSegment, mediaDuration float64) []models.SubtitleSegment {
	out := make([]models.SubtitleSegment, len(segments))
	copy(out, segments)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	gap := math.Max(o.MinGap, 0)
	minDisplay := math.Max(o.MinDisplayTime, minSpan)
	for i := range out {
		seg := &out[i]
		end := seg.Start + math.Max(o.IdealDuration(seg.Text, seg.Duration()), minSpan)

		if i+1 < len(out) {
			next := &out[i+1]
			limit := next.Start - gap
			if end > limit {
				if limit-seg.Start >= minDisplay {
					end = limit
				} else {
					end = seg.Start + minDisplay
					shift := end + gap - next.Start
					next.Start += shift
					next.End += shift
				}
			}
		}

		if mediaDuration > 0 && end > mediaDuration {
			end = math.Max(mediaDuration, seg.Start+minSpan)
		}
		seg.End = end
	}
	return out
}
