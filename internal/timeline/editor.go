package timeline

import (
	"fmt"
	"maps"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// epsilon is the tolerance used for contiguity and overlap checks (1µs)
const epsilon = 1e-6

// Editor applies validated mutations to a single timeline. It is not safe for
// concurrent use; Service serialises access per timeline.
type Editor struct {
	tl    *models.Timeline
	newID func() string
}

// TrackUpdate holds optional track changes
type TrackUpdate struct {
	Name    *string
	Enabled *bool
	Locked  *bool
	Volume  *float64
	Opacity *float64
}

// ClipUpdate holds optional clip changes
type ClipUpdate struct {
	TimelineStart *float64
	Duration      *float64
	SourceStart   *float64
	SourceEnd     *float64
	Volume        *float64
	Opacity       *float64
	Effects       *[]models.Effect
	Locked        *bool
}

// NewEditor creates an editor over a private copy of tl
func NewEditor(tl *models.Timeline) *Editor {
	if tl == nil {
		tl = &models.Timeline{}
	}
	return &Editor{tl: tl.Clone(), newID: func() string { return uuid.New().String() }}
}

// Snapshot returns an immutable deep copy of the current state
func (e *Editor) Snapshot() *models.Timeline {
	return e.tl.Clone()
}

// Validate checks every track of the timeline
func (e *Editor) Validate() error {
	return Validate(e.tl)
}

// AddTrack appends a track
func (e *Editor) AddTrack(track models.Track) (models.Track, error) {
	if track.ID == "" {
		track.ID = e.newID()
	}
	if _, exists := e.tl.Track(track.ID); exists {
		return models.Track{}, exporterr.Validationf("track %s already exists", track.ID)
	}
	if !track.Kind.Valid() {
		return models.Track{}, exporterr.Validationf("invalid track kind %q", track.Kind)
	}
	if track.Clips == nil {
		track.Clips = []models.Clip{}
	}
	for i := range track.Clips {
		if track.Clips[i].ID == "" {
			track.Clips[i].ID = e.newID()
		}
		e.snap(&track.Clips[i])
	}
	sortClips(track.Clips)
	if err := validateTrack(&track); err != nil {
		return models.Track{}, err
	}

	e.tl.Tracks = append(e.tl.Tracks, track.Clone())
	return track, nil
}

// UpdateTrack changes track properties. A locked track only accepts unlocking.
func (e *Editor) UpdateTrack(trackID string, upd TrackUpdate) (models.Track, error) {
	idx, err := e.trackIndex(trackID)
	if err != nil {
		return models.Track{}, err
	}

	work := e.tl.Tracks[idx].Clone()
	if work.Locked && (upd.Locked == nil || *upd.Locked) {
		return models.Track{}, exporterr.Validation("update track", fmt.Errorf("track %s: %w", trackID, exporterr.ErrLocked))
	}
	if upd.Name != nil {
		work.Name = *upd.Name
	}
	if upd.Enabled != nil {
		work.Enabled = *upd.Enabled
	}
	if upd.Locked != nil {
		work.Locked = *upd.Locked
	}
	if upd.Volume != nil {
		work.Volume = *upd.Volume
	}
	if upd.Opacity != nil {
		work.Opacity = *upd.Opacity
	}
	if err := validateTrack(&work); err != nil {
		return models.Track{}, err
	}

	e.tl.Tracks[idx] = work
	return work.Clone(), nil
}

// AddClip places a clip on a track. A zero duration defaults to the source range length.
func (e *Editor) AddClip(trackID string, clip models.Clip) (models.Clip, error) {
	return e.mutate(trackID, "add clip", func(track *models.Track) (models.Clip, error) {
		if clip.ID == "" {
			clip.ID = e.newID()
		}
		for _, c := range track.Clips {
			if c.ID == clip.ID {
				return models.Clip{}, exporterr.Validationf("clip %s already exists", clip.ID)
			}
		}
		if clip.Duration == 0 {
			clip.Duration = clip.SourceDuration()
		}
		e.snap(&clip)
		track.Clips = append(track.Clips, clip.Clone())
		return clip, nil
	})
}

// UpdateClip changes a clip in place
func (e *Editor) UpdateClip(trackID, clipID string, upd ClipUpdate) (models.Clip, error) {
	return e.mutate(trackID, "update clip", func(track *models.Track) (models.Clip, error) {
		i, err := clipIndex(track, clipID)
		if err != nil {
			return models.Clip{}, err
		}
		c := &track.Clips[i]
		if c.Locked && (upd.Locked == nil || *upd.Locked) {
			return models.Clip{}, fmt.Errorf("clip %s: %w", clipID, exporterr.ErrLocked)
		}
		if upd.TimelineStart != nil {
			c.TimelineStart = *upd.TimelineStart
		}
		if upd.Duration != nil {
			c.Duration = *upd.Duration
		}
		if upd.SourceStart != nil {
			c.SourceStart = *upd.SourceStart
		}
		if upd.SourceEnd != nil {
			c.SourceEnd = *upd.SourceEnd
		}
		if upd.Volume != nil {
			c.Volume = *upd.Volume
		}
		if upd.Opacity != nil {
			c.Opacity = *upd.Opacity
		}
		if upd.Effects != nil {
			c.Effects = append([]models.Effect(nil), (*upd.Effects)...)
		}
		if upd.Locked != nil {
			c.Locked = *upd.Locked
		}
		e.snap(c)
		return c.Clone(), nil
	})
}

// DeleteClip removes a clip from a track
func (e *Editor) DeleteClip(trackID, clipID string) error {
	_, err := e.mutate(trackID, "delete clip", func(track *models.Track) (models.Clip, error) {
		i, err := clipIndex(track, clipID)
		if err != nil {
			return models.Clip{}, err
		}
		removed := track.Clips[i]
		if removed.Locked {
			return models.Clip{}, fmt.Errorf("clip %s: %w", clipID, exporterr.ErrLocked)
		}
		track.Clips = append(track.Clips[:i], track.Clips[i+1:]...)
		return removed, nil
	})
	return err
}

// SplitClip cuts a clip at timeline position at. The source cut point is
// proportional to the offset so the two halves partition the original range.
func (e *Editor) SplitClip(trackID, clipID string, at float64) (models.Clip, models.Clip, error) {
	var second models.Clip
	first, err := e.mutate(trackID, "split clip", func(track *models.Track) (models.Clip, error) {
		i, err := clipIndex(track, clipID)
		if err != nil {
			return models.Clip{}, err
		}
		orig := track.Clips[i]
		if orig.Locked {
			return models.Clip{}, fmt.Errorf("clip %s: %w", clipID, exporterr.ErrLocked)
		}
		if at <= orig.TimelineStart+epsilon || at >= orig.TimelineEnd()-epsilon {
			return models.Clip{}, fmt.Errorf("split point %.6f outside clip %s [%.6f, %.6f]",
				at, clipID, orig.TimelineStart, orig.TimelineEnd())
		}

		offset := at - orig.TimelineStart
		cut := orig.SourceStart + offset/orig.Duration*orig.SourceDuration()

		left := orig.Clone()
		left.Duration = offset
		left.SourceEnd = cut

		right := orig.Clone()
		right.ID = e.newID()
		right.TimelineStart = at
		right.Duration = orig.TimelineEnd() - at
		right.SourceStart = cut

		left.Effects, right.Effects = splitEffects(orig.Effects, offset, e.newID)

		track.Clips[i] = left
		track.Clips = append(track.Clips, right)
		second = right.Clone()
		return left.Clone(), nil
	})
	if err != nil {
		return models.Clip{}, models.Clip{}, err
	}
	return first, second, nil
}

// MergeClips joins two contiguous clips of the same media into the first one
func (e *Editor) MergeClips(trackID, firstID, secondID string) (models.Clip, error) {
	return e.mutate(trackID, "merge clips", func(track *models.Track) (models.Clip, error) {
		i, err := clipIndex(track, firstID)
		if err != nil {
			return models.Clip{}, err
		}
		j, err := clipIndex(track, secondID)
		if err != nil {
			return models.Clip{}, err
		}
		first, second := track.Clips[i], track.Clips[j]
		if first.Locked || second.Locked {
			return models.Clip{}, fmt.Errorf("merge %s+%s: %w", firstID, secondID, exporterr.ErrLocked)
		}
		if math.Abs(first.TimelineEnd()-second.TimelineStart) > epsilon {
			return models.Clip{}, fmt.Errorf("clips %s and %s are not contiguous: %w",
				firstID, secondID, exporterr.ErrTimelineConflict)
		}
		if first.MediaRef != second.MediaRef {
			return models.Clip{}, fmt.Errorf("clips %s and %s reference different media: %w",
				firstID, secondID, exporterr.ErrTimelineConflict)
		}

		merged := first.Clone()
		merged.Duration = second.TimelineEnd() - first.TimelineStart
		merged.SourceEnd = second.SourceEnd
		for _, eff := range second.Effects {
			eff = eff.Clone()
			shiftEffect(&eff, first.Duration)
			if absorbEffect(merged.Effects, eff, first.Duration) {
				continue
			}
			merged.Effects = append(merged.Effects, eff)
		}

		track.Clips[i] = merged
		track.Clips = append(track.Clips[:j], track.Clips[j+1:]...)
		return merged.Clone(), nil
	})
}

// mutate runs fn against a copy of the track and commits only if the result validates
func (e *Editor) mutate(trackID, op string, fn func(track *models.Track) (models.Clip, error)) (models.Clip, error) {
	idx, err := e.trackIndex(trackID)
	if err != nil {
		return models.Clip{}, err
	}
	if e.tl.Tracks[idx].Locked {
		return models.Clip{}, exporterr.Validation(op, fmt.Errorf("track %s: %w", trackID, exporterr.ErrLocked))
	}

	work := e.tl.Tracks[idx].Clone()
	out, err := fn(&work)
	if err != nil {
		if exporterr.KindOf(err) == exporterr.KindTransient {
			err = exporterr.Validation(op, err)
		}
		return models.Clip{}, err
	}
	sortClips(work.Clips)
	if err := validateTrack(&work); err != nil {
		return models.Clip{}, exporterr.Validation(op, err)
	}

	e.tl.Tracks[idx] = work
	return out, nil
}

func (e *Editor) trackIndex(trackID string) (int, error) {
	for i := range e.tl.Tracks {
		if e.tl.Tracks[i].ID == trackID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("track %s: %w", trackID, exporterr.ErrNotFound)
}

func (e *Editor) snap(c *models.Clip) {
	g := e.tl.Settings.SnapGranularity
	if g <= 0 {
		return
	}
	c.TimelineStart = math.Round(c.TimelineStart/g) * g
}

func clipIndex(track *models.Track, clipID string) (int, error) {
	for i := range track.Clips {
		if track.Clips[i].ID == clipID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("clip %s: %w", clipID, exporterr.ErrNotFound)
}

func sortClips(clips []models.Clip) {
	sort.SliceStable(clips, func(i, j int) bool {
		return clips[i].TimelineStart < clips[j].TimelineStart
	})
}

// Validate checks clip invariants and non-overlap on every track
func Validate(tl *models.Timeline) error {
	seen := make(map[string]bool, len(tl.Tracks))
	for i := range tl.Tracks {
		track := tl.Tracks[i]
		if seen[track.ID] {
			return exporterr.Validationf("duplicate track id %s", track.ID)
		}
		seen[track.ID] = true
		clips := append([]models.Clip(nil), track.Clips...)
		sortClips(clips)
		track.Clips = clips
		if err := validateTrack(&track); err != nil {
			return exporterr.Validation("validate timeline", err)
		}
	}
	return nil
}

// validateTrack expects clips sorted by timeline start
func validateTrack(track *models.Track) error {
	if !track.Kind.Valid() {
		return fmt.Errorf("track %s: invalid kind %q", track.ID, track.Kind)
	}
	if track.Volume < 0 {
		return fmt.Errorf("track %s: volume must not be negative", track.ID)
	}
	if track.Opacity < 0 || track.Opacity > 1 {
		return fmt.Errorf("track %s: opacity must be within [0,1]", track.ID)
	}

	for i, c := range track.Clips {
		if err := validateClip(c); err != nil {
			return fmt.Errorf("track %s: %w", track.ID, err)
		}
		if i > 0 {
			prev := track.Clips[i-1]
			if prev.TimelineEnd() > c.TimelineStart+epsilon {
				return fmt.Errorf("track %s: clip %s [%.3f, %.3f] overlaps clip %s [%.3f, %.3f]: %w",
					track.ID, prev.ID, prev.TimelineStart, prev.TimelineEnd(),
					c.ID, c.TimelineStart, c.TimelineEnd(), exporterr.ErrTimelineConflict)
			}
		}
	}
	return nil
}

func validateClip(c models.Clip) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("clip without id")
	case c.SourceEnd <= c.SourceStart:
		return fmt.Errorf("clip %s: source end %.3f must be after source start %.3f", c.ID, c.SourceEnd, c.SourceStart)
	case c.Duration <= 0:
		return fmt.Errorf("clip %s: duration must be positive", c.ID)
	case c.TimelineStart < 0 || c.SourceStart < 0:
		return fmt.Errorf("clip %s: negative position", c.ID)
	case c.Volume < 0:
		return fmt.Errorf("clip %s: volume must not be negative", c.ID)
	case c.Opacity < 0 || c.Opacity > 1:
		return fmt.Errorf("clip %s: opacity must be within [0,1]", c.ID)
	}
	for _, eff := range c.Effects {
		if eff.Start != nil && eff.End != nil && *eff.End <= *eff.Start {
			return fmt.Errorf("clip %s: effect %s has empty range", c.ID, eff.ID)
		}
	}
	return nil
}

// splitEffects distributes effects between the two halves of a split at offset
// (relative to the clip start). Ranged effects are clipped to each half; an
// unranged fade-in stays on the left and an unranged fade-out moves right.
func splitEffects(effects []models.Effect, offset float64, newID func() string) ([]models.Effect, []models.Effect) {
	var left, right []models.Effect
	for _, eff := range effects {
		if eff.Start == nil && eff.End == nil {
			switch {
			case eff.FadesOut():
				right = append(right, eff.Clone())
			case eff.Kind == models.EffectKindFade:
				left = append(left, eff.Clone())
			default:
				left = append(left, eff.Clone())
				r := eff.Clone()
				r.ID = newID()
				right = append(right, r)
			}
			continue
		}

		start, end := 0.0, math.Inf(1)
		if eff.Start != nil {
			start = *eff.Start
		}
		if eff.End != nil {
			end = *eff.End
		}

		if start < offset {
			l := eff.Clone()
			if end > offset {
				v := offset
				l.End = &v
			}
			left = append(left, l)
		}
		if end > offset {
			r := eff.Clone()
			shiftEffect(&r, -offset)
			if start < offset {
				r.ID = newID()
				zero := 0.0
				r.Start = &zero
			}
			right = append(right, r)
		}
	}
	return left, right
}

// absorbEffect folds eff into an identical effect already in effects: an
// unranged copy is dropped and a range starting at seam extends the one that
// ends there. It reports whether eff was absorbed.
func absorbEffect(effects []models.Effect, eff models.Effect, seam float64) bool {
	for i := range effects {
		e := &effects[i]
		if e.Kind != eff.Kind || e.Enabled != eff.Enabled || !maps.Equal(e.Params, eff.Params) {
			continue
		}
		if eff.Start == nil && eff.End == nil {
			if e.Start == nil && e.End == nil {
				return true
			}
			continue
		}
		if eff.Start != nil && e.End != nil && math.Abs(*eff.Start-seam) < epsilon && math.Abs(*e.End-seam) < epsilon {
			e.End = eff.End
			return true
		}
	}
	return false
}

func shiftEffect(eff *models.Effect, by float64) {
	if eff.Start != nil {
		v := *eff.Start + by
		eff.Start = &v
	}
	if eff.End != nil {
		v := *eff.End + by
		eff.End = &v
	}
}
