package models

import "encoding/json"

// TrackKind identifies what a track carries
type TrackKind string

// TrackKind constants
const (
	TrackKindVideo   TrackKind = "video"
	TrackKindAudio   TrackKind = "audio"
	TrackKindText    TrackKind = "text"
	TrackKindOverlay TrackKind = "overlay"
)

// Valid reports whether the kind is one of the known track kinds
func (k TrackKind) Valid() bool {
	switch k {
	case TrackKindVideo, TrackKindAudio, TrackKindText, TrackKindOverlay:
		return true
	}
	return false
}

// EffectKind identifies the family of an effect
type EffectKind string

// EffectKind constants
const (
	EffectKindFade       EffectKind = "fade"
	EffectKindTransition EffectKind = "transition"
	EffectKindFilter     EffectKind = "filter"
)

// Timeline is an ordered multi-track arrangement of clips describing an edit
type Timeline struct {
	ID       string         `json:"id" db:"id"`
	Name     string         `json:"name,omitempty" db:"name"`
	Tracks   []Track        `json:"tracks" db:"tracks"`
	Settings RenderSettings `json:"settings" db:"settings"`
}

// RenderSettings holds timeline-wide render parameters
type RenderSettings struct {
	FrameRate       float64 `json:"frame_rate"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	SampleRate      int     `json:"sample_rate"`
	SnapGranularity float64 `json:"snap_granularity,omitempty"`
}

// Track is an ordered, non-overlapping list of clips of a single kind
type Track struct {
	ID      string    `json:"id"`
	Kind    TrackKind `json:"kind"`
	Name    string    `json:"name,omitempty"`
	Clips   []Clip    `json:"clips"`
	Enabled bool      `json:"enabled"`
	Locked  bool      `json:"locked"`
	Volume  float64   `json:"volume"`
	Opacity float64   `json:"opacity"`
}

// Clip is a trimmed reference into source media placed at a timeline position
type Clip struct {
	ID            string   `json:"id"`
	MediaRef      string   `json:"media_ref,omitempty"`
	TimelineStart float64  `json:"timeline_start"`
	Duration      float64  `json:"duration"`
	SourceStart   float64  `json:"source_start"`
	SourceEnd     float64  `json:"source_end"`
	Volume        float64  `json:"volume"`
	Opacity       float64  `json:"opacity"`
	Effects       []Effect `json:"effects,omitempty"`
	Locked        bool     `json:"locked"`
}

// Effect is a fade, transition or filter applied to (part of) a clip
type Effect struct {
	ID      string            `json:"id"`
	Kind    EffectKind        `json:"kind"`
	Params  map[string]string `json:"params,omitempty"`
	Start   *float64          `json:"start,omitempty"`
	End     *float64          `json:"end,omitempty"`
	Enabled bool              `json:"enabled"`
}

// TimelineEnd returns the timeline position where the clip stops
func (c Clip) TimelineEnd() float64 {
	return c.TimelineStart + c.Duration
}

// SourceDuration returns the length of the referenced source range
func (c Clip) SourceDuration() float64 {
	return c.SourceEnd - c.SourceStart
}

// End returns the timeline position of the last clip on the track
func (t Track) End() float64 {
	var end float64
	for _, c := range t.Clips {
		if e := c.TimelineEnd(); e > end {
			end = e
		}
	}
	return end
}

// Duration is derived from the track extents and never stored
func (t *Timeline) Duration() float64 {
	var d float64
	for _, track := range t.Tracks {
		if e := track.End(); e > d {
			d = e
		}
	}
	return d
}

// Track returns the track with the given id
func (t *Timeline) Track(id string) (*Track, bool) {
	for i := range t.Tracks {
		if t.Tracks[i].ID == id {
			return &t.Tracks[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy safe to hand to another goroutine
func (t *Timeline) Clone() *Timeline {
	if t == nil {
		return nil
	}
	out := *t
	out.Tracks = make([]Track, len(t.Tracks))
	for i, track := range t.Tracks {
		out.Tracks[i] = track.Clone()
	}
	return &out
}

// Clone returns a deep copy of the track
func (t Track) Clone() Track {
	out := t
	out.Clips = make([]Clip, len(t.Clips))
	for i, c := range t.Clips {
		out.Clips[i] = c.Clone()
	}
	return out
}

// Clone returns a deep copy of the clip
func (c Clip) Clone() Clip {
	out := c
	if c.Effects != nil {
		out.Effects = make([]Effect, len(c.Effects))
		for i, e := range c.Effects {
			out.Effects[i] = e.Clone()
		}
	}
	return out
}

// FadesOut reports whether a fade effect runs to black at the clip end. The
// direction may be given as "direction" or "type"; anything but "out" fades in.
func (e Effect) FadesOut() bool {
	return e.Kind == EffectKindFade && (e.Params["direction"] == "out" || e.Params["type"] == "out")
}

// Clone returns a deep copy of the effect
func (e Effect) Clone() Effect {
	out := e
	if e.Params != nil {
		out.Params = make(map[string]string, len(e.Params))
		for k, v := range e.Params {
			out.Params[k] = v
		}
	}
	if e.Start != nil {
		v := *e.Start
		out.Start = &v
	}
	if e.End != nil {
		v := *e.End
		out.End = &v
	}
	return out
}

// UnmarshalJSON fills omitted fields with their neutral values: enabled,
// unit volume and full opacity.
func (t *Track) UnmarshalJSON(data []byte) error {
	type plain Track
	out := plain{Enabled: true, Volume: 1, Opacity: 1}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*t = Track(out)
	return nil
}

// UnmarshalJSON defaults omitted volume and opacity to 1
func (c *Clip) UnmarshalJSON(data []byte) error {
	type plain Clip
	out := plain{Volume: 1, Opacity: 1}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*c = Clip(out)
	return nil
}

// UnmarshalJSON defaults an omitted enabled flag to true
func (e *Effect) UnmarshalJSON(data []byte) error {
	type plain Effect
	out := plain{Enabled: true}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*e = Effect(out)
	return nil
}
