package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ExportPreset is a platform-specific output configuration
type ExportPreset struct {
	ID           string           `json:"id"`
	Platform     string           `json:"platform"`
	Description  string           `json:"description,omitempty"`
	Video        *VideoSpec       `json:"video,omitempty"`
	Audio        *AudioSpec       `json:"audio,omitempty"`
	Subtitles    *SubtitleSpec    `json:"subtitles,omitempty"`
	Processing   *ProcessingFlags `json:"processing,omitempty"`
	Constraints  *Constraints     `json:"constraints,omitempty"`
	Optimization Optimization     `json:"optimization"`
}

// VideoSpec describes the video stream of an export
type VideoSpec struct {
	Codec       string  `json:"codec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio string  `json:"aspect_ratio,omitempty"` // e.g. "9:16"
	Bitrate     int64   `json:"bitrate"`                // bits per second
	FPS         float64 `json:"fps,omitempty"`
	Format      string  `json:"format"`
	Profile     string  `json:"profile,omitempty"`
	PixelFormat string  `json:"pixel_format,omitempty"`
}

// AudioSpec describes the audio stream of an export
type AudioSpec struct {
	Codec      string `json:"codec"`
	Bitrate    int64  `json:"bitrate"` // bits per second
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Format     string `json:"format,omitempty"` // container for audio-only exports
}

// SubtitleSpec selects caption delivery for an export
type SubtitleSpec struct {
	Format SubtitleFormat `json:"format"`
	Style  SubtitleStyle  `json:"style"`
}

// ProcessingFlags toggles optional processing steps
type ProcessingFlags struct {
	AutoCrop        bool             `json:"auto_crop,omitempty"`
	FaceTracking    bool             `json:"face_tracking,omitempty"`
	Normalize       bool             `json:"normalize,omitempty"`
	NoiseReduction  bool             `json:"noise_reduction,omitempty"`
	ColorCorrection *ColorCorrection `json:"color_correction,omitempty"`
}

// ColorCorrection holds eq filter parameters
type ColorCorrection struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
	Gamma      float64 `json:"gamma"`
}

// Constraints are platform limits checked before and after encoding
type Constraints struct {
	MaxDuration float64 `json:"max_duration,omitempty"`  // seconds
	MaxFileSize int64   `json:"max_file_size,omitempty"` // bytes
	MinFileSize int64   `json:"min_file_size,omitempty"` // bytes
}

// Optimization flags
type Optimization struct {
	TwoPass   bool `json:"two_pass"`
	FastStart bool `json:"fast_start"`
}

// AudioOnly reports whether the preset produces no video stream
func (p *ExportPreset) AudioOnly() bool {
	return p.Video == nil
}

// Container returns the output container format
func (p *ExportPreset) Container() string {
	if p.Video != nil && p.Video.Format != "" {
		return p.Video.Format
	}
	if p.Audio != nil && p.Audio.Format != "" {
		return p.Audio.Format
	}
	if p.Video == nil {
		return "m4a"
	}
	return "mp4"
}

// TotalBitrate returns the combined video and audio bitrate in bits per second
func (p *ExportPreset) TotalBitrate() int64 {
	var total int64
	if p.Video != nil {
		total += p.Video.Bitrate
	}
	if p.Audio != nil {
		total += p.Audio.Bitrate
	}
	return total
}

// Clone returns a deep copy of the preset
func (p *ExportPreset) Clone() *ExportPreset {
	if p == nil {
		return nil
	}
	out := *p
	if p.Video != nil {
		v := *p.Video
		out.Video = &v
	}
	if p.Audio != nil {
		a := *p.Audio
		out.Audio = &a
	}
	if p.Subtitles != nil {
		s := *p.Subtitles
		out.Subtitles = &s
	}
	if p.Processing != nil {
		f := *p.Processing
		if f.ColorCorrection != nil {
			cc := *f.ColorCorrection
			f.ColorCorrection = &cc
		}
		out.Processing = &f
	}
	if p.Constraints != nil {
		c := *p.Constraints
		out.Constraints = &c
	}
	return &out
}

// ParseAspectRatio parses "W:H" into a width/height ratio
func ParseAspectRatio(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid aspect ratio %q: %w", s, err)
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid aspect ratio %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return w / h, nil
}
