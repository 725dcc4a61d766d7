package preset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// containerOverhead is the share added on top of raw stream bitrates
const containerOverhead = 1.1

// Processing time multipliers. These are rough heuristics for UI feedback
// only; real encode time depends on hardware, content and encoder settings.
const (
	twoPassPenalty        = 2.0
	autoCropPenalty       = 1.5
	faceTrackingPenalty   = 1.3
	noiseReductionPenalty = 1.2
	complexCodecPenalty   = 3.0
)

var complexCodecs = map[string]bool{
	"hevc":       true,
	"h265":       true,
	"libx265":    true,
	"vp9":        true,
	"libvpx-vp9": true,
	"av1":        true,
	"libaom-av1": true,
	"libsvtav1":  true,
	"hevc_nvenc": true,
	"av1_nvenc":  true,
}

// Registry holds the presets known to the service
type Registry struct {
	mu      sync.RWMutex
	presets map[string]models.ExportPreset
}

// NewRegistry creates a registry seeded with the built-in presets and the
// given custom ones. Custom presets replace built-ins with the same id.
func NewRegistry(custom ...models.ExportPreset) (*Registry, error) {
	r := &Registry{presets: make(map[string]models.ExportPreset)}
	for _, p := range Builtin() {
		r.presets[p.ID] = p
	}
	for _, p := range custom {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a preset after checking it
func (r *Registry) Register(p models.ExportPreset) error {
	if p.ID == "" {
		return exporterr.Validationf("preset id is required")
	}
	if err := Check(&p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[p.ID] = *p.Clone()
	return nil
}

// Get returns a copy of the preset with the given id
func (r *Registry) Get(id string) (*models.ExportPreset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.presets[id]
	if !ok {
		return nil, fmt.Errorf("preset %s: %w", id, exporterr.ErrNotFound)
	}
	return p.Clone(), nil
}

// List returns all presets ordered by id
func (r *Registry) List() []*models.ExportPreset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ExportPreset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve picks the inline preset if present, otherwise the registered one
func (r *Registry) Resolve(settings models.ExportSettings) (*models.ExportPreset, error) {
	if settings.Preset != nil {
		p := settings.Preset.Clone()
		if err := Check(p); err != nil {
			return nil, err
		}
		return p, nil
	}
	if settings.PresetID == "" {
		return nil, exporterr.Validationf("either a preset id or custom settings are required")
	}
	p, err := r.Get(settings.PresetID)
	if err != nil {
		return nil, exporterr.Validation("resolve preset", err)
	}
	return p, nil
}

// Check validates the structure of a preset
func Check(p *models.ExportPreset) error {
	if p.Video == nil && p.Audio == nil {
		return exporterr.Validationf("preset %s has neither video nor audio output", p.ID)
	}
	if v := p.Video; v != nil {
		if v.Codec == "" {
			return exporterr.Validationf("preset %s: video codec is required", p.ID)
		}
		if v.Width <= 0 || v.Height <= 0 || v.Width%2 != 0 || v.Height%2 != 0 {
			return exporterr.Validationf("preset %s: resolution %dx%d must be positive and even", p.ID, v.Width, v.Height)
		}
		if v.Bitrate <= 0 {
			return exporterr.Validationf("preset %s: video bitrate must be positive", p.ID)
		}
		if v.FPS < 0 {
			return exporterr.Validationf("preset %s: fps must not be negative", p.ID)
		}
		if v.AspectRatio != "" {
			if _, err := models.ParseAspectRatio(v.AspectRatio); err != nil {
				return exporterr.Validation("check preset", err)
			}
		}
	}
	if a := p.Audio; a != nil {
		if a.Codec == "" {
			return exporterr.Validationf("preset %s: audio codec is required", p.ID)
		}
		if a.Bitrate <= 0 {
			return exporterr.Validationf("preset %s: audio bitrate must be positive", p.ID)
		}
	}
	if s := p.Subtitles; s != nil {
		switch s.Format {
		case models.SubtitleFormatSRT, models.SubtitleFormatVTT, models.SubtitleFormatASS:
		case models.SubtitleFormatBurned:
			if p.Video == nil {
				return exporterr.Validationf("preset %s: burned subtitles need a video stream", p.ID)
			}
		default:
			return exporterr.Validationf("preset %s: unknown subtitle format %q", p.ID, s.Format)
		}
	}
	if c := p.Constraints; c != nil {
		if c.MinFileSize > 0 && c.MaxFileSize > 0 && c.MinFileSize > c.MaxFileSize {
			return exporterr.Validationf("preset %s: min file size exceeds max file size", p.ID)
		}
	}
	return nil
}

// Report is the outcome of a successful validation
type Report struct {
	Duration                float64  `json:"duration"`
	EstimatedFileSize       int64    `json:"estimated_file_size"`
	EstimatedProcessingTime float64  `json:"estimated_processing_time"`
	Warnings                []string `json:"warnings,omitempty"`
}

// Validate checks a render of the given duration against the preset
// constraints. Exceeding the maximum duration is an error; size problems are
// warnings because the real size is only known after encoding. A non-positive
// estimatedSize is replaced by EstimateFileSize.
func Validate(p *models.ExportPreset, duration float64, estimatedSize int64) (*Report, error) {
	if duration <= 0 {
		return nil, exporterr.Validationf("export duration must be positive, got %.3fs", duration)
	}
	if estimatedSize <= 0 {
		estimatedSize = EstimateFileSize(p, duration)
	}

	report := &Report{
		Duration:                duration,
		EstimatedFileSize:       estimatedSize,
		EstimatedProcessingTime: EstimateProcessingTime(p, duration),
	}

	c := p.Constraints
	if c == nil {
		return report, nil
	}
	if c.MaxDuration > 0 && duration > c.MaxDuration {
		return nil, exporterr.Validationf("duration %.1fs exceeds the %s maximum of %.1fs", duration, platformName(p), c.MaxDuration)
	}
	if c.MaxFileSize > 0 && estimatedSize > c.MaxFileSize {
		report.Warnings = append(report.Warnings, fmt.Sprintf("estimated size %s exceeds the %s limit of %s",
			humanize.Bytes(uint64(estimatedSize)), platformName(p), humanize.Bytes(uint64(c.MaxFileSize))))
	}
	if c.MinFileSize > 0 && estimatedSize < c.MinFileSize {
		report.Warnings = append(report.Warnings, fmt.Sprintf("estimated size %s is below the %s minimum of %s; quality may be rejected",
			humanize.Bytes(uint64(estimatedSize)), platformName(p), humanize.Bytes(uint64(c.MinFileSize))))
	}
	return report, nil
}

// CheckOutputSize applies the size constraints to a finished file
func CheckOutputSize(p *models.ExportPreset, size int64) []string {
	c := p.Constraints
	if c == nil {
		return nil
	}
	var warnings []string
	if c.MaxFileSize > 0 && size > c.MaxFileSize {
		warnings = append(warnings, fmt.Sprintf("output size %s exceeds the %s limit of %s",
			humanize.Bytes(uint64(size)), platformName(p), humanize.Bytes(uint64(c.MaxFileSize))))
	}
	if c.MinFileSize > 0 && size < c.MinFileSize {
		warnings = append(warnings, fmt.Sprintf("output size %s is below the %s minimum of %s",
			humanize.Bytes(uint64(size)), platformName(p), humanize.Bytes(uint64(c.MinFileSize))))
	}
	return warnings
}

// EstimateFileSize returns (videoBitrate + audioBitrate) * duration / 8 plus
// container overhead, in bytes.
func EstimateFileSize(p *models.ExportPreset, duration float64) int64 {
	return int64(float64(p.TotalBitrate()) * duration / 8 * containerOverhead)
}

// EstimateProcessingTime returns a rough wall-clock estimate in seconds. It is
// meant for progress UIs, not for billing or scheduling guarantees.
func EstimateProcessingTime(p *models.ExportPreset, duration float64) float64 {
	multiplier := 1.0
	if p.Optimization.TwoPass && p.Video != nil {
		multiplier *= twoPassPenalty
	}
	if f := p.Processing; f != nil {
		if f.AutoCrop && p.Video != nil {
			multiplier *= autoCropPenalty
		}
		if f.FaceTracking && p.Video != nil {
			multiplier *= faceTrackingPenalty
		}
		if f.NoiseReduction {
			multiplier *= noiseReductionPenalty
		}
	}
	if p.Video != nil && complexCodecs[strings.ToLower(p.Video.Codec)] {
		multiplier *= complexCodecPenalty
	}
	return duration * multiplier
}

func platformName(p *models.ExportPreset) string {
	if p.Platform != "" {
		return p.Platform
	}
	return p.ID
}
