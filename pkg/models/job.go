package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobID identifies an export job
type JobID string

// String returns the id as a plain string
func (id JobID) String() string {
	return string(id)
}

// JobKind selects the handler that runs a job
type JobKind string

// JobKind constants
const (
	JobKindExport   JobKind = "export"
	JobKindCaptions JobKind = "captions"
)

// JobStatus is the lifecycle state of an export job
type JobStatus string

// JobStatus constants
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions happen without a retry
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPriority constants
const (
	JobPriorityLow    = 0
	JobPriorityNormal = 5
	JobPriorityHigh   = 10
)

// ExportJob represents a render of a source (optionally through a timeline) with a preset
type ExportJob struct {
	ID          JobID          `json:"id" db:"id"`
	Kind        JobKind        `json:"kind" db:"kind"`
	BatchID     string         `json:"batch_id,omitempty" db:"batch_id"`
	Source      string         `json:"source" db:"source"`
	Timeline    *TimelineRef   `json:"timeline,omitempty" db:"timeline"`
	Settings    ExportSettings `json:"settings" db:"settings"`
	Output      OutputSpec     `json:"output" db:"output"`
	Options     JobOptions     `json:"options" db:"options"`
	Status      JobStatus      `json:"status" db:"status"`
	Progress    float64        `json:"progress" db:"progress"`
	Attempts    int            `json:"attempts" db:"attempts"`
	Sequence    int64          `json:"-" db:"sequence"`
	Error       string         `json:"error,omitempty" db:"error"`
	ErrorKind   string         `json:"error_kind,omitempty" db:"error_kind"`
	Result      *JobResult     `json:"result,omitempty" db:"result"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
}

// Clone returns a deep copy; workers only ever see clones
func (j *ExportJob) Clone() *ExportJob {
	if j == nil {
		return nil
	}
	out := *j
	if j.Timeline != nil {
		tr := *j.Timeline
		tr.Timeline = j.Timeline.Timeline.Clone()
		tr.TrackIDs = append([]string(nil), j.Timeline.TrackIDs...)
		out.Timeline = &tr
	}
	out.Settings.Preset = j.Settings.Preset.Clone()
	if j.Options.Watermark != nil {
		w := *j.Options.Watermark
		out.Options.Watermark = &w
	}
	out.Options.Transcript = append([]SubtitleSegment(nil), j.Options.Transcript...)
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	out.NextRetryAt = cloneTime(j.NextRetryAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimelineRef pins a timeline snapshot and the part of it to render
type TimelineRef struct {
	TimelineID string    `json:"timeline_id"`
	Timeline   *Timeline `json:"timeline,omitempty"`
	RangeStart *float64  `json:"range_start,omitempty"`
	RangeEnd   *float64  `json:"range_end,omitempty"`
	TrackIDs   []string  `json:"track_ids,omitempty"`
}

// Value implements driver.Valuer for database storage
func (tr TimelineRef) Value() (driver.Value, error) {
	return json.Marshal(tr)
}

// Scan implements sql.Scanner for database retrieval
func (tr *TimelineRef) Scan(value interface{}) error {
	return scanJSON(value, tr)
}

// CurrentSettingsVersion is the schema version written by this build
const CurrentSettingsVersion = 1

// ExportSettings is the versioned, typed settings record persisted with each job
type ExportSettings struct {
	SchemaVersion int           `json:"schema_version"`
	PresetID      string        `json:"preset_id,omitempty"`
	Preset        *ExportPreset `json:"preset,omitempty"`
}

// UnmarshalJSON rejects settings written by a newer schema
func (s *ExportSettings) UnmarshalJSON(data []byte) error {
	type plain ExportSettings
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = CurrentSettingsVersion
	}
	if p.SchemaVersion > CurrentSettingsVersion {
		return fmt.Errorf("unsupported settings schema version %d (max %d)", p.SchemaVersion, CurrentSettingsVersion)
	}
	*s = ExportSettings(p)
	return nil
}

// Value implements driver.Valuer for database storage
func (s ExportSettings) Value() (driver.Value, error) {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = CurrentSettingsVersion
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *ExportSettings) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// OutputSpec describes where the export is written
type OutputSpec struct {
	Filename  string `json:"filename"`
	Directory string `json:"directory,omitempty"`
	Overwrite bool   `json:"overwrite"`
}

// JobOptions are per-job knobs supplied at submission
type JobOptions struct {
	Priority         int               `json:"priority"`
	IncludeSubtitles bool              `json:"include_subtitles"`
	Watermark        *Watermark        `json:"watermark,omitempty"`
	Transcript       []SubtitleSegment `json:"transcript,omitempty"`
}

// Value implements driver.Valuer for database storage
func (o JobOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// Scan implements sql.Scanner for database retrieval
func (o *JobOptions) Scan(value interface{}) error {
	return scanJSON(value, o)
}

// Watermark describes an image or text watermark
type Watermark struct {
	ImagePath string  `json:"image_path,omitempty"`
	Text      string  `json:"text,omitempty"`
	Position  string  `json:"position,omitempty"` // top-left, top-right, bottom-left, bottom-right, center
	Opacity   float64 `json:"opacity,omitempty"`
	Scale     float64 `json:"scale,omitempty"`
	FontSize  int     `json:"font_size,omitempty"`
	FontColor string  `json:"font_color,omitempty"`
	Padding   int     `json:"padding,omitempty"`
}

// JobResult describes the produced output
type JobResult struct {
	OutputPath     string   `json:"output_path"`
	SubtitlePath   string   `json:"subtitle_path,omitempty"`
	StorageKey     string   `json:"storage_key,omitempty"`
	Format         string   `json:"format,omitempty"`
	FileSize       int64    `json:"file_size"`
	Duration       float64  `json:"duration"`
	Bitrate        int64    `json:"bitrate"`
	ProcessingTime float64  `json:"processing_time"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Value implements driver.Valuer for database storage
func (r JobResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *JobResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dst)
	}
}
