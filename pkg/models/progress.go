package models

import "time"

// Stage is the phase reported by a progress event
type Stage string

// Stage constants
const (
	StageStarted    Stage = "started"
	StageProcessing Stage = "processing"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
)

// ProgressEvent is streamed to observers while a job runs
type ProgressEvent struct {
	JobID            JobID     `json:"job_id"`
	Stage            Stage     `json:"stage"`
	ProgressPercent  float64   `json:"progress_percent"`
	CurrentOperation string    `json:"current_operation,omitempty"`
	ProcessedFrames  *int64    `json:"processed_frames,omitempty"`
	FPS              *float64  `json:"fps,omitempty"`
	Bitrate          string    `json:"bitrate,omitempty"`
	SpeedMultiplier  *float64  `json:"speed_multiplier,omitempty"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// QueueStats is a snapshot of queue occupancy
type QueueStats struct {
	Queued     int  `json:"queued"`
	Processing int  `json:"processing"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Cancelled  int  `json:"cancelled"`
	Paused     bool `json:"paused"`
}
