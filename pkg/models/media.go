package models

// MediaInfo holds probed properties of a source file
type MediaInfo struct {
	Path       string  `json:"path"`
	Format     string  `json:"format"`
	Size       int64   `json:"size"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Bitrate    int64   `json:"bitrate"`
	FrameRate  float64 `json:"frame_rate"`
	HasVideo   bool    `json:"has_video"`
	HasAudio   bool    `json:"has_audio"`
}
