package models

// SubtitleSegment is a timed caption, usually produced by speech-to-text
type SubtitleSegment struct {
	ID         string   `json:"id,omitempty"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Duration returns how long the segment is on screen
func (s SubtitleSegment) Duration() float64 {
	return s.End - s.Start
}

// SubtitleFormat selects how captions are delivered
type SubtitleFormat string

// SubtitleFormat constants
const (
	SubtitleFormatSRT    SubtitleFormat = "srt"
	SubtitleFormatVTT    SubtitleFormat = "vtt"
	SubtitleFormatASS    SubtitleFormat = "ass"
	SubtitleFormatBurned SubtitleFormat = "burned"
)

// Extension returns the sidecar file extension, empty for burned captions
func (f SubtitleFormat) Extension() string {
	switch f {
	case SubtitleFormatSRT:
		return ".srt"
	case SubtitleFormatVTT:
		return ".vtt"
	case SubtitleFormatASS:
		return ".ass"
	}
	return ""
}

// SubtitleStyle describes how captions look when rendered
type SubtitleStyle struct {
	FontName        string `json:"font_name,omitempty"`
	FontFile        string `json:"font_file,omitempty"`
	FontSize        int    `json:"font_size,omitempty"`
	PrimaryColor    string `json:"primary_color,omitempty"`
	OutlineColor    string `json:"outline_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
	Outline         int    `json:"outline,omitempty"`
	Bold            bool   `json:"bold,omitempty"`
	Position        string `json:"position,omitempty"` // bottom, top, center
	MarginV         int    `json:"margin_v,omitempty"`
	MaxLineLength   int    `json:"max_line_length,omitempty"`
	MaxLines        int    `json:"max_lines,omitempty"`
	ShowSpeaker     bool   `json:"show_speaker,omitempty"`
}
