package subtitle

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

type transcriptWord struct {
	Word       string   `json:"word"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type transcriptSegment struct {
	ID         json.RawMessage  `json:"id,omitempty"`
	Start      float64          `json:"start"`
	End        float64          `json:"end"`
	Text       string           `json:"text"`
	Speaker    string           `json:"speaker,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	Words      []transcriptWord `json:"words,omitempty"`
}

// transcript is the document produced by the speech-to-text service
type transcript struct {
	Language string              `json:"language"`
	Segments []transcriptSegment `json:"segments"`
}

// LoadTranscript decodes a speech-to-text transcript into subtitle segments.
// Segments without text or with a non-positive span are skipped.
func LoadTranscript(r io.Reader) ([]models.SubtitleSegment, error) {
	var doc transcript
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse transcript json: %w", err)
	}

	segments := make([]models.SubtitleSegment, 0, len(doc.Segments))
	for i, seg := range doc.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" || seg.End <= seg.Start {
			continue
		}
		id := strings.Trim(string(seg.ID), `"`)
		if id == "" || id == "null" {
			id = fmt.Sprintf("%d", i)
		}
		segments = append(segments, models.SubtitleSegment{
			ID:         id,
			Start:      seg.Start,
			End:        seg.End,
			Text:       text,
			Speaker:    seg.Speaker,
			Confidence: seg.Confidence,
		})
	}
	return segments, nil
}
