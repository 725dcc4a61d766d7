package timeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// EDL renders a CMX3600 edit decision list for one track so the edit can be
// conformed in an NLE.
func EDL(tl *models.Timeline, trackID, title string) (string, error) {
	track, ok := tl.Track(trackID)
	if !ok {
		return "", fmt.Errorf("track %s: %w", trackID, exporterr.ErrNotFound)
	}

	frameRate := tl.Settings.FrameRate
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}
	dropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	channel := "V"
	if track.Kind == models.TrackKindAudio {
		channel = "A"
	}

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if dropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	clips := append([]models.Clip(nil), track.Clips...)
	sortClips(clips)
	for i, c := range clips {
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", channel,
				timecode(c.SourceStart, fps), timecode(c.SourceEnd, fps),
				timecode(c.TimelineStart, fps), timecode(c.TimelineEnd(), fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", c.ID),
		)
		if c.MediaRef != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", c.MediaRef))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n"), nil
}

func timecode(seconds float64, fps int) string {
	totalFrames := int(math.Round(seconds * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, secs, frames)
}
