package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// ParseSRT reads SubRip cues
func ParseSRT(r io.Reader) ([]models.SubtitleSegment, error) {
	blocks, err := readBlocks(r)
	if err != nil {
		return nil, err
	}

	var segments []models.SubtitleSegment
	for _, block := range blocks {
		timing := 0
		if !strings.Contains(block[0], "-->") {
			timing = 1
		}
		if timing >= len(block) {
			return nil, fmt.Errorf("srt cue without timing line: %q", block[0])
		}
		start, end, err := parseTimingLine(block[timing])
		if err != nil {
			return nil, err
		}
		seg := models.SubtitleSegment{
			Start: start,
			End:   end,
			Text:  strings.Join(block[timing+1:], "\n"),
		}
		if timing == 1 {
			seg.ID = strings.TrimSpace(block[0])
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// ParseVTT reads WebVTT cues, skipping the header, STYLE, REGION and NOTE blocks
func ParseVTT(r io.Reader) ([]models.SubtitleSegment, error) {
	blocks, err := readBlocks(r)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 || !strings.HasPrefix(strings.TrimPrefix(blocks[0][0], "\ufeff"), "WEBVTT") {
		return nil, fmt.Errorf("missing WEBVTT header")
	}

	var segments []models.SubtitleSegment
	for _, block := range blocks[1:] {
		head := block[0]
		if strings.HasPrefix(head, "STYLE") || strings.HasPrefix(head, "NOTE") || strings.HasPrefix(head, "REGION") {
			continue
		}
		timing := 0
		if !strings.Contains(head, "-->") {
			timing = 1
		}
		if timing >= len(block) {
			return nil, fmt.Errorf("vtt cue without timing line: %q", head)
		}
		start, end, err := parseTimingLine(block[timing])
		if err != nil {
			return nil, err
		}

		seg := models.SubtitleSegment{Start: start, End: end}
		if timing == 1 {
			seg.ID = strings.TrimSpace(head)
		}
		text := strings.Join(block[timing+1:], "\n")
		if strings.HasPrefix(text, "<v ") {
			if i := strings.IndexByte(text, '>'); i > 0 {
				seg.Speaker = text[3:i]
				text = strings.TrimSuffix(text[i+1:], "</v>")
			}
		}
		seg.Text = text
		segments = append(segments, seg)
	}
	return segments, nil
}

// readBlocks splits input into blank-line separated groups of trimmed lines
func readBlocks(r io.Reader) ([][]string, error) {
	var blocks [][]string
	var current []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read subtitles: %w", err)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks, nil
}

func parseTimingLine(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := parseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	// VTT cue settings follow the end timestamp
	endFields := strings.Fields(parts[1])
	if len(endFields) == 0 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	end, err := parseTimestamp(endFields[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts HH:MM:SS,mmm, HH:MM:SS.mmm and MM:SS.mmm
func parseTimestamp(value string) (float64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", ".")
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	clock, frac, _ := strings.Cut(value, ".")
	fields := strings.Split(clock, ":")
	if len(fields) == 2 {
		fields = append([]string{"0"}, fields...)
	}
	if len(fields) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	var hms [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		hms[i] = n
	}

	var fraction float64
	if frac != "" {
		n, err := strconv.Atoi(frac)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", value)
		}
		scale := 1.0
		for range frac {
			scale *= 10
		}
		fraction = float64(n) / scale
	}

	return float64(hms[0]*3600+hms[1]*60+hms[2]) + fraction, nil
}
