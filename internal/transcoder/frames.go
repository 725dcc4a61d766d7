package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/autocrop"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
)

// sampleWidth bounds the frames handed to the detector
const sampleWidth = 640

// SampleFrames extracts one JPEG every interval seconds from source. Frames
// are downscaled to sampleWidth and kept in memory; the temp directory is
// removed before returning.
func (f *FFmpeg) SampleFrames(ctx context.Context, source string, interval float64) ([]autocrop.Frame, error) {
	if interval <= 0 {
		return nil, exporterr.Validationf("sample interval must be positive, got %v", interval)
	}

	dir, err := os.MkdirTemp(f.tempDir, "frames-")
	if err != nil {
		return nil, exporterr.Transient("sample", fmt.Errorf("failed to create frame directory: %w", err))
	}
	defer os.RemoveAll(dir)

	args := []string{
		"-hide_banner", "-nostats",
		"-i", source,
		"-vf", fmt.Sprintf("fps=1/%s,scale=%d:-2", num(interval), sampleWidth),
		"-q:v", "4",
		"-y",
		filepath.Join(dir, "frame_%05d.jpg"),
	}
	f.logger.LogCommand("", f.ffmpegPath, args)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, exporterr.Cancelled("sample", ctx.Err())
		}
		return nil, classify(fmt.Errorf("failed to sample frames: %w: %s", err, stderr.String()), stderr.String())
	}

	files, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, exporterr.Transient("sample", err)
	}
	sort.Strings(files)

	frames := make([]autocrop.Frame, 0, len(files))
	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, exporterr.Transient("sample", fmt.Errorf("failed to read frame: %w", err))
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			f.logger.WarnWithErr("Skipping undecodable frame", err)
			continue
		}
		frames = append(frames, autocrop.Frame{
			Time:   float64(i) * interval,
			Image:  data,
			Width:  cfg.Width,
			Height: cfg.Height,
		})
	}
	return frames, nil
}
