package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	logger      *logging.Logger
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string, logger *logging.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger.WithComponent("ffmpeg"),
	}
}

// WithTempDir sets where intermediate files such as sampled frames are written
func (f *FFmpeg) WithTempDir(dir string) *FFmpeg {
	f.tempDir = dir
	return f
}

// Path returns the ffmpeg binary
func (f *FFmpeg) Path() string {
	return f.ffmpegPath
}

// probeOutput holds the parts of ffprobe's JSON we read
type probeOutput struct {
	Format struct {
		Filename   string `json:"filename"`
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// Probe extracts media information with ffprobe
func (f *FFmpeg) Probe(ctx context.Context, path string) (*models.MediaInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, exporterr.Cancelled("probe", ctx.Err())
		}
		return nil, exporterr.Fatal("probe", fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String())))
	}
	return parseProbe(path, stdout.Bytes())
}

func parseProbe(path string, data []byte) (*models.MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, exporterr.Fatal("probe", fmt.Errorf("failed to parse ffprobe output: %w", err))
	}

	info := &models.MediaInfo{Path: path, Format: out.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	info.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	info.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width, info.Height = s.Width, s.Height
			info.VideoCodec = s.CodecName
			info.FrameRate = parseRate(s.AvgFrameRate)
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = s.CodecName
			}
		}
	}
	if !info.HasVideo && !info.HasAudio {
		return nil, exporterr.Fatal("probe", fmt.Errorf("%s does not contain any audio or video stream", path))
	}
	return info, nil
}

func parseRate(s string) float64 {
	n, d, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	numer, _ := strconv.ParseFloat(n, 64)
	den, _ := strconv.ParseFloat(d, 64)
	if den == 0 {
		return 0
	}
	return numer / den
}

// Run executes every pass of inv, reporting progress as it goes. Frames go to
// a hidden partial file that is renamed onto the output once every pass has
// succeeded, so a failed or cancelled run never touches an existing file. On
// failure the partial file and any pass logs are removed.
func (f *FFmpeg) Run(ctx context.Context, jobID string, inv *Invocation, progress func(Progress)) error {
	if dir := filepath.Dir(inv.Output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return exporterr.Transient("run", fmt.Errorf("failed to create output directory: %w", err))
		}
	}
	if !inv.Overwrite {
		if _, err := os.Stat(inv.Output); err == nil {
			return exporterr.Fatal("run", fmt.Errorf("output %s already exists", inv.Output))
		}
	}

	work := *inv
	work.Output = partialPath(inv.Output, jobID)
	removeFile(work.Output)

	for pass := 1; pass <= work.Passes(); pass++ {
		if err := f.runPass(ctx, jobID, &work, pass, progress); err != nil {
			cleanupOutputs(&work)
			return err
		}
	}
	if work.TwoPass {
		removePassLogs(work.PassLog)
	}
	return f.commit(&work, inv)
}

// commit moves a finished partial file onto the requested output
func (f *FFmpeg) commit(work, inv *Invocation) error {
	if !inv.Overwrite {
		if _, err := os.Stat(inv.Output); err == nil {
			removeFile(work.Output)
			return exporterr.Fatal("run", fmt.Errorf("output %s appeared while rendering", inv.Output))
		}
	}
	if err := os.Rename(work.Output, inv.Output); err != nil {
		removeFile(work.Output)
		return exporterr.Transient("run", fmt.Errorf("failed to move output into place: %w", err))
	}
	return nil
}

// partialPath names the in-progress file for output. The extension is kept so
// ffmpeg still picks the muxer from it.
func partialPath(output, jobID string) string {
	if jobID == "" {
		jobID = "run"
	}
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(filepath.Base(output), ext)
	return filepath.Join(filepath.Dir(output), "."+stem+"."+jobID+".partial"+ext)
}

func (f *FFmpeg) runPass(ctx context.Context, jobID string, inv *Invocation, pass int, progress func(Progress)) error {
	args := inv.Args(pass)
	f.logger.LogCommand(jobID, f.ffmpegPath, args)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return exporterr.Transient("run", fmt.Errorf("failed to create stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return exporterr.Transient("run", fmt.Errorf("failed to create stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return exporterr.Fatal("run", fmt.Errorf("failed to start ffmpeg: %w", err))
		}
		return exporterr.Transient("run", fmt.Errorf("failed to start ffmpeg: %w", err))
	}

	parser := newProgressParser(inv.Duration, pass, inv.Passes())
	tail := newTailBuffer(20)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = parseProgress(stdout, parser, progress)
	}()
	go func() {
		defer wg.Done()
		tail.consume(stderr)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return exporterr.Cancelled("run", ctx.Err())
		}
		return classify(fmt.Errorf("ffmpeg pass %d failed: %w: %s", pass, err, tail.String()), tail.String())
	}
	return nil
}

// fatalMarkers are stderr fragments that will fail the same way on retry
var fatalMarkers = []string{
	"No such file or directory",
	"Invalid data found when processing input",
	"Unknown encoder",
	"Encoder not found",
	"does not contain any stream",
	"Unrecognized option",
	"Error initializing filter",
	"Invalid argument",
	"Permission denied",
	"already exists",
}

// classify maps an ffmpeg failure to an error kind based on its stderr
func classify(err error, stderr string) error {
	for _, m := range fatalMarkers {
		if strings.Contains(stderr, m) {
			return exporterr.Fatal("run", err)
		}
	}
	return exporterr.Transient("run", err)
}

// cleanupOutputs removes what a failed run of inv wrote
func cleanupOutputs(inv *Invocation) {
	removeFile(inv.Output)
	if inv.TwoPass {
		removePassLogs(inv.PassLog)
	}
}

func removePassLogs(prefix string) {
	matches, _ := filepath.Glob(prefix + "*")
	for _, m := range matches {
		removeFile(m)
	}
}

// tailBuffer keeps the last n lines written to it
type tailBuffer struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.add(scanner.Text())
	}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
