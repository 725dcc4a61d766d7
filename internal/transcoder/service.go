package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Prober reads media properties
type Prober interface {
	Probe(ctx context.Context, path string) (*models.MediaInfo, error)
}

// Runner executes a synthesized invocation
type Runner interface {
	Run(ctx context.Context, jobID string, inv *Invocation, progress func(Progress)) error
}

// Cropper computes a crop keyframe track for a source
type Cropper interface {
	Analyze(ctx context.Context, source models.MediaInfo, aspect float64) ([]models.CropKeyframe, error)
}

// ObjectStore fetches bucket-hosted sources and uploads finished files
type ObjectStore interface {
	Fetch(ctx context.Context, source, dir string) (string, error)
	UploadFile(ctx context.Context, objectName, filePath string) (string, error)
}

// PresetResolver turns job settings into a concrete preset
type PresetResolver interface {
	Resolve(settings models.ExportSettings) (*models.ExportPreset, error)
}

// TimelineGetter loads a stored timeline snapshot
type TimelineGetter interface {
	Get(ctx context.Context, id string) (*models.Timeline, error)
}

// Deps are the collaborators of the export service. Cropper, Store and
// Timelines are optional.
type Deps struct {
	Presets   PresetResolver
	Prober    Prober
	Runner    Runner
	Cropper   Cropper
	Captions  *subtitle.Generator
	Store     ObjectStore
	Timelines TimelineGetter
	Logger    *logging.Logger
}

// Service runs export and caption jobs
type Service struct {
	cfg       config.TranscoderConfig
	outputDir string
	synth     *Synthesizer
	deps      Deps
	logger    *logging.Logger
}

// NewService creates the export service
func NewService(cfg config.TranscoderConfig, outputDir string, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Captions == nil {
		deps.Captions = subtitle.NewGenerator(nil, models.SubtitleStyle{})
	}
	if cfg.ProgressThreshold <= 0 {
		cfg.ProgressThreshold = 1
	}
	return &Service{
		cfg:       cfg,
		outputDir: outputDir,
		synth:     NewSynthesizer(cfg.FFmpegPath),
		deps:      deps,
		logger:    deps.Logger.WithComponent("export"),
	}
}

// HandleExport renders job and returns the produced result. Validation runs
// before any external process is started.
func (s *Service) HandleExport(ctx context.Context, job *models.ExportJob, progress chan<- models.ProgressEvent) (*models.JobResult, error) {
	span, ctx := tracing.StartSpan(ctx, "export.handle")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "job_id", job.ID.String())

	result, err := s.export(ctx, job, progress)
	if err != nil {
		tracing.LogError(span, err)
		metrics.RecordError("transcoder", string(exporterr.KindOf(err)))
	}
	return result, err
}

func (s *Service) export(ctx context.Context, job *models.ExportJob, progress chan<- models.ProgressEvent) (*models.JobResult, error) {
	started := time.Now()
	log := s.logger.WithJobID(job.ID.String())

	pl, err := s.prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	p, req, report := pl.preset, pl.req, pl.report

	workDir := filepath.Join(s.tempDir(), job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, exporterr.Transient("export", fmt.Errorf("failed to create work directory: %w", err))
	}
	defer os.RemoveAll(workDir)

	if req.Source != "" {
		s.emit(ctx, progress, job.ID, 0, "probing source")
		stage := time.Now()
		if req.Source, err = s.fetch(ctx, req.Source, workDir); err != nil {
			return nil, err
		}
		if req.SourceInfo, err = s.deps.Prober.Probe(ctx, req.Source); err != nil {
			return nil, err
		}
		metrics.RecordStage("probe", time.Since(stage).Seconds())
	}

	if report == nil {
		full, err := s.synth.Synthesize(req)
		if err != nil {
			return nil, err
		}
		if report, err = preset.Validate(p, full.Duration, 0); err != nil {
			return nil, err
		}
	}

	if err := s.analyzeCrop(ctx, log, &req, progress, job.ID); err != nil {
		return nil, err
	}

	var sidecar string
	if job.Options.IncludeSubtitles && len(job.Options.Transcript) > 0 {
		stage := time.Now()
		if sidecar, err = s.captions(&req, p, s.synth.OutputTranscript(req, job.Options.Transcript), report.Duration); err != nil {
			return nil, err
		}
		metrics.RecordStage("subtitles", time.Since(stage).Seconds())
	}

	req.PassLog = filepath.Join(workDir, "passlog")
	inv, err := s.synth.Synthesize(req)
	if err != nil {
		return nil, err
	}
	log.WithField("command", inv.String()).Debug("Synthesized ffmpeg invocation")

	s.emit(ctx, progress, job.ID, 0, "encoding")
	stage := time.Now()
	codec := ""
	if p.Video != nil {
		codec = p.Video.Codec
	}
	onProgress := Throttle(s.cfg.ProgressThreshold, func(pr Progress) {
		log.LogRenderProgress(job.ID.String(), pr.Percent, pr.FPS, pr.Speed)
		s.send(ctx, progress, progressEvent(job.ID, pr))
		if pr.Done {
			metrics.RecordEncodeSpeed(codec, pr.Speed)
		}
	})
	if err := s.deps.Runner.Run(ctx, job.ID.String(), inv, onProgress); err != nil {
		if sidecar != "" {
			removeFile(sidecar)
		}
		return nil, err
	}
	metrics.RecordStage("encode", time.Since(stage).Seconds())

	result, err := s.finish(ctx, job, p, inv, sidecar, report, progress)
	if err != nil {
		removeFile(inv.Output)
		removeFile(sidecar)
		if ctx.Err() != nil {
			return nil, exporterr.Cancelled("export", ctx.Err())
		}
		return nil, err
	}
	result.ProcessingTime = time.Since(started).Seconds()
	metrics.RecordOutput(p.ID, result.FileSize)
	log.LogJobEvent(job.ID.String(), "export_rendered", string(models.JobStatusCompleted), map[string]interface{}{
		"output":   result.OutputPath,
		"size":     result.FileSize,
		"duration": result.Duration,
		"warnings": len(result.Warnings),
	})
	return result, nil
}

// finish measures and uploads a rendered output. Any error leaves the caller
// to remove the files.
func (s *Service) finish(ctx context.Context, job *models.ExportJob, p *models.ExportPreset, inv *Invocation, sidecar string, report *preset.Report, progress chan<- models.ProgressEvent) (*models.JobResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(inv.Output)
	if err != nil {
		return nil, exporterr.Transient("export", fmt.Errorf("failed to stat output: %w", err))
	}

	result := &models.JobResult{
		OutputPath:   inv.Output,
		SubtitlePath: sidecar,
		Format:       p.Container(),
		FileSize:     info.Size(),
		Duration:     inv.Duration,
		Warnings:     append(append([]string(nil), report.Warnings...), preset.CheckOutputSize(p, info.Size())...),
	}
	if inv.Duration > 0 {
		result.Bitrate = int64(float64(info.Size()) * 8 / inv.Duration)
	}

	if s.deps.Store != nil {
		s.emit(ctx, progress, job.ID, 100, "uploading")
		stage := time.Now()
		key, err := s.deps.Store.UploadFile(ctx, objectKey(job.ID, inv.Output), inv.Output)
		if err != nil {
			return nil, exporterr.Transient("upload", err)
		}
		result.StorageKey = key
		if sidecar != "" {
			if _, err := s.deps.Store.UploadFile(ctx, objectKey(job.ID, sidecar), sidecar); err != nil {
				return nil, exporterr.Transient("upload", err)
			}
		}
		metrics.RecordStage("upload", time.Since(stage).Seconds())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// plan is the part of an export that is known before the source is touched
type plan struct {
	preset *models.ExportPreset
	req    Request
	report *preset.Report
}

// prepare resolves the preset and timeline and runs a dry synthesis. The dry
// run catches structural problems and gives the duration of timeline and
// ranged exports without touching the source.
func (s *Service) prepare(ctx context.Context, job *models.ExportJob) (*plan, error) {
	p, err := s.deps.Presets.Resolve(job.Settings)
	if err != nil {
		return nil, err
	}
	tl, err := s.timeline(ctx, job)
	if err != nil {
		return nil, err
	}

	output, err := s.outputPath(job, p.Container())
	if err != nil {
		return nil, err
	}
	if !job.Output.Overwrite {
		if err := refuseExisting(output); err != nil {
			return nil, err
		}
		if sidecar := sidecarPath(output, p); sidecar != "" && job.Options.IncludeSubtitles && len(job.Options.Transcript) > 0 {
			if err := refuseExisting(sidecar); err != nil {
				return nil, err
			}
		}
	}

	req := Request{
		Source:    job.Source,
		Timeline:  tl,
		Preset:    p,
		Watermark: job.Options.Watermark,
		FontFile:  s.cfg.FontFile,
		Output:    output,
		Overwrite: job.Output.Overwrite,
	}
	if ref := job.Timeline; ref != nil {
		req.TrackIDs, req.RangeStart, req.RangeEnd = ref.TrackIDs, ref.RangeStart, ref.RangeEnd
	}

	dry, err := s.synth.Synthesize(req)
	if err != nil {
		return nil, err
	}
	pl := &plan{preset: p, req: req}
	if dry.Duration > 0 {
		if pl.report, err = preset.Validate(p, dry.Duration, 0); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

// Validate runs every check that needs no external process, so that invalid
// jobs are rejected at admission
func (s *Service) Validate(ctx context.Context, job *models.ExportJob) error {
	if job.Kind == models.JobKindCaptions {
		format, _, err := s.captionSetup(job)
		if err != nil {
			return err
		}
		_, err = s.captionTarget(job, format)
		return err
	}
	_, err := s.prepare(ctx, job)
	return err
}

// Plan synthesizes the ffmpeg invocation a job would run without running it.
// Local sources are probed; burned captions become overlays, sidecar captions
// are left out.
func (s *Service) Plan(ctx context.Context, job *models.ExportJob) (*Invocation, error) {
	pl, err := s.prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	req := pl.req
	if req.Source != "" {
		if strings.HasPrefix(req.Source, "s3://") {
			return nil, exporterr.Validationf("plan needs a local source, got %s", req.Source)
		}
		if req.SourceInfo, err = s.deps.Prober.Probe(ctx, req.Source); err != nil {
			return nil, err
		}
	}
	full, err := s.synth.Synthesize(req)
	if err != nil {
		return nil, err
	}
	if _, err := preset.Validate(pl.preset, full.Duration, 0); err != nil {
		return nil, err
	}
	if err := s.analyzeCrop(ctx, s.logger.WithJobID(job.ID.String()), &req, nil, job.ID); err != nil {
		return nil, err
	}
	if pl.preset.Subtitles != nil && pl.preset.Subtitles.Format == models.SubtitleFormatBurned && len(job.Options.Transcript) > 0 {
		if _, err := s.captions(&req, pl.preset, s.synth.OutputTranscript(req, job.Options.Transcript), full.Duration); err != nil {
			return nil, err
		}
	}
	req.PassLog = filepath.Join(s.tempDir(), job.ID.String(), "passlog")
	return s.synth.Synthesize(req)
}

// HandleCaptions writes a sidecar caption file for the job's transcript
func (s *Service) HandleCaptions(ctx context.Context, job *models.ExportJob, progress chan<- models.ProgressEvent) (*models.JobResult, error) {
	span, ctx := tracing.StartSpan(ctx, "captions.handle")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "job_id", job.ID.String())

	started := time.Now()
	format, gen, err := s.captionSetup(job)
	if err != nil {
		return nil, err
	}
	path, err := s.captionTarget(job, format)
	if err != nil {
		return nil, err
	}

	var mediaDuration float64
	if job.Source != "" {
		workDir := filepath.Join(s.tempDir(), job.ID.String())
		defer os.RemoveAll(workDir)
		source, err := s.fetch(ctx, job.Source, workDir)
		if err != nil {
			return nil, err
		}
		info, err := s.deps.Prober.Probe(ctx, source)
		if err != nil {
			return nil, err
		}
		mediaDuration = info.Duration
	}

	s.emit(ctx, progress, job.ID, 0, "writing captions")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, exporterr.Transient("captions", err)
	}
	if err := gen.WriteFile(path, job.Options.Transcript, format, mediaDuration); err != nil {
		if exporterr.IsValidation(err) {
			return nil, err
		}
		return nil, exporterr.Transient("captions", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, exporterr.Transient("captions", err)
	}

	result := &models.JobResult{
		OutputPath:   path,
		SubtitlePath: path,
		Format:       string(format),
		FileSize:     info.Size(),
		Duration:     mediaDuration,
	}
	if s.deps.Store != nil {
		key, err := s.deps.Store.UploadFile(ctx, objectKey(job.ID, path), path)
		if err != nil {
			return nil, exporterr.Transient("upload", err)
		}
		result.StorageKey = key
	}
	result.ProcessingTime = time.Since(started).Seconds()
	s.emit(ctx, progress, job.ID, 100, "captions written")
	return result, nil
}

// captionSetup picks the sidecar format and styled generator for a caption job
func (s *Service) captionSetup(job *models.ExportJob) (models.SubtitleFormat, *subtitle.Generator, error) {
	if len(job.Options.Transcript) == 0 {
		return "", nil, exporterr.Validationf("caption job %s has no transcript", job.ID)
	}

	format := models.SubtitleFormatSRT
	gen := s.deps.Captions
	if job.Settings.Preset != nil || job.Settings.PresetID != "" {
		p, err := s.deps.Presets.Resolve(job.Settings)
		if err != nil {
			return "", nil, err
		}
		if p.Subtitles != nil {
			format = p.Subtitles.Format
			gen = gen.WithStyle(p.Subtitles.Style)
		}
		if p.Video != nil {
			gen = gen.WithResolution(p.Video.Width, p.Video.Height)
		}
	}
	if format == models.SubtitleFormatBurned {
		return "", nil, exporterr.Validationf("caption jobs produce sidecar files; burned captions need an export job")
	}
	return format, gen, nil
}

// captionTarget is the sidecar path a caption job writes
func (s *Service) captionTarget(job *models.ExportJob, format models.SubtitleFormat) (string, error) {
	path, err := s.outputPath(job, strings.TrimPrefix(format.Extension(), "."))
	if err != nil {
		return "", err
	}
	if !job.Output.Overwrite {
		if err := refuseExisting(path); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (s *Service) timeline(ctx context.Context, job *models.ExportJob) (*models.Timeline, error) {
	ref := job.Timeline
	if ref == nil {
		if job.Source == "" {
			return nil, exporterr.Validationf("job %s needs a source or a timeline", job.ID)
		}
		return nil, nil
	}
	if ref.Timeline != nil {
		return ref.Timeline, nil
	}
	if s.deps.Timelines == nil || ref.TimelineID == "" {
		return nil, exporterr.Validationf("job %s references a timeline that cannot be loaded", job.ID)
	}
	tl, err := s.deps.Timelines.Get(ctx, ref.TimelineID)
	if err != nil {
		if errors.Is(err, exporterr.ErrNotFound) {
			return nil, exporterr.Validation("load timeline", err)
		}
		return nil, err
	}
	return tl, nil
}

func (s *Service) fetch(ctx context.Context, source, dir string) (string, error) {
	if s.deps.Store == nil {
		if strings.HasPrefix(source, "s3://") {
			return "", exporterr.Fatal("fetch", fmt.Errorf("source %s needs object storage, which is not configured", source))
		}
		return source, nil
	}
	local, err := s.deps.Store.Fetch(ctx, source, dir)
	if err != nil {
		return "", exporterr.Transient("fetch", err)
	}
	return local, nil
}

// analyzeCrop fills req.Keyframes when the preset asks for subject tracking.
// Analysis failures fall back to the static center crop.
func (s *Service) analyzeCrop(ctx context.Context, log *logging.Logger, req *Request, progress chan<- models.ProgressEvent, id models.JobID) error {
	p := req.Preset
	if s.deps.Cropper == nil || p.Video == nil || p.Processing == nil || !(p.Processing.AutoCrop || p.Processing.FaceTracking) {
		return nil
	}
	if req.SourceInfo == nil || !req.SourceInfo.HasVideo {
		return nil
	}
	aspect := (&build{req: *req}).targetAspect()
	if aspect <= 0 {
		return nil
	}

	s.emit(ctx, progress, id, 0, "analyzing crop")
	span, ctx := tracing.StartSpan(ctx, "export.autocrop")
	defer tracing.FinishSpan(span)
	stage := time.Now()

	keyframes, err := s.deps.Cropper.Analyze(ctx, *req.SourceInfo, aspect)
	if err != nil {
		if exporterr.KindOf(err) == exporterr.KindCancelled {
			return err
		}
		tracing.LogError(span, err)
		log.WarnWithErr("Auto-crop failed, using center crop", err)
		return nil
	}
	tracing.SetTag(span, "keyframes", len(keyframes))
	metrics.RecordStage("autocrop", time.Since(stage).Seconds())
	req.Keyframes = keyframes
	return nil
}

// captions burns overlays into req or writes a sidecar next to the output
func (s *Service) captions(req *Request, p *models.ExportPreset, transcript []models.SubtitleSegment, duration float64) (string, error) {
	format := models.SubtitleFormatSRT
	gen := s.deps.Captions
	if p.Subtitles != nil {
		format = p.Subtitles.Format
		gen = gen.WithStyle(p.Subtitles.Style)
	}
	if p.Video != nil {
		gen = gen.WithResolution(p.Video.Width, p.Video.Height)
	}

	if format == models.SubtitleFormatBurned {
		overlays, err := gen.Overlays(transcript, duration)
		if err != nil {
			return "", err
		}
		req.Captions = overlays
		return "", nil
	}

	path := sidecarPath(req.Output, p)
	if !req.Overwrite {
		if err := refuseExisting(path); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", exporterr.Transient("captions", err)
	}
	if err := gen.WriteFile(path, transcript, format, duration); err != nil {
		if exporterr.IsValidation(err) {
			return "", err
		}
		return "", exporterr.Transient("captions", err)
	}
	return path, nil
}

// outputPath places a job's file in the output directory. A requested
// subdirectory must stay below it.
func (s *Service) outputPath(job *models.ExportJob, ext string) (string, error) {
	dir := s.outputDir
	if sub := job.Output.Directory; sub != "" {
		if !filepath.IsLocal(sub) {
			return "", exporterr.Validationf("output directory %q must be a relative path inside the export directory", sub)
		}
		dir = filepath.Join(dir, sub)
	}
	name := job.Output.Filename
	if name == "" {
		name = job.ID.String() + "." + ext
	} else if filepath.Ext(name) == "" || ext != "" && job.Kind == models.JobKindCaptions {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + "." + ext
	}
	name = filepath.Base(name)
	if !filepath.IsLocal(name) {
		return "", exporterr.Validationf("invalid output filename %q", job.Output.Filename)
	}
	return filepath.Join(dir, name), nil
}

// sidecarPath is where a preset's caption file lands next to output; empty
// when captions are burned
func sidecarPath(output string, p *models.ExportPreset) string {
	format := models.SubtitleFormatSRT
	if p.Subtitles != nil {
		format = p.Subtitles.Format
	}
	if format == models.SubtitleFormatBurned {
		return ""
	}
	return strings.TrimSuffix(output, filepath.Ext(output)) + format.Extension()
}

// refuseExisting fails when path is already taken
func refuseExisting(path string) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return exporterr.Validationf("output %s already exists; set overwrite to replace it", path)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return exporterr.Transient("output", err)
	}
}

func (s *Service) tempDir() string {
	if s.cfg.TempDir != "" {
		return s.cfg.TempDir
	}
	return os.TempDir()
}

func (s *Service) emit(ctx context.Context, ch chan<- models.ProgressEvent, id models.JobID, percent float64, op string) {
	s.send(ctx, ch, models.ProgressEvent{
		JobID:            id,
		Stage:            models.StageProcessing,
		ProgressPercent:  percent,
		CurrentOperation: op,
		Timestamp:        time.Now(),
	})
}

func (s *Service) send(ctx context.Context, ch chan<- models.ProgressEvent, ev models.ProgressEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func progressEvent(id models.JobID, p Progress) models.ProgressEvent {
	frame, fps, speed := p.Frame, p.FPS, p.Speed
	return models.ProgressEvent{
		JobID:            id,
		Stage:            models.StageProcessing,
		ProgressPercent:  p.Percent,
		CurrentOperation: fmt.Sprintf("encoding pass %d", p.Pass),
		ProcessedFrames:  &frame,
		FPS:              &fps,
		Bitrate:          p.Bitrate,
		SpeedMultiplier:  &speed,
		Timestamp:        time.Now(),
	}
}

func objectKey(id models.JobID, path string) string {
	return filepath.ToSlash(filepath.Join("exports", id.String(), filepath.Base(path)))
}
