package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/cache"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/database"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/queue"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/timeline"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

type stubProber struct{}

func (stubProber) Probe(_ context.Context, path string) (*models.MediaInfo, error) {
	return &models.MediaInfo{
		Path: path, Duration: 120, Width: 1920, Height: 1080, FrameRate: 30,
		HasVideo: true, HasAudio: true, VideoCodec: "h264", AudioCodec: "aac",
	}, nil
}

// stubRunner writes a small output file. Jobs whose output name contains
// "hold" block until cancelled.
type stubRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *stubRunner) Run(ctx context.Context, jobID string, inv *transcoder.Invocation, progress func(transcoder.Progress)) error {
	r.mu.Lock()
	r.runs = append(r.runs, jobID)
	r.mu.Unlock()

	if strings.Contains(inv.Output, "hold") {
		progress(transcoder.Progress{Percent: 10, Pass: 1})
		<-ctx.Done()
		return ctx.Err()
	}
	progress(transcoder.Progress{Percent: 50, Pass: 1, Speed: 3})
	progress(transcoder.Progress{Percent: 100, Pass: 1, Speed: 3, Done: true})
	if err := os.MkdirAll(filepath.Dir(inv.Output), 0755); err != nil {
		return err
	}
	return os.WriteFile(inv.Output, make([]byte, 2048), 0644)
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type testServer struct {
	api    *API
	router *gin.Engine
	runner *stubRunner
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	store, err := database.OpenSQLite(ctx, filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	presets, err := preset.NewRegistry()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	progressCache, err := cache.NewCache(config.RedisConfig{Host: mr.Host(), Port: mr.Server().Addr().Port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = progressCache.Close() })

	runner := &stubRunner{}
	api := &API{
		store:   store,
		presets: presets,
		cache:   progressCache,
		logger:  logging.Nop(),
	}
	api.timelines = timeline.NewService(store, nil)
	api.exports = transcoder.NewService(config.TranscoderConfig{TempDir: filepath.Join(dir, "tmp")}, filepath.Join(dir, "out"), transcoder.Deps{
		Presets:   presets,
		Prober:    stubProber{},
		Runner:    runner,
		Timelines: api.timelines,
	})
	api.queue = queue.New(store, queue.Handlers{
		models.JobKindExport:   queue.HandlerFunc(api.exports.HandleExport),
		models.JobKindCaptions: queue.HandlerFunc(api.exports.HandleCaptions),
	}, queue.Config{MaxConcurrent: 2, RetryAttempts: 1, RetryDelay: 10 * time.Millisecond, PriorityLevels: 10},
		queue.WithValidator(api.exports.Validate),
		queue.WithProgressCache(progressCache),
	)
	require.NoError(t, api.queue.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = api.queue.Stop(stopCtx)
	})

	return &testServer{
		api:    api,
		router: setupRouter(ctx, api, config.RateLimitConfig{}),
		runner: runner,
		redis:  mr,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) waitForStatus(t *testing.T, id models.JobID, status models.JobStatus) *models.ExportJob {
	t.Helper()
	var job models.ExportJob
	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/api/v1/exports/"+id.String(), nil)
		if w.Code != http.StatusOK {
			return false
		}
		job = decode[models.ExportJob](t, w)
		return job.Status == status
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, status)
	return &job
}

func sourceClip(id string, start, duration float64) models.Clip {
	return models.Clip{ID: id, TimelineStart: start, Duration: duration, SourceStart: start, SourceEnd: start + duration, Volume: 1, Opacity: 1}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["cache"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestExportLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/exports", map[string]interface{}{
		"source":   "/media/interview.mp4",
		"settings": map[string]interface{}{"preset_id": "youtube"},
		"output":   map[string]interface{}{"filename": "interview.mp4"},
		"options":  map[string]interface{}{"priority": 7},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := decode[models.ExportJob](t, w)
	assert.Equal(t, models.JobStatusQueued, created.Status)
	assert.Equal(t, 7, created.Options.Priority)

	done := s.waitForStatus(t, created.ID, models.JobStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, int64(2048), done.Result.FileSize)
	assert.Equal(t, 100.0, done.Progress)

	// the terminal event reaches Redis asynchronously
	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/api/v1/exports/"+created.ID.String()+"/progress", nil)
		p := decode[progressResponse](t, w)
		return p.Source == "cache" && p.Status == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	s.redis.FlushAll()
	w = s.do(t, http.MethodGet, "/api/v1/exports/"+created.ID.String()+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[progressResponse](t, w)
	assert.Equal(t, "queue", p.Source)
	assert.Equal(t, models.JobStatusCompleted, p.Status)

	w = s.do(t, http.MethodPost, "/api/v1/exports/"+created.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "completed jobs cannot be cancelled")
	w = s.do(t, http.MethodPost, "/api/v1/exports/"+created.ID.String()+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExportRejectedAtAdmission(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/timelines", models.Timeline{
		ID: "long",
		Tracks: []models.Track{{
			ID: "v1", Kind: models.TrackKindVideo, Enabled: true, Volume: 1, Opacity: 1,
			Clips: []models.Clip{sourceClip("c1", 0, 65)},
		}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/exports", map[string]interface{}{
		"source":   "/media/long.mp4",
		"timeline": map[string]interface{}{"timeline_id": "long"},
		"settings": map[string]interface{}{"preset_id": "youtube-shorts"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[map[string]string](t, w)
	assert.Contains(t, body["error"], "exceeds")
	assert.Equal(t, "validation", body["kind"])

	w = s.do(t, http.MethodPost, "/api/v1/exports", map[string]interface{}{
		"source":   "/media/a.mp4",
		"settings": map[string]interface{}{"schema_version": 9, "preset_id": "youtube"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "newer settings schema is rejected while decoding")

	w = s.do(t, http.MethodPost, "/api/v1/exports", map[string]interface{}{
		"settings": map[string]interface{}{"preset_id": "youtube"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, s.runner.count())
	w = s.do(t, http.MethodGet, "/api/v1/exports", nil)
	assert.Equal(t, 0, int(decode[map[string]interface{}](t, w)["count"].(float64)))
}

func TestBatchIsAllOrNothing(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.api.queue.Pause(context.Background()))

	w := s.do(t, http.MethodPost, "/api/v1/exports/batch", map[string]interface{}{
		"jobs": []map[string]interface{}{
			{"source": "/media/a.mp4", "settings": map[string]interface{}{"preset_id": "tiktok"}},
			{"source": "/media/b.mp4", "settings": map[string]interface{}{"preset_id": "no-such-preset"}},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "job 1")

	w = s.do(t, http.MethodPost, "/api/v1/exports/batch", map[string]interface{}{
		"jobs": []map[string]interface{}{
			{"source": "/media/a.mp4", "settings": map[string]interface{}{"preset_id": "tiktok"}},
			{"source": "/media/b.mp4", "settings": map[string]interface{}{"preset_id": "instagram-reels"}},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	batch := decode[struct {
		BatchID string             `json:"batch_id"`
		Jobs    []models.ExportJob `json:"jobs"`
	}](t, w)
	require.Len(t, batch.Jobs, 2)
	assert.NotEmpty(t, batch.BatchID)

	w = s.do(t, http.MethodGet, "/api/v1/exports?batch_id="+batch.BatchID+"&status=queued", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode[map[string]interface{}](t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/v1/queue/stats", nil)
	stats := decode[models.QueueStats](t, w)
	assert.Equal(t, 2, stats.Queued)
	assert.True(t, stats.Paused)

	w = s.do(t, http.MethodDelete, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode[map[string]interface{}](t, w)["cleared"])

	w = s.do(t, http.MethodPost, "/api/v1/queue/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats = decode[models.QueueStats](t, w)
	assert.False(t, stats.Paused)
	assert.Equal(t, 2, stats.Cancelled)
	assert.Zero(t, s.runner.count())

	w = s.do(t, http.MethodGet, "/api/v1/exports?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelRunningExport(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/exports", map[string]interface{}{
		"id":       "hold-1",
		"source":   "/media/a.mp4",
		"settings": map[string]interface{}{"preset_id": "youtube"},
		"output":   map[string]interface{}{"filename": "hold.mp4"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	s.waitForStatus(t, "hold-1", models.JobStatusProcessing)

	w = s.do(t, http.MethodPost, "/api/v1/exports/hold-1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.JobStatusCancelled, decode[models.ExportJob](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/v1/exports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlanExport(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/exports/plan", map[string]interface{}{
		"source":   "/media/interview.mp4",
		"settings": map[string]interface{}{"preset_id": "youtube"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[map[string]interface{}](t, w)
	assert.Contains(t, plan["command"], "/media/interview.mp4")
	assert.Equal(t, 2.0, plan["passes"])
	assert.Zero(t, s.runner.count(), "planning never runs ffmpeg")

	w = s.do(t, http.MethodPost, "/api/v1/exports/plan", map[string]interface{}{
		"source":   "s3://bucket/interview.mp4",
		"settings": map[string]interface{}{"preset_id": "youtube"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPresetEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/presets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, decode[map[string]interface{}](t, w)["count"], 8.0)

	w = s.do(t, http.MethodGet, "/api/v1/presets/tiktok", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tiktok", decode[models.ExportPreset](t, w).ID)

	w = s.do(t, http.MethodPost, "/api/v1/presets/youtube/estimate", map[string]float64{"duration": 30})
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[preset.Report](t, w)
	assert.Equal(t, 30.0, report.Duration)
	assert.Positive(t, report.EstimatedFileSize)
	assert.Greater(t, report.EstimatedProcessingTime, 30.0, "two-pass costs more than real time")

	w = s.do(t, http.MethodPost, "/api/v1/presets/youtube-shorts/estimate", map[string]float64{"duration": 90})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/presets/youtube/estimate", map[string]float64{"duration": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/presets/vhs/estimate", map[string]float64{"duration": 10})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimelineEditing(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/timelines", models.Timeline{ID: "ep12", Name: "Episode 12"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/timelines/ep12/tracks", models.Track{
		ID: "v1", Kind: models.TrackKindVideo, Enabled: true, Volume: 1, Opacity: 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/timelines/ep12/tracks/v1/clips", sourceClip("c1", 0, 10))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/timelines/ep12/tracks/v1/clips", sourceClip("c2", 5, 10))
	assert.Equal(t, http.StatusConflict, w.Code, "overlapping clips are a conflict")

	w = s.do(t, http.MethodPost, "/api/v1/timelines/ep12/tracks/v1/clips/c1/split", map[string]float64{"at": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	split := decode[struct {
		Clips []models.Clip `json:"clips"`
	}](t, w)
	require.Len(t, split.Clips, 2)
	assert.Equal(t, 4.0, split.Clips[0].Duration)
	assert.Equal(t, 6.0, split.Clips[1].Duration)
	second := split.Clips[1].ID

	w = s.do(t, http.MethodGet, "/api/v1/timelines/ep12/edl", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "TITLE: Episode 12")

	w = s.do(t, http.MethodPost, "/api/v1/timelines/ep12/tracks/v1/merge", map[string]string{"first": "c1", "second": second})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 10.0, decode[models.Clip](t, w).Duration)

	locked := true
	w = s.do(t, http.MethodPatch, "/api/v1/timelines/ep12/tracks/v1/clips/c1", clipPatch{Locked: &locked})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodDelete, "/api/v1/timelines/ep12/tracks/v1/clips/c1", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "locked clips cannot be deleted")

	unlocked := false
	w = s.do(t, http.MethodPatch, "/api/v1/timelines/ep12/tracks/v1/clips/c1", clipPatch{Locked: &unlocked})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/v1/timelines/ep12/tracks/v1/clips/c1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/timelines/ep12", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Timeline models.Timeline `json:"timeline"`
		Duration float64         `json:"duration"`
	}](t, w)
	assert.Empty(t, got.Timeline.Tracks[0].Clips)
	assert.Zero(t, got.Duration)

	w = s.do(t, http.MethodGet, "/api/v1/timelines/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/timelines/ep12/tracks/v9/clips", sourceClip("c3", 0, 1))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
