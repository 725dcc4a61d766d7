package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/queue"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

type exportRequest struct {
	ID       models.JobID          `json:"id"`
	Kind     models.JobKind        `json:"kind"`
	Source   string                `json:"source"`
	Timeline *models.TimelineRef   `json:"timeline"`
	Settings models.ExportSettings `json:"settings"`
	Output   models.OutputSpec     `json:"output"`
	Options  models.JobOptions     `json:"options"`
}

func (r exportRequest) job() (*models.ExportJob, error) {
	if r.Source == "" && r.Timeline == nil {
		return nil, errors.New("either source or timeline is required")
	}
	return &models.ExportJob{
		ID:       r.ID,
		Kind:     r.Kind,
		Source:   r.Source,
		Timeline: r.Timeline,
		Settings: r.Settings,
		Output:   r.Output,
		Options:  r.Options,
	}, nil
}

type batchRequest struct {
	Jobs []exportRequest `json:"jobs" binding:"required,min=1"`
}

// progressResponse is the latest known progress of a job. Latest is only set
// when the event came from the cache or a running job.
type progressResponse struct {
	JobID           models.JobID          `json:"job_id"`
	Status          models.JobStatus      `json:"status,omitempty"`
	ProgressPercent float64               `json:"progress_percent"`
	Latest          *models.ProgressEvent `json:"latest,omitempty"`
	Source          string                `json:"source"`
}

// Create export job endpoint
func (api *API) createExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	job, err := req.job()
	if err != nil {
		badRequest(c, err)
		return
	}

	created, err := api.queue.Enqueue(c.Request.Context(), job)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, created)
}

// Create a batch of export jobs; either all are admitted or none
func (api *API) createBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	jobs := make([]*models.ExportJob, 0, len(req.Jobs))
	for _, r := range req.Jobs {
		job, err := r.job()
		if err != nil {
			badRequest(c, err)
			return
		}
		jobs = append(jobs, job)
	}

	batchID, created, err := api.queue.EnqueueBatch(c.Request.Context(), jobs)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batchID,
		"jobs":     created,
	})
}

// Plan returns the ffmpeg command an export would run without queueing it
func (api *API) planExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	job, err := req.job()
	if err != nil {
		badRequest(c, err)
		return
	}
	if job.ID == "" {
		job.ID = models.JobID(uuid.New().String())
	}

	inv, err := api.exports.Plan(c.Request.Context(), job)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"command":      inv.String(),
		"passes":       inv.Passes(),
		"filter_graph": inv.FilterGraph,
		"output":       inv.Output,
		"duration":     inv.Duration,
	})
}

// List export jobs, optionally filtered by status or batch
func (api *API) listExports(c *gin.Context) {
	filter := queue.Filter{
		Status:  models.JobStatus(c.Query("status")),
		BatchID: c.Query("batch_id"),
	}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	jobs, err := api.queue.List(c.Request.Context(), filter)
	if err != nil {
		api.fail(c, err)
		return
	}
	if jobs == nil {
		jobs = []*models.ExportJob{}
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Get export job endpoint
func (api *API) getExport(c *gin.Context) {
	job, err := api.queue.Get(c.Request.Context(), models.JobID(c.Param("id")))
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Get export progress. Redis holds the latest event of running jobs; the
// queue is the fallback and the only source for queued jobs.
func (api *API) getProgress(c *gin.Context) {
	ctx := c.Request.Context()
	id := models.JobID(c.Param("id"))

	if api.cache != nil {
		ev, err := api.cache.GetProgress(ctx, id)
		if err != nil {
			api.logger.WithJobID(id.String()).WarnWithErr("Progress cache read failed", err)
		} else if ev != nil {
			c.JSON(http.StatusOK, progressResponse{
				JobID:           id,
				Status:          statusForStage(ev.Stage),
				ProgressPercent: ev.ProgressPercent,
				Latest:          ev,
				Source:          "cache",
			})
			return
		}
	}

	job, err := api.queue.Get(ctx, id)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, progressResponse{
		JobID:           id,
		Status:          job.Status,
		ProgressPercent: job.Progress,
		Source:          "queue",
	})
}

func statusForStage(stage models.Stage) models.JobStatus {
	switch stage {
	case models.StageComplete:
		return models.JobStatusCompleted
	case models.StageFailed:
		return models.JobStatusFailed
	case models.StageCancelled:
		return models.JobStatusCancelled
	}
	return models.JobStatusProcessing
}

// Stream progress events of one job as server-sent events until it reaches
// a terminal stage or the client goes away
func (api *API) streamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := models.JobID(c.Param("id"))

	job, err := api.queue.Get(ctx, id)
	if err != nil {
		api.fail(c, err)
		return
	}

	events, unsubscribe, err := api.queue.Subscribe(ctx, 256)
	if err != nil {
		api.fail(c, err)
		return
	}
	defer unsubscribe()

	c.SSEvent("job", job)
	if job.Status.Terminal() && job.NextRetryAt == nil {
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if ev.JobID != id {
				return true
			}
			c.SSEvent("progress", ev)
			switch ev.Stage {
			case models.StageComplete, models.StageCancelled:
				return false
			case models.StageFailed:
				// keep streaming only while an automatic retry is pending
				current, err := api.queue.Get(ctx, id)
				return err == nil && current.NextRetryAt != nil
			}
			return true
		}
	})
}

// Cancel export job endpoint
func (api *API) cancelExport(c *gin.Context) {
	job, err := api.queue.Cancel(c.Request.Context(), models.JobID(c.Param("id")))
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Retry a failed export job
func (api *API) retryExport(c *gin.Context) {
	job, err := api.queue.Retry(c.Request.Context(), models.JobID(c.Param("id")))
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (api *API) queueStats(c *gin.Context) {
	stats, err := api.queue.Stats(c.Request.Context())
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (api *API) pauseQueue(c *gin.Context) {
	if err := api.queue.Pause(c.Request.Context()); err != nil {
		api.fail(c, err)
		return
	}
	api.queueStats(c)
}

func (api *API) resumeQueue(c *gin.Context) {
	if err := api.queue.Resume(c.Request.Context()); err != nil {
		api.fail(c, err)
		return
	}
	api.queueStats(c)
}

func (api *API) clearQueue(c *gin.Context) {
	n, err := api.queue.ClearQueued(c.Request.Context())
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (api *API) listPresets(c *gin.Context) {
	presets := api.presets.List()
	c.JSON(http.StatusOK, gin.H{
		"presets": presets,
		"count":   len(presets),
	})
}

func (api *API) getPreset(c *gin.Context) {
	p, err := api.presets.Get(c.Param("id"))
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Estimate output size and processing time of a render with a preset
func (api *API) estimatePreset(c *gin.Context) {
	var req struct {
		Duration float64 `json:"duration" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := api.presets.Get(c.Param("id"))
	if err != nil {
		api.fail(c, err)
		return
	}
	report, err := preset.Validate(p, req.Duration, 0)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
