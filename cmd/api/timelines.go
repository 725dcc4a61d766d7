package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/timeline"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

type trackPatch struct {
	Name    *string  `json:"name"`
	Enabled *bool    `json:"enabled"`
	Locked  *bool    `json:"locked"`
	Volume  *float64 `json:"volume"`
	Opacity *float64 `json:"opacity"`
}

type clipPatch struct {
	TimelineStart *float64         `json:"timeline_start"`
	Duration      *float64         `json:"duration"`
	SourceStart   *float64         `json:"source_start"`
	SourceEnd     *float64         `json:"source_end"`
	Volume        *float64         `json:"volume"`
	Opacity       *float64         `json:"opacity"`
	Effects       *[]models.Effect `json:"effects"`
	Locked        *bool            `json:"locked"`
}

// edit runs fn against the timeline named in the path and writes the result
// produced by fn, or the error
func (api *API) edit(c *gin.Context, status int, fn func(ed *timeline.Editor) (interface{}, error)) {
	var out interface{}
	_, err := api.timelines.Edit(c.Request.Context(), c.Param("id"), func(ed *timeline.Editor) error {
		var err error
		out, err = fn(ed)
		return err
	})
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(status, out)
}

func (api *API) createTimeline(c *gin.Context) {
	var tl models.Timeline
	if err := c.ShouldBindJSON(&tl); err != nil {
		badRequest(c, err)
		return
	}
	created, err := api.timelines.Create(c.Request.Context(), &tl)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (api *API) getTimeline(c *gin.Context) {
	tl, err := api.timelines.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timeline": tl,
		"duration": tl.Duration(),
	})
}

// Render one track as a CMX3600 edit decision list
func (api *API) timelineEDL(c *gin.Context) {
	tl, err := api.timelines.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.fail(c, err)
		return
	}
	trackID := c.Query("track")
	if trackID == "" {
		for _, t := range tl.Tracks {
			if t.Kind == models.TrackKindVideo {
				trackID = t.ID
				break
			}
		}
	}
	title := c.DefaultQuery("title", tl.Name)

	edl, err := timeline.EDL(tl, trackID, title)
	if err != nil {
		api.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+tl.ID+`.edl"`)
	c.String(http.StatusOK, edl)
}

func (api *API) addTrack(c *gin.Context) {
	var track models.Track
	if err := c.ShouldBindJSON(&track); err != nil {
		badRequest(c, err)
		return
	}
	api.edit(c, http.StatusCreated, func(ed *timeline.Editor) (interface{}, error) {
		return ed.AddTrack(track)
	})
}

func (api *API) updateTrack(c *gin.Context) {
	var p trackPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	api.edit(c, http.StatusOK, func(ed *timeline.Editor) (interface{}, error) {
		return ed.UpdateTrack(c.Param("track"), timeline.TrackUpdate{
			Name:    p.Name,
			Enabled: p.Enabled,
			Locked:  p.Locked,
			Volume:  p.Volume,
			Opacity: p.Opacity,
		})
	})
}

func (api *API) addClip(c *gin.Context) {
	var clip models.Clip
	if err := c.ShouldBindJSON(&clip); err != nil {
		badRequest(c, err)
		return
	}
	api.edit(c, http.StatusCreated, func(ed *timeline.Editor) (interface{}, error) {
		return ed.AddClip(c.Param("track"), clip)
	})
}

func (api *API) updateClip(c *gin.Context) {
	var p clipPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	api.edit(c, http.StatusOK, func(ed *timeline.Editor) (interface{}, error) {
		return ed.UpdateClip(c.Param("track"), c.Param("clip"), timeline.ClipUpdate{
			TimelineStart: p.TimelineStart,
			Duration:      p.Duration,
			SourceStart:   p.SourceStart,
			SourceEnd:     p.SourceEnd,
			Volume:        p.Volume,
			Opacity:       p.Opacity,
			Effects:       p.Effects,
			Locked:        p.Locked,
		})
	})
}

func (api *API) deleteClip(c *gin.Context) {
	_, err := api.timelines.Edit(c.Request.Context(), c.Param("id"), func(ed *timeline.Editor) error {
		return ed.DeleteClip(c.Param("track"), c.Param("clip"))
	})
	if err != nil {
		api.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *API) splitClip(c *gin.Context) {
	var req struct {
		At float64 `json:"at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	api.edit(c, http.StatusOK, func(ed *timeline.Editor) (interface{}, error) {
		first, second, err := ed.SplitClip(c.Param("track"), c.Param("clip"), req.At)
		if err != nil {
			return nil, err
		}
		return gin.H{"clips": []models.Clip{first, second}}, nil
	})
}

func (api *API) mergeClips(c *gin.Context) {
	var req struct {
		First  string `json:"first" binding:"required"`
		Second string `json:"second" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	api.edit(c, http.StatusOK, func(ed *timeline.Editor) (interface{}, error) {
		return ed.MergeClips(c.Param("track"), req.First, req.Second)
	})
}
