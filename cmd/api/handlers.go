package main

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/progress"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/service"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// API bundles the handler dependencies
type API struct {
	svc *service.DownloadService
	bus *progress.Bus
}

type submitPayload struct {
	URL                  string  `json:"url" binding:"required"`
	Format               string  `json:"format" binding:"required"`
	Items                []int   `json:"items"`
	InterItemDelaySecond *int    `json:"interItemDelaySeconds"`
	Cookies              *string `json:"cookies"`
}

// createDownload accepts a new download job
func (api *API) createDownload(c *gin.Context) {
	var payload submitPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.JobError{
			Code:        models.ErrInvalidURL,
			Message:     err.Error(),
			Remediation: "Send url and format fields in the request body",
		}})
		return
	}

	req := service.SubmitRequest{
		SourceURL:     payload.URL,
		Format:        models.Format(payload.Format),
		ItemSelection: payload.Items,
	}
	if payload.InterItemDelaySecond != nil {
		delay := time.Duration(*payload.InterItemDelaySecond) * time.Second
		req.InterItemDelay = &delay
	}
	if payload.Cookies != nil {
		req.CookiesB64 = *payload.Cookies
	}

	job, err := api.svc.Submit(c.Request.Context(), req)
	if err != nil {
		writeJobError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// getDownload returns the current job snapshot
func (api *API) getDownload(c *gin.Context) {
	job, ok := api.svc.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// listDownloads returns all jobs, newest first
func (api *API) listDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": api.svc.Jobs()})
}

// getProgress returns the latest progress snapshot, or streams updates as
// server-sent events when ?stream=true
func (api *API) getProgress(c *gin.Context) {
	jobID := c.Param("id")

	if c.Query("stream") == "true" {
		api.streamProgress(c, jobID)
		return
	}

	state, ok := api.bus.Latest(jobID)
	if !ok {
		if _, exists := api.svc.Job(jobID); !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "progress expired"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// streamProgress pushes progress states over SSE until the job reaches a
// terminal state or the client disconnects
func (api *API) streamProgress(c *gin.Context, jobID string) {
	if _, ok := api.svc.Job(jobID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	sub := api.bus.Subscribe(jobID)
	defer api.bus.Unsubscribe(jobID, sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case state, open := <-sub:
			if !open {
				return false
			}
			c.SSEvent("progress", state)
			return !state.Status.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// cancelDownload cancels a running job
func (api *API) cancelDownload(c *gin.Context) {
	if err := api.svc.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// getFile serves a produced artifact. With no artifact parameter the first
// artifact is served; playlists expose their archive by its artifactId.
func (api *API) getFile(c *gin.Context) {
	job, ok := api.svc.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if len(job.Artifacts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no artifacts for this job"})
		return
	}

	artifact := job.Artifacts[0]
	if wanted := c.Query("artifact"); wanted != "" {
		found := false
		for _, a := range job.Artifacts {
			if a.ArtifactID == wanted {
				artifact = a
				found = true
				break
			}
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
	}

	if artifact.Expired(time.Now()) {
		c.JSON(http.StatusGone, gin.H{"error": "artifact has expired"})
		return
	}

	c.FileAttachment(artifact.Path, filepath.Base(artifact.Path))
}

// healthCheck reports liveness
func (api *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// writeJobError maps structured errors onto HTTP status codes
func writeJobError(c *gin.Context, err error) {
	var jobErr *models.JobError
	if !errors.As(err, &jobErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadRequest
	switch jobErr.Code {
	case models.ErrAuthRequired:
		status = http.StatusUnauthorized
	case models.ErrDiskSpaceLow:
		status = http.StatusServiceUnavailable
	case models.ErrPlatformThrottled:
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": jobErr})
}
