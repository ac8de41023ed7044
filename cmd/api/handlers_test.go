package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/config"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/output"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/packager"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/progress"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/retry"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/service"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

const testURL = "https://www.youtube.com/watch?v=abc123"

type stubExtractor struct{}

func (stubExtractor) Resolve(ctx context.Context, sourceURL string, opts extractor.FetchOptions) (*extractor.Media, error) {
	return &extractor.Media{
		Title: "Clip",
		Items: []extractor.MediaItem{{ID: "v1", Index: 0, Title: "Clip", URL: sourceURL, TotalBytes: 1024}},
	}, nil
}

func (stubExtractor) Fetch(ctx context.Context, item extractor.MediaItem, destPath string, opts extractor.FetchOptions, fn extractor.ProgressFunc) error {
	if fn != nil {
		fn(1024, 1024)
	}
	return os.WriteFile(destPath, make([]byte, 1024), 0o644)
}

type stubTranscoder struct{}

func (stubTranscoder) Encode(ctx context.Context, inputPath, outputPath string, profile models.TranscodeProfile, cb transcoder.ProgressCallback) error {
	if cb != nil {
		cb(100)
	}
	return os.WriteFile(outputPath, make([]byte, 512), 0o644)
}

func (stubTranscoder) Duration(ctx context.Context, inputPath string) (float64, error) {
	return 60, nil
}

func newTestAPI(t *testing.T) (*API, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := logging.NewConsoleLogger()
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{RateLimitRPS: 100, RateLimitBurst: 100},
		Output: config.OutputConfig{
			RootDir:      t.TempDir(),
			MinFreeBytes: 1,
			ArtifactTTL:  24 * time.Hour,
		},
		Transcoder: config.TranscoderConfig{WorkerCount: 2, EncodeTimeout: time.Minute, MaxFilesizeMB: 50},
		Retry:      config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Playlist:   config.PlaylistConfig{InterItemDelay: time.Millisecond},
	}

	manager, err := output.New(cfg.Output, logger)
	require.NoError(t, err)

	bus := progress.NewBus(5 * time.Minute)
	queue := transcoder.NewQueue(stubTranscoder{}, bus, logger, 2, time.Minute)

	extractors := extractor.NewRegistry()
	extractors.Register(models.PlatformYouTube, stubExtractor{})

	svc := service.NewDownloadService(service.Options{
		Config:     cfg,
		Logger:     logger,
		Bus:        bus,
		Registry:   service.NewRegistry(),
		Output:     manager,
		Queue:      queue,
		Extractors: extractors,
		Packager:   packager.New(logger),
		Policy:     retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay),
	})
	t.Cleanup(svc.Close)

	api := &API{svc: svc, bus: bus}
	router := setupRouter(api, cfg, logger)
	return api, router
}

func submitJob(t *testing.T, router *gin.Engine, body string) models.DownloadJob {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/downloads", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var job models.DownloadJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func waitCompleted(t *testing.T, api *API, jobID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, ok := api.svc.Job(jobID)
		return ok && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCreateDownload(t *testing.T) {
	api, router := newTestAPI(t)

	job := submitJob(t, router, `{"url":"`+testURL+`","format":"mp4"}`)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.PlatformYouTube, job.Platform)

	waitCompleted(t, api, job.ID)
}

func TestCreateDownloadValidation(t *testing.T) {
	_, router := newTestAPI(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "missing url", body: `{"format":"mp4"}`, status: http.StatusBadRequest},
		{name: "bad platform", body: `{"url":"https://vimeo.com/1","format":"mp4"}`, status: http.StatusBadRequest},
		{name: "bad format", body: `{"url":"` + testURL + `","format":"wav"}`, status: http.StatusBadRequest},
		{name: "malformed json", body: `{`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/v1/downloads", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestGetDownload(t *testing.T) {
	api, router := newTestAPI(t)
	job := submitJob(t, router, `{"url":"`+testURL+`","format":"mp4"}`)
	waitCompleted(t, api, job.ID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/downloads/"+job.ID, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.DownloadJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Len(t, got.Artifacts, 1)
}

func TestGetDownloadNotFound(t *testing.T) {
	_, router := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/downloads/nope", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProgressSnapshot(t *testing.T) {
	api, router := newTestAPI(t)
	job := submitJob(t, router, `{"url":"`+testURL+`","format":"mp4"}`)
	waitCompleted(t, api, job.ID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/downloads/"+job.ID+"/progress", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var state models.ProgressState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, models.JobStatusCompleted, state.Status)
	assert.Equal(t, 100.0, state.Percent)
}

func TestGetFileServesArtifact(t *testing.T) {
	api, router := newTestAPI(t)
	job := submitJob(t, router, `{"url":"`+testURL+`","format":"mp4"}`)
	waitCompleted(t, api, job.ID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/downloads/"+job.ID+"/file", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, 512, w.Body.Len())
}

func TestListDownloads(t *testing.T) {
	api, router := newTestAPI(t)
	job := submitJob(t, router, `{"url":"`+testURL+`","format":"mp4"}`)
	waitCompleted(t, api, job.ID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/downloads", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs []models.DownloadJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 1)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	api, router := newTestAPI(t)
	job := submitJob(t, router, `{"url":"`+testURL+`","format":"mp4"}`)
	waitCompleted(t, api, job.ID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/downloads/"+job.ID+"/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealth(t *testing.T) {
	_, router := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
