package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

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

func main() {
	os.Exit(run())
}

// run holds main's body so deferred cleanup still fires on a non-zero exit
func run() int {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		format     = flag.String("format", "mp4", "output format: mp4, mp3 or zip")
		items      = flag.String("items", "", "comma-separated playlist positions, e.g. 1,3,5")
		delay      = flag.Int("delay", -1, "seconds between playlist items (-1 uses config)")
		cookies    = flag.String("cookies", "", "path to a cookies file to pass to the extractor")
		verbose    = flag.Bool("verbose", false, "verbose progress output")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mediagrab [flags] <url>")
		flag.PrintDefaults()
		return 2
	}
	sourceURL := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Keep structured logs off the progress line unless asked for.
	level := "error"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(logging.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	req := service.SubmitRequest{SourceURL: sourceURL, Format: models.Format(*format)}

	if *items != "" {
		selection, err := parseSelection(*items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -items: %v\n", err)
			return 2
		}
		req.ItemSelection = selection
	}
	if *delay >= 0 {
		d := time.Duration(*delay) * time.Second
		req.InterItemDelay = &d
	}
	if *cookies != "" {
		raw, err := os.ReadFile(*cookies)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot read cookies file: %v\n", err)
			return 2
		}
		req.CookiesB64 = base64.StdEncoding.EncodeToString(raw)
	}

	svc, bus, cleanup, err := buildService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cleanup()

	job, err := svc.Submit(context.Background(), req)
	if err != nil {
		jobErr := retry.AsJobError(err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", jobErr.Message)
		if jobErr.Remediation != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", jobErr.Remediation)
		}
		return 1
	}

	sub := bus.Subscribe(job.ID)
	defer bus.Unsubscribe(job.ID, sub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	renderer := NewRenderer(os.Stdout, *verbose)
	for {
		select {
		case state := <-sub:
			renderer.Render(state)
			if state.Status.Terminal() {
				final, _ := svc.Job(job.ID)
				if final.IsPlaylist() {
					renderer.RenderItems(final.PlaylistItems)
				}
				for _, artifact := range final.Artifacts {
					fmt.Printf("Saved: %s\n", artifact.Path)
				}
				if state.Status == models.JobStatusFailed {
					return 1
				}
				return 0
			}
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nCancelling...")
			_ = svc.Cancel(job.ID)
		}
	}
}

// buildService assembles the in-process pipeline the CLI shares with the
// API server
func buildService(cfg *config.Config, logger *logging.Logger) (*service.DownloadService, *progress.Bus, func(), error) {
	manager, err := output.New(cfg.Output, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize output directory: %w", err)
	}

	bus := progress.NewBus(cfg.Progress.TTL)

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath)
	queue := transcoder.NewQueue(ffmpeg, bus, logger, cfg.Transcoder.WorkerCount, cfg.Transcoder.EncodeTimeout)

	extractors := extractor.NewRegistry()
	httpExtractor := extractor.NewHTTPExtractor(nil)
	for _, platform := range []models.Platform{
		models.PlatformYouTube,
		models.PlatformInstagram,
		models.PlatformFacebook,
		models.PlatformX,
	} {
		extractors.Register(platform, httpExtractor)
	}

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

	return svc, bus, svc.Close, nil
}

// parseSelection parses 1-based playlist positions from a comma list
func parseSelection(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	selection := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		if n < 1 {
			return nil, fmt.Errorf("positions start at 1, got %d", n)
		}
		selection = append(selection, n)
	}
	return selection, nil
}
