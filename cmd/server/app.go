package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/circularmachines/sharedinventory/internal/analyzer"
	"github.com/circularmachines/sharedinventory/internal/api"
	"github.com/circularmachines/sharedinventory/internal/config"
	"github.com/circularmachines/sharedinventory/internal/downloader"
	"github.com/circularmachines/sharedinventory/internal/media"
	"github.com/circularmachines/sharedinventory/internal/metrics"
	"github.com/circularmachines/sharedinventory/internal/monitor"
	"github.com/circularmachines/sharedinventory/internal/pipeline"
	"github.com/circularmachines/sharedinventory/internal/prompt"
	"github.com/circularmachines/sharedinventory/internal/repository"
	"github.com/circularmachines/sharedinventory/pkg/bluesky"
	"github.com/circularmachines/sharedinventory/pkg/ffmpeg"
	"github.com/circularmachines/sharedinventory/pkg/llm"
	"github.com/circularmachines/sharedinventory/pkg/whisper"
)

func newBlueskyClient(cfg *config.Config, logger *slog.Logger) *bluesky.Client {
	return bluesky.NewClient(bluesky.Config{
		Username:      cfg.Bluesky.Username,
		Password:      cfg.Bluesky.Password,
		PDSURL:        cfg.Bluesky.PDSURL,
		PublicURL:     cfg.Bluesky.PublicURL,
		Timeout:       cfg.Bluesky.Timeout,
		LoginAttempts: cfg.Bluesky.LoginAttempts,
		LoginDelay:    cfg.Bluesky.LoginDelay,
	}, logger)
}

func newAcquirer(cfg *config.Config, proc *ffmpeg.VideoProcessor, logger *slog.Logger) *downloader.Acquirer {
	dl := downloader.NewHTTPDownloader(cfg.Download, logger)
	return downloader.NewAcquirer(cfg.Storage.VideoDir, dl, proc, cfg.Storage.MinFreeBytes, logger)
}

// newAnalyzer builds an analyzer; transcription is only wired when credentials exist.
func newAnalyzer(cfg *config.Config, proc *ffmpeg.VideoProcessor, logger *slog.Logger) *analyzer.Analyzer {
	var transcriber analyzer.Transcriber
	if cfg.Whisper.Enabled() {
		transcriber = whisper.NewClient(whisper.Config{
			APIKey:        cfg.Whisper.APIKey,
			BaseURL:       cfg.Whisper.BaseURL,
			Model:         cfg.Whisper.Model,
			Language:      cfg.Whisper.Language,
			AzureEndpoint: cfg.Whisper.AzureEndpoint,
			APIVersion:    cfg.Whisper.APIVersion,
			Deployment:    cfg.Whisper.Deployment,
			Timeout:       cfg.Whisper.Timeout,
		})
	} else {
		logger.Warn("WHISPER_API_KEY not set, videos are analyzed without new transcripts")
	}
	return analyzer.New(proc, transcriber, cfg.Storage.OutputDir, cfg.Whisper.Language, logger)
}

func newModel(cfg *config.Config, logger *slog.Logger) (*llm.Client, error) {
	if err := cfg.RequireModel(); err != nil {
		return nil, err
	}
	return llm.New(llm.Config{
		APIKey:        cfg.Model.APIKey,
		BaseURL:       cfg.Model.BaseURL,
		AzureEndpoint: cfg.Model.AzureEndpoint,
		APIVersion:    cfg.Model.APIVersion,
		Model:         cfg.Model.Model,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		Timeout:       cfg.Model.Timeout,
	}, logger)
}

// loadSystemText reads the system prompt, falling back to the default when the file is absent.
func loadSystemText(path string, logger *slog.Logger) (string, error) {
	text, err := prompt.LoadSystemMessage(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("system message file not found, using default", "path", path)
		return "", nil
	}
	return text, err
}

func ensureDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// videoBot is the fully wired mention pipeline and its stores.
type videoBot struct {
	client    *bluesky.Client
	pipeline  *pipeline.Pipeline
	processed *repository.FileProcessedSet
	runs      repository.RunRepository
	metrics   *metrics.Metrics
}

func (b *videoBot) Close() error {
	return b.runs.Close()
}

func newVideoBot(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*videoBot, error) {
	if err := ensureDirs(cfg.Storage.DataDir, cfg.Storage.VideoDir, cfg.Storage.OutputDir,
		filepath.Dir(cfg.Storage.ProcessedFile), filepath.Dir(cfg.Storage.RunDBPath)); err != nil {
		return nil, err
	}

	model, err := newModel(cfg, logger)
	if err != nil {
		return nil, err
	}
	proc, err := ffmpeg.NewVideoProcessor()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if v, err := ffmpeg.GetVersion(); err == nil {
		logger.Info("using ffmpeg", "version", v)
	}
	systemText, err := loadSystemText(cfg.Storage.SystemMessagePath, logger)
	if err != nil {
		return nil, err
	}

	client := newBlueskyClient(cfg, logger)
	if err := client.Login(ctx); err != nil {
		return nil, err
	}

	processed, err := repository.NewFileProcessedSet(cfg.Storage.ProcessedFile)
	if err != nil {
		return nil, err
	}
	runs, err := repository.NewSQLiteRunRepository(cfg.Storage.RunDBPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.SetProcessedThreads(processed.Len())

	p := pipeline.New(pipeline.Deps{
		Threads:   client,
		Detector:  media.NewDetector(logger),
		Acquirer:  newAcquirer(cfg, proc, logger),
		Analyzer:  newAnalyzer(cfg, proc, logger),
		Composer:  prompt.NewComposer(logger),
		Model:     model,
		Replies:   client,
		Processed: processed,
		Runs:      runs,
		Recorder:  m,
	}, systemText, analyzer.Options{}, logger)

	return &videoBot{
		client:    client,
		pipeline:  p,
		processed: processed,
		runs:      runs,
		metrics:   m,
	}, nil
}

func monitorConfig(cfg *config.Config, activityPath string) monitor.Config {
	return monitor.Config{
		Interval:     cfg.Monitor.PollInterval(),
		MentionLimit: cfg.Monitor.MentionLimit,
		MentionDelay: cfg.Monitor.MentionDelay,
		MarkSeen:     cfg.Monitor.MarkSeen,
		ActivityPath: activityPath,
		ActivitySize: cfg.Monitor.ActivityLogSize,
	}
}

// monitorStopTimeout bounds how long shutdown waits for an in-flight mention.
var monitorStopTimeout = 25 * time.Second

var errMonitorStopTimeout = errors.New("monitor did not stop in time")

// poller is the mention loop a daemon runs until its context ends.
type poller interface {
	Start(ctx context.Context) error
}

// runDaemon runs the monitor and, when enabled, the status server until ctx
// is done. It returns only after the monitor has stopped or monitorStopTimeout
// has passed, so callers may close the stores the monitor writes to.
func runDaemon(ctx context.Context, cfg *config.Config, mon poller, handlers api.Handlers, logger *slog.Logger) error {
	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- mon.Start(monCtx)
	}()

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      api.NewRouter(handlers, cfg.Server.APIKey, logger),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info("starting HTTP server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	monitorStopped := false
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		runErr = err
	case err := <-monitorDone:
		monitorStopped = true
		if err != nil {
			logger.Error("monitor failed", "error", err)
			runErr = err
		}
	}

	stopMonitor()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	if !monitorStopped {
		if err := waitMonitor(monitorDone, monitorStopTimeout); err != nil {
			logger.Error("monitor shutdown error", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}
	return runErr
}

func waitMonitor(done <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errMonitorStopTimeout
	}
}
