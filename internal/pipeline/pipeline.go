// Package pipeline turns a single mention into a posted reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/circularmachines/sharedinventory/internal/analyzer"
	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/internal/media"
	"github.com/circularmachines/sharedinventory/internal/prompt"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

// ThreadSource resolves a post URI into its thread.
type ThreadSource interface {
	GetThread(ctx context.Context, uri string) (*domain.ThreadStructure, error)
}

// MediaDetector summarises the media attached to a raw post view.
type MediaDetector interface {
	Detect(post map[string]any) domain.MediaInfo
}

// VideoAcquirer downloads a video to local storage.
type VideoAcquirer interface {
	Acquire(ctx context.Context, url string) (*domain.DownloadedVideo, error)
}

// VideoAnalyzer extracts transcript and frames from a local video.
type VideoAnalyzer interface {
	Analyze(ctx context.Context, videoPath string, opts analyzer.Options) (*domain.Analysis, error)
}

// PromptComposer builds the model prompt.
type PromptComposer interface {
	Compose(in prompt.Input) ([]domain.PromptMessage, error)
}

// Model generates a reply from a prompt.
type Model interface {
	Call(ctx context.Context, messages []domain.PromptMessage) (*domain.ModelReply, error)
}

// ReplySink publishes a reply to a post.
type ReplySink interface {
	PostReply(ctx context.Context, uri, text string) (*domain.StrongRef, error)
}

// Recorder receives pipeline metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	MentionProcessed(outcome string, d time.Duration)
	StageFailed(stage, kind string)
	ReplyPosted()
	SetProcessedThreads(n int)
}

// Deps bundles the pipeline collaborators. Runs and Recorder are optional.
type Deps struct {
	Threads   ThreadSource
	Detector  MediaDetector
	Acquirer  VideoAcquirer
	Analyzer  VideoAnalyzer
	Composer  PromptComposer
	Model     Model
	Replies   ReplySink
	Processed repository.ProcessedSet
	Runs      repository.RunRepository
	Recorder  Recorder
}

// Pipeline processes mentions one at a time.
type Pipeline struct {
	deps       Deps
	systemText string
	analyze    analyzer.Options
	logger     *slog.Logger

	// resolveVideoURL finds the downloadable URL on a raw post view.
	resolveVideoURL func(post map[string]any) string
}

// New creates a pipeline. systemText may be empty to use the default system message.
func New(deps Deps, systemText string, opts analyzer.Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		deps:            deps,
		systemText:      systemText,
		analyze:         opts,
		logger:          logger,
		resolveVideoURL: media.ExtractVideoURL,
	}
}

// Process runs the mention through the pipeline. It returns a *domain.StageError
// when a stage fails; terminal "done" outcomes return nil.
func (p *Pipeline) Process(ctx context.Context, mention domain.MentionRef) error {
	_, err := p.Run(ctx, mention)
	return err
}

// Run is Process that also returns the finished run record.
func (p *Pipeline) Run(ctx context.Context, mention domain.MentionRef) (run *domain.RunRecord, err error) {
	run = domain.NewRunRecord(domain.RunID(uuid.NewString()), mention.URI)
	logger := p.logger.With("mention_uri", mention.URI, "run_id", run.ID)
	p.save(ctx, run, logger)

	defer func() {
		if r := recover(); r != nil {
			stage := run.State
			perr := fmt.Errorf("panic: %v", r)
			logger.Error("pipeline panic", "stage", stage, "error", perr)
			err = p.fail(ctx, run, stage, perr, logger)
		}
	}()

	if err := p.execute(ctx, mention, run, logger); err != nil {
		return run, err
	}
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, mention domain.MentionRef, run *domain.RunRecord, logger *slog.Logger) error {
	thread, err := p.deps.Threads.GetThread(ctx, mention.URI)
	if err != nil {
		return p.fail(ctx, run, domain.RunStateFetching, err, logger)
	}
	run.RootURI = thread.RootURI()
	run.Advance(domain.RunStateThreadResolved)
	logger = logger.With("root_uri", run.RootURI)

	if p.deps.Processed.Contains(run.RootURI) {
		logger.Info("thread already processed")
		return p.finish(ctx, run, domain.RunNoteAlreadyProcessed, logger)
	}
	run.Advance(domain.RunStateDedupChecked)

	root := thread.RootPost()
	info := p.deps.Detector.Detect(root.Raw)
	run.Advance(domain.RunStateMediaChecked)
	if !info.HasVideo() {
		logger.Info("no video on thread root", "media_types", info.MediaTypes)
		return p.finish(ctx, run, domain.RunNoteNoMedia, logger)
	}
	videoURL := p.resolveVideoURL(root.Raw)
	if videoURL == "" {
		logger.Info("video present but no resolvable url")
		return p.finish(ctx, run, domain.RunNoteVideoUnresolvable, logger)
	}
	run.VideoURL = videoURL

	run.Advance(domain.RunStateDownloading)
	p.save(ctx, run, logger)
	video, err := p.deps.Acquirer.Acquire(ctx, videoURL)
	if err != nil {
		return p.fail(ctx, run, domain.RunStateDownloading, err, logger)
	}
	run.VideoPath = video.Path

	analysis, err := p.deps.Analyzer.Analyze(ctx, video.Path, p.analyze)
	if err != nil {
		return p.fail(ctx, run, domain.RunStateVideoProcessed, err, logger)
	}
	run.Advance(domain.RunStateVideoProcessed)

	messages, err := p.deps.Composer.Compose(composeInput(p.systemText, root.Text, analysis))
	if err != nil {
		return p.fail(ctx, run, domain.RunStatePromptComposed, err, logger)
	}
	if len(messages) == 0 {
		return p.fail(ctx, run, domain.RunStatePromptComposed, domain.ErrNoMessages, logger)
	}
	run.Advance(domain.RunStatePromptComposed)

	reply, err := p.deps.Model.Call(ctx, messages)
	if err != nil {
		return p.fail(ctx, run, domain.RunStateModelCalled, err, logger)
	}
	text := ""
	if reply != nil {
		text = strings.TrimSpace(reply.Response)
	}
	if text == "" {
		return p.fail(ctx, run, domain.RunStateModelCalled, domain.ErrMalformedModelResponse, logger)
	}
	run.Reply = text
	run.Keywords = reply.Keywords
	run.Advance(domain.RunStateModelCalled)

	if n := utf8.RuneCountInString(text); n > domain.MaxReplyLength {
		return p.fail(ctx, run, domain.RunStateReplied, fmt.Errorf("%w: got %d", domain.ErrReplyTooLong, n), logger)
	}
	ref, err := p.deps.Replies.PostReply(ctx, mention.URI, text)
	if err != nil {
		return p.fail(ctx, run, domain.RunStateReplied, err, logger)
	}
	run.Advance(domain.RunStateReplied)
	if p.deps.Recorder != nil {
		p.deps.Recorder.ReplyPosted()
	}
	if ref != nil {
		logger = logger.With("reply_uri", ref.URI)
	}

	if err := p.deps.Processed.Add(run.RootURI); err != nil {
		return p.fail(ctx, run, domain.RunStateMarkedProcessed, err, logger)
	}
	run.Advance(domain.RunStateMarkedProcessed)
	if p.deps.Recorder != nil {
		p.deps.Recorder.SetProcessedThreads(p.deps.Processed.Len())
	}

	return p.finish(ctx, run, domain.RunNoteReplied, logger)
}

// composeInput merges the post text and the analysis. Frames already attached
// to transcript segments are not repeated as standalone images.
func composeInput(systemText, postText string, analysis *domain.Analysis) prompt.Input {
	in := prompt.Input{
		SystemText: systemText,
		FreeText:   postText,
		Transcript: analysis.Transcript,
	}
	if analysis.Transcript == nil || len(analysis.Transcript.Segments) == 0 {
		for _, f := range analysis.Frames {
			in.ImagePaths = append(in.ImagePaths, f.Path)
		}
	}
	return in
}

func (p *Pipeline) finish(ctx context.Context, run *domain.RunRecord, note string, logger *slog.Logger) error {
	run.MarkDone(note)
	p.save(ctx, run, logger)
	if p.deps.Recorder != nil {
		p.deps.Recorder.MentionProcessed(note, run.Duration())
	}
	logger.Info("mention processed", "note", note, "duration", run.Duration())
	return nil
}

func (p *Pipeline) fail(ctx context.Context, run *domain.RunRecord, stage domain.RunState, err error, logger *slog.Logger) error {
	run.MarkFailed(stage, err)
	p.save(ctx, run, logger)
	if p.deps.Recorder != nil {
		p.deps.Recorder.StageFailed(string(stage), run.ErrorKind)
		p.deps.Recorder.MentionProcessed("failed", run.Duration())
	}

	level := slog.LevelError
	if errors.Is(err, context.Canceled) {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "mention failed", "stage", stage, "error_kind", run.ErrorKind, "error", err)
	return domain.NewStageError(run.MentionURI, stage, err)
}

// save records the run. Storage errors are logged and never fail the run.
func (p *Pipeline) save(ctx context.Context, run *domain.RunRecord, logger *slog.Logger) {
	if p.deps.Runs == nil {
		return
	}
	if err := p.deps.Runs.Save(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}
