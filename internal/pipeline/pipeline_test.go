package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/circularmachines/sharedinventory/internal/analyzer"
	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/internal/media"
	"github.com/circularmachines/sharedinventory/internal/prompt"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	rootURI    = "at://did:plc:root/app.bsky.feed.post/1"
	playlist   = "https://video.bsky.app/watch/did%3Aplc%3Aroot/bafkvid/playlist.m3u8"
	mentionOne = "at://did:plc:m1/app.bsky.feed.post/10"
	mentionTwo = "at://did:plc:m2/app.bsky.feed.post/20"
)

func videoPost() domain.Post {
	return domain.Post{
		URI:  rootURI,
		Text: "Check out my cat playing piano",
		Raw: map[string]any{
			"uri":    rootURI,
			"author": map[string]any{"did": "did:plc:root"},
			"embed": map[string]any{
				"$type":    "app.bsky.embed.video#view",
				"cid":      "bafkvid",
				"playlist": playlist,
			},
		},
	}
}

type fakeThreads struct {
	root domain.Post
	err  error
}

func (f *fakeThreads) GetThread(ctx context.Context, uri string) (*domain.ThreadStructure, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ThreadStructure{
		Main:    domain.Post{URI: uri, Text: "@bot what is this?"},
		Parents: []domain.Post{f.root},
	}, nil
}

type fakeAcquirer struct {
	calls int
	urls  []string
	err   error
}

func (f *fakeAcquirer) Acquire(ctx context.Context, url string) (*domain.DownloadedVideo, error) {
	f.calls++
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DownloadedVideo{Path: "/videos/1700000000_bafkvid_video.mp4", SourceURL: url}, nil
}

type fakeAnalyzer struct {
	analysis *domain.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, videoPath string, opts analyzer.Options) (*domain.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type fakeModel struct {
	reply    *domain.ModelReply
	err      error
	panics   bool
	received [][]domain.PromptMessage
}

func (f *fakeModel) Call(ctx context.Context, messages []domain.PromptMessage) (*domain.ModelReply, error) {
	if f.panics {
		panic("model exploded")
	}
	f.received = append(f.received, messages)
	return f.reply, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
}

func (f *fakeSink) PostReply(ctx context.Context, uri, text string) (*domain.StrongRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.replies == nil {
		f.replies = make(map[string]string)
	}
	f.replies[uri] = text
	return &domain.StrongRef{URI: "at://did:plc:bot/app.bsky.feed.post/r", CID: "cr"}, nil
}

type fakeRecorder struct {
	outcomes []string
	failures []string
	replies  int
	threads  int
}

func (f *fakeRecorder) MentionProcessed(outcome string, d time.Duration) {
	f.outcomes = append(f.outcomes, outcome)
}
func (f *fakeRecorder) StageFailed(stage, kind string) { f.failures = append(f.failures, stage+"/"+kind) }
func (f *fakeRecorder) ReplyPosted() { f.replies++ }
func (f *fakeRecorder) SetProcessedThreads(n int) { f.threads = n }

type harness struct {
	threads   *fakeThreads
	acquirer  *fakeAcquirer
	analyzer  *fakeAnalyzer
	model     *fakeModel
	sink      *fakeSink
	processed *repository.FileProcessedSet
	runs      *repository.InMemoryRunRepository
	recorder  *fakeRecorder
	pipeline  *Pipeline
}

func threeSegmentTranscript() *domain.Transcript {
	return &domain.Transcript{
		Text: "Here is my cat. She plays piano. Every day.",
		Segments: []domain.TranscriptSegment{
			{Text: "Here is my cat.", Start: 0, End: 2, Duration: 2},
			{Text: "She plays piano.", Start: 2, End: 5, Duration: 3},
			{Text: "Every day.", Start: 5, End: 6, Duration: 1},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	processed, err := repository.NewFileProcessedSet(filepath.Join(t.TempDir(), "processed.txt"))
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		threads:   &fakeThreads{root: videoPost()},
		acquirer:  &fakeAcquirer{},
		analyzer:  &fakeAnalyzer{analysis: &domain.Analysis{Transcript: threeSegmentTranscript()}},
		model:     &fakeModel{reply: &domain.ModelReply{Response: "What a talented cat!", Keywords: []string{"cat", "piano"}}},
		sink:      &fakeSink{},
		processed: processed,
		runs:      repository.NewInMemoryRunRepository(100),
		recorder:  &fakeRecorder{},
	}
	h.pipeline = New(Deps{
		Threads:   h.threads,
		Detector:  media.NewDetector(testLogger()),
		Acquirer:  h.acquirer,
		Analyzer:  h.analyzer,
		Composer:  prompt.NewComposer(testLogger()),
		Model:     h.model,
		Replies:   h.sink,
		Processed: h.processed,
		Runs:      h.runs,
		Recorder:  h.recorder,
	}, "You are a friendly bot.", analyzer.Options{}, testLogger())
	return h
}

func TestProcess_FullScenario(t *testing.T) {
	h := newHarness(t)

	run, err := h.pipeline.Run(context.Background(), domain.MentionRef{URI: mentionOne})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if run.State != domain.RunStateDone || run.Note != domain.RunNoteReplied {
		t.Errorf("run state = %q note = %q", run.State, run.Note)
	}
	if len(h.acquirer.urls) != 1 || h.acquirer.urls[0] != playlist {
		t.Errorf("acquired %v, want playlist url", h.acquirer.urls)
	}
	if len(h.model.received) != 1 {
		t.Fatalf("model calls = %d, want 1", len(h.model.received))
	}

	msgs := h.model.received[0]
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5 (system, post text, 3 segments)", len(msgs))
	}
	if msgs[0].Role != domain.RoleSystem || msgs[0].Text != "You are a friendly bot." {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Text != "Check out my cat playing piano" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if !strings.HasPrefix(msgs[2].Text, "Segment [0.0s - 2.0s]") || !strings.Contains(msgs[4].Text, "Every day.") {
		t.Errorf("segment messages out of order: %q ... %q", msgs[2].Text, msgs[4].Text)
	}

	if got := h.sink.replies[mentionOne]; got != "What a talented cat!" {
		t.Errorf("reply = %q", got)
	}
	if !h.processed.Contains(rootURI) {
		t.Error("root should be marked processed")
	}

	stored, err := h.runs.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if stored.RootURI != rootURI || stored.Reply != "What a talented cat!" || len(stored.Keywords) != 2 {
		t.Errorf("stored run = %+v", stored)
	}
	if h.recorder.replies != 1 || h.recorder.threads != 1 {
		t.Errorf("recorder = %+v", h.recorder)
	}
}

func TestProcess_IdempotentPerThreadRoot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.pipeline.Process(ctx, domain.MentionRef{URI: mentionOne}); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	run, err := h.pipeline.Run(ctx, domain.MentionRef{URI: mentionTwo})
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if len(h.sink.replies) != 1 {
		t.Errorf("replies = %d, want exactly 1", len(h.sink.replies))
	}
	if run.Note != domain.RunNoteAlreadyProcessed {
		t.Errorf("second run note = %q, want already_processed", run.Note)
	}
	if h.acquirer.calls != 1 {
		t.Errorf("downloads = %d, want 1", h.acquirer.calls)
	}
}

func TestProcess_ReplyLengthGuard(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{"exactly at limit", strings.Repeat("ü", domain.MaxReplyLength), false},
		{"one over limit", strings.Repeat("ü", domain.MaxReplyLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.model.reply = &domain.ModelReply{Response: tt.reply}

			err := h.pipeline.Process(context.Background(), domain.MentionRef{URI: mentionOne})
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Process failed: %v", err)
				}
				return
			}

			var stageErr *domain.StageError
			if !errors.As(err, &stageErr) {
				t.Fatalf("error = %v, want StageError", err)
			}
			if stageErr.Stage != domain.RunStateReplied {
				t.Errorf("stage = %q, want replied", stageErr.Stage)
			}
			if !errors.Is(err, domain.ErrReplyTooLong) {
				t.Errorf("error = %v, want ErrReplyTooLong", err)
			}
			if len(h.sink.replies) != 0 {
				t.Error("sink must not be called for an over-long reply")
			}
			if h.processed.Contains(rootURI) {
				t.Error("root must not be marked processed")
			}
		})
	}
}

func TestProcess_TerminalWithoutVideo(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]any
		wantNote string
	}{
		{
			name:     "plain text root",
			raw:      map[string]any{"uri": rootURI, "record": map[string]any{"text": "hi"}},
			wantNote: domain.RunNoteNoMedia,
		},
		{
			name:     "images only",
			raw:      map[string]any{"embed": map[string]any{"images": []any{map[string]any{"alt": "cat"}}}},
			wantNote: domain.RunNoteNoMedia,
		},
		{
			name: "video blob without author",
			raw: map[string]any{
				"record": map[string]any{"embed": map[string]any{"video": map[string]any{"ref": map[string]any{"$link": "bafk"}}}},
			},
			wantNote: domain.RunNoteVideoUnresolvable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.threads.root = domain.Post{URI: rootURI, Raw: tt.raw}

			run, err := h.pipeline.Run(context.Background(), domain.MentionRef{URI: mentionOne})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if run.State != domain.RunStateDone || run.Note != tt.wantNote {
				t.Errorf("run = %q/%q, want done/%q", run.State, run.Note, tt.wantNote)
			}
			if h.acquirer.calls != 0 {
				t.Error("nothing should be downloaded")
			}
			if h.processed.Contains(rootURI) {
				t.Error("roots without a reply are not marked processed")
			}
		})
	}
}

func TestProcess_StageFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantStage domain.RunState
		wantErr   error
	}{
		{
			name:      "thread not found",
			setup:     func(h *harness) { h.threads.err = domain.ErrThreadNotFound },
			wantStage: domain.RunStateFetching,
			wantErr:   domain.ErrThreadNotFound,
		},
		{
			name:      "download fails",
			setup:     func(h *harness) { h.acquirer.err = domain.ErrURLExpired },
			wantStage: domain.RunStateDownloading,
			wantErr:   domain.ErrURLExpired,
		},
		{
			name:      "nothing extracted",
			setup:     func(h *harness) { h.analyzer.err = domain.ErrNothingExtracted },
			wantStage: domain.RunStateVideoProcessed,
			wantErr:   domain.ErrNothingExtracted,
		},
		{
			name:      "model call fails",
			setup:     func(h *harness) { h.model.err = domain.ErrModelCallFailed },
			wantStage: domain.RunStateModelCalled,
			wantErr:   domain.ErrModelCallFailed,
		},
		{
			name:      "empty model response",
			setup:     func(h *harness) { h.model.reply = &domain.ModelReply{Response: "   "} },
			wantStage: domain.RunStateModelCalled,
			wantErr:   domain.ErrMalformedModelResponse,
		},
		{
			name:      "reply fails",
			setup:     func(h *harness) { h.sink.err = domain.ErrReplyFailed },
			wantStage: domain.RunStateReplied,
			wantErr:   domain.ErrReplyFailed,
		},
		{
			name:      "model panics",
			setup:     func(h *harness) { h.model.panics = true },
			wantStage: domain.RunStatePromptComposed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			run, err := h.pipeline.Run(context.Background(), domain.MentionRef{URI: mentionOne})

			var stageErr *domain.StageError
			if !errors.As(err, &stageErr) {
				t.Fatalf("error = %v, want StageError", err)
			}
			if stageErr.Stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", stageErr.Stage, tt.wantStage)
			}
			if stageErr.MentionURI != mentionOne {
				t.Errorf("MentionURI = %q", stageErr.MentionURI)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if run.State != domain.RunStateFailed || run.FailedStage != tt.wantStage {
				t.Errorf("run = %q/%q", run.State, run.FailedStage)
			}
			if h.processed.Contains(rootURI) {
				t.Error("failed runs must not mark the root processed")
			}
			if len(h.recorder.failures) != 1 {
				t.Errorf("recorded failures = %v", h.recorder.failures)
			}

			stored, err := h.runs.Get(context.Background(), run.ID)
			if err != nil || stored.State != domain.RunStateFailed {
				t.Errorf("stored run = %+v, err = %v", stored, err)
			}
		})
	}
}

func TestProcess_FailedThreadCanBeRetried(t *testing.T) {
	h := newHarness(t)
	h.sink.err = domain.ErrReplyFailed

	if err := h.pipeline.Process(context.Background(), domain.MentionRef{URI: mentionOne}); err == nil {
		t.Fatal("expected failure")
	}

	h.sink.err = nil
	if err := h.pipeline.Process(context.Background(), domain.MentionRef{URI: mentionOne}); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(h.sink.replies) != 1 || !h.processed.Contains(rootURI) {
		t.Error("retry should reply and mark the root processed")
	}
}

func TestComposeInput_StandaloneFramesOnlyWithoutSegments(t *testing.T) {
	frames := []domain.Frame{{Path: "/f/1.jpg", Time: 0}, {Path: "/f/2.jpg", Time: 10}}

	in := composeInput("", "text", &domain.Analysis{Frames: frames})
	if len(in.ImagePaths) != 2 {
		t.Errorf("ImagePaths = %v, want both frames", in.ImagePaths)
	}

	in = composeInput("", "text", &domain.Analysis{Frames: frames, Transcript: threeSegmentTranscript()})
	if len(in.ImagePaths) != 0 {
		t.Errorf("ImagePaths = %v, want none when segments carry frames", in.ImagePaths)
	}
}
