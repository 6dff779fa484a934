// Package analyzer extracts audio, a timed transcript, and sampled frames from a video.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/pkg/whisper"
)

// DefaultFrameInterval is the sampling stride used when there are no segments.
const DefaultFrameInterval = 10.0

// MediaTool runs the codec operations analysis needs.
type MediaTool interface {
	ExtractAudio(ctx context.Context, videoPath, outputPath string) error
	ExtractFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error
	Duration(ctx context.Context, path string) (float64, error)
}

// Transcriber turns an audio file into timed text.
type Transcriber interface {
	TranscribeFile(ctx context.Context, audioPath string, opts whisper.TranscriptionOptions) (*whisper.TranscriptionResponse, error)
}

// Options selects which stages Analyze runs.
type Options struct {
	SkipAudio      bool
	SkipTranscript bool
	SkipFrames     bool
	// FrameInterval overrides DefaultFrameInterval for interval sampling.
	FrameInterval float64
}

// Analyzer produces a domain.Analysis for local videos.
type Analyzer struct {
	tool        MediaTool
	transcriber Transcriber
	outDir      string
	language    string
	logger      *slog.Logger
}

// New creates an analyzer writing under outDir. transcriber may be nil,
// in which case only cached transcripts are used.
func New(tool MediaTool, transcriber Transcriber, outDir, language string, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		tool:        tool,
		transcriber: transcriber,
		outDir:      outDir,
		language:    language,
		logger:      logger,
	}
}

// BaseName is the video file name without extension, used to key all artifacts.
func BaseName(videoPath string) string {
	name := filepath.Base(videoPath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// AudioPath returns where the audio track of a video is written.
func (a *Analyzer) AudioPath(base string) string {
	return filepath.Join(a.outDir, "audio", base+".mp3")
}

// TranscriptPath returns where the transcript of a video is cached.
func (a *Analyzer) TranscriptPath(videoID string) string {
	return filepath.Join(a.outDir, "transcripts", videoID+"_transcript.json")
}

// FramePath returns the file name of the i-th frame sampled at t seconds.
func (a *Analyzer) FramePath(base string, i int, t float64) string {
	return filepath.Join(a.outDir, "frames", base, fmt.Sprintf("frame_%03d_%.2fs.jpg", i, t))
}

// Analyze runs audio extraction, transcription and frame sampling. Every stage
// is fail-soft; only a result with neither transcript nor frames is an error.
func (a *Analyzer) Analyze(ctx context.Context, videoPath string, opts Options) (*domain.Analysis, error) {
	base := BaseName(videoPath)
	logger := a.logger.With("video", videoPath)
	result := &domain.Analysis{VideoPath: videoPath, Frames: []domain.Frame{}}

	if !opts.SkipAudio {
		audioPath := a.AudioPath(base)
		if err := a.tool.ExtractAudio(ctx, videoPath, audioPath); err != nil {
			logger.Warn("audio extraction failed", "error", err)
		} else {
			result.AudioPath = audioPath
		}
	}

	if !opts.SkipTranscript && result.AudioPath != "" {
		transcript, err := a.Transcribe(ctx, result.AudioPath, base)
		if err != nil {
			logger.Warn("transcription failed", "error", err)
		} else {
			result.Transcript = transcript
			result.TranscriptPath = a.TranscriptPath(base)
		}
	}

	if !opts.SkipFrames {
		a.sampleFrames(ctx, videoPath, base, opts, result)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if result.Transcript == nil && len(result.Frames) == 0 {
		return nil, fmt.Errorf("%s: %w", videoPath, domain.ErrNothingExtracted)
	}

	logger.Info("video analyzed",
		"has_transcript", result.Transcript != nil,
		"frames", len(result.Frames),
	)
	return result, nil
}

// sampleFrames takes one frame per segment midpoint, or one per interval
// when there are no segments, and attaches segment frames to their segment.
func (a *Analyzer) sampleFrames(ctx context.Context, videoPath, base string, opts Options, result *domain.Analysis) {
	logger := a.logger.With("video", videoPath)

	var timestamps []float64
	var segmentOf []int // segment index per timestamp, -1 for interval frames

	if t := result.Transcript; t != nil && len(t.Segments) > 0 {
		for i := range t.Segments {
			// A cached transcript may already carry frames from an earlier run.
			t.Segments[i].Frames = nil
			timestamps = append(timestamps, t.Segments[i].Midpoint())
			segmentOf = append(segmentOf, i)
		}
	} else {
		duration, err := a.tool.Duration(ctx, videoPath)
		if err != nil {
			logger.Warn("could not read video duration", "error", err)
			return
		}
		stride := opts.FrameInterval
		if stride <= 0 {
			stride = DefaultFrameInterval
		}
		for ts := 0.0; ts < duration; ts += stride {
			timestamps = append(timestamps, ts)
			segmentOf = append(segmentOf, -1)
		}
	}

	attached := false
	for i, ts := range timestamps {
		if ctx.Err() != nil {
			return
		}
		path := a.FramePath(base, i, ts)
		if err := a.tool.ExtractFrame(ctx, videoPath, ts, path); err != nil {
			logger.Warn("frame extraction failed", "timestamp", ts, "error", err)
			continue
		}
		frame := domain.Frame{Path: path, Time: ts}
		result.Frames = append(result.Frames, frame)
		if idx := segmentOf[i]; idx >= 0 {
			seg := &result.Transcript.Segments[idx]
			seg.Frames = append(seg.Frames, frame)
			attached = true
		}
	}

	if attached {
		if err := writeTranscript(a.TranscriptPath(base), result.Transcript); err != nil {
			logger.Warn("could not persist frames into transcript", "error", err)
		}
	}
}

// Transcribe returns the cached transcript for videoID if one exists, and
// otherwise transcribes audioPath and caches the result.
func (a *Analyzer) Transcribe(ctx context.Context, audioPath, videoID string) (*domain.Transcript, error) {
	path := a.TranscriptPath(videoID)

	cached, err := readTranscript(path)
	switch {
	case err == nil:
		a.logger.Debug("using cached transcript", "path", path)
		return cached, nil
	case !errors.Is(err, os.ErrNotExist):
		a.logger.Warn("ignoring unreadable cached transcript", "path", path, "error", err)
	}

	if a.transcriber == nil {
		return nil, fmt.Errorf("no transcriber configured: %w", domain.ErrTranscriptionFailed)
	}

	resp, err := a.transcriber.TranscribeFile(ctx, audioPath, whisper.TranscriptionOptions{
		Language:      a.language,
		Granularities: []string{whisper.GranularityWord, whisper.GranularitySegment},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, err)
	}

	transcript := toTranscript(resp, audioPath, videoID, a.language)
	if err := writeTranscript(path, transcript); err != nil {
		return nil, fmt.Errorf("cache transcript: %w", err)
	}
	return transcript, nil
}

func toTranscript(resp *whisper.TranscriptionResponse, audioPath, videoID, language string) *domain.Transcript {
	if resp.Language != "" {
		language = resp.Language
	}
	t := &domain.Transcript{
		Metadata: domain.TranscriptMetadata{
			VideoID:  videoID,
			Filename: filepath.Base(audioPath),
			Filepath: audioPath,
			Language: language,
			Duration: resp.Duration,
		},
		Text:     strings.TrimSpace(resp.Text),
		Segments: make([]domain.TranscriptSegment, 0, len(resp.Segments)),
		Words:    make([]domain.Word, 0, len(resp.Words)),
	}
	for _, s := range resp.Segments {
		t.Segments = append(t.Segments, domain.TranscriptSegment{
			Text:     strings.TrimSpace(s.Text),
			Start:    s.Start,
			End:      s.End,
			Duration: s.End - s.Start,
		})
	}
	for _, w := range resp.Words {
		t.Words = append(t.Words, domain.Word{
			Text:     strings.TrimSpace(w.Word),
			Start:    w.Start,
			End:      w.End,
			Duration: w.End - w.Start,
		})
	}
	return t
}

func readTranscript(path string) (*domain.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t domain.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &t, nil
}

// writeTranscript replaces path atomically.
func writeTranscript(path string, t *domain.Transcript) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
