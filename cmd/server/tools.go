package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/circularmachines/sharedinventory/internal/analyzer"
	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/internal/media"
	"github.com/circularmachines/sharedinventory/internal/prompt"
	"github.com/circularmachines/sharedinventory/pkg/ffmpeg"
)

func processCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process <mention-uri>",
		Short: "Run one mention through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger
			cfg, err := opts.load(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			bot, err := newVideoBot(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to start video bot", "error", err)
				return err
			}
			defer bot.Close()

			post, err := bot.client.GetPost(ctx, args[0])
			if err != nil {
				logger.Error("failed to fetch mention", "mention_uri", args[0], "error", err)
				return err
			}
			mention := domain.MentionRef{
				URI:          post.URI,
				CID:          post.CID,
				AuthorDID:    post.AuthorDID,
				AuthorHandle: post.AuthorHandle,
				Text:         post.Text,
				IndexedAt:    post.IndexedAt,
			}

			run, runErr := bot.pipeline.Run(ctx, mention)
			if err := printJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			return runErr
		},
	}
}

// mediaReport is the output of check-media.
type mediaReport struct {
	URI      string           `json:"uri"`
	RootURI  string           `json:"root_uri"`
	Media    domain.MediaInfo `json:"media"`
	VideoURL string           `json:"video_url,omitempty"`
}

func checkMediaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-media <post-uri>",
		Short: "Show the media detected on a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(false)
			if err != nil {
				return err
			}

			thread, err := newBlueskyClient(cfg, opts.logger).GetThread(cmd.Context(), args[0])
			if err != nil {
				opts.logger.Error("failed to fetch thread", "uri", args[0], "error", err)
				return err
			}

			return printJSON(cmd.OutOrStdout(), mediaReport{
				URI:      thread.Main.URI,
				RootURI:  thread.RootURI(),
				Media:    media.NewDetector(opts.logger).Detect(thread.Main.Raw),
				VideoURL: media.ExtractVideoURL(thread.Main.Raw),
			})
		},
	}
}

func downloadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download <url>",
		Short: "Download a video or HLS playlist into the video directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(false)
			if err != nil {
				return err
			}
			if err := ensureDirs(cfg.Storage.VideoDir); err != nil {
				return err
			}
			proc, err := ffmpeg.NewVideoProcessor()
			if err != nil {
				return fmt.Errorf("ffmpeg: %w", err)
			}

			video, err := newAcquirer(cfg, proc, opts.logger).Acquire(cmd.Context(), args[0])
			if err != nil {
				opts.logger.Error("download failed", "url", args[0], "error", err, "error_kind", domain.ErrorKind(err))
				return err
			}
			return printJSON(cmd.OutOrStdout(), video)
		},
	}
}

func analyzeCmd(opts *rootOptions) *cobra.Command {
	var aopts analyzer.Options

	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Extract audio, transcript and frames from a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(false)
			if err != nil {
				return err
			}
			proc, err := ffmpeg.NewVideoProcessor()
			if err != nil {
				return fmt.Errorf("ffmpeg: %w", err)
			}

			analysis, err := newAnalyzer(cfg, proc, opts.logger).Analyze(cmd.Context(), args[0], aopts)
			if err != nil {
				opts.logger.Error("analysis failed", "video", args[0], "error", err)
				return err
			}
			return printJSON(cmd.OutOrStdout(), analysis)
		},
	}

	cmd.Flags().BoolVar(&aopts.SkipAudio, "skip-audio", false, "skip audio extraction (implies no new transcript)")
	cmd.Flags().BoolVar(&aopts.SkipTranscript, "skip-transcript", false, "skip transcription")
	cmd.Flags().BoolVar(&aopts.SkipFrames, "skip-frames", false, "skip frame sampling")
	cmd.Flags().Float64Var(&aopts.FrameInterval, "frame-interval", analyzer.DefaultFrameInterval, "seconds between frames when there is no transcript")
	return cmd
}

// messageSummary is a prompt message with image payloads elided.
type messageSummary struct {
	Role   domain.Role `json:"role"`
	Text   string      `json:"text"`
	Images int         `json:"images,omitempty"`
}

func summarize(messages []domain.PromptMessage) []messageSummary {
	out := make([]messageSummary, 0, len(messages))
	for _, m := range messages {
		s := messageSummary{Role: m.Role, Text: m.Text}
		for _, p := range m.Parts {
			switch p.Type {
			case domain.ContentPartText:
				s.Text = p.Text
			case domain.ContentPartImage:
				s.Images++
			}
		}
		out = append(out, s)
	}
	return out
}

func composeCmd(opts *rootOptions) *cobra.Command {
	var (
		systemFile     string
		text           string
		transcriptPath string
		images         []string
		call           bool
	)

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Build a prompt from text, a transcript and images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger
			cfg, err := opts.load(false)
			if err != nil {
				return err
			}
			if systemFile == "" {
				systemFile = cfg.Storage.SystemMessagePath
			}
			systemText, err := loadSystemText(systemFile, logger)
			if err != nil {
				return err
			}

			in := prompt.Input{
				SystemText: systemText,
				FreeText:   text,
				ImagePaths: images,
			}
			if transcriptPath != "" {
				data, err := os.ReadFile(transcriptPath)
				if err != nil {
					return fmt.Errorf("read transcript: %w", err)
				}
				var t domain.Transcript
				if err := json.Unmarshal(data, &t); err != nil {
					return fmt.Errorf("parse transcript: %w", err)
				}
				in.Transcript = &t
			}

			messages, err := prompt.NewComposer(logger).Compose(in)
			if err != nil {
				return err
			}
			if !call {
				return printJSON(cmd.OutOrStdout(), summarize(messages))
			}

			model, err := newModel(cfg, logger)
			if err != nil {
				return err
			}
			reply, err := model.Call(cmd.Context(), messages)
			if err != nil {
				logger.Error("model call failed", "error", err)
				return err
			}
			return printJSON(cmd.OutOrStdout(), reply)
		},
	}

	cmd.Flags().StringVar(&systemFile, "system-file", "", "system prompt file (defaults to the configured one)")
	cmd.Flags().StringVar(&text, "text", "", "free text message")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "transcript JSON written by analyze")
	cmd.Flags().StringSliceVar(&images, "image", nil, "image file to attach (repeatable)")
	cmd.Flags().BoolVar(&call, "call", false, "send the prompt to the model and print the reply")
	return cmd
}

// feedEntry is one line of feed output.
type feedEntry struct {
	URI      string `json:"uri"`
	Text     string `json:"text"`
	HasMedia bool   `json:"has_media"`
	VideoURL string `json:"video_url,omitempty"`
}

func feedCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "feed <actor>",
		Short: "List recent posts of an account with their media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(true)
			if err != nil {
				return err
			}

			actor := strings.TrimPrefix(args[0], "@")
			posts, err := newBlueskyClient(cfg, opts.logger).GetAuthorFeed(cmd.Context(), actor, limit)
			if err != nil {
				opts.logger.Error("failed to fetch feed", "actor", actor, "error", err)
				return err
			}

			detector := media.NewDetector(opts.logger)
			entries := make([]feedEntry, 0, len(posts))
			for _, p := range posts {
				entries = append(entries, feedEntry{
					URI:      p.URI,
					Text:     p.Text,
					HasMedia: detector.Detect(p.Raw).HasMedia,
					VideoURL: media.ExtractVideoURL(p.Raw),
				})
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of posts (max 100)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bskybot %s (built %s)\n", Version, BuildTime)
			fmt.Fprintf(out, "ffmpeg: %s\n", ffmpegVersion())
		},
	}
}

func ffmpegVersion() string {
	if !ffmpeg.IsAvailable() {
		return "not found"
	}
	v, err := ffmpeg.GetVersion()
	if err != nil {
		return "unknown (" + err.Error() + ")"
	}
	return v
}
