// Package ffmpeg wraps the ffmpeg and ffprobe binaries.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// VideoProcessor runs ffmpeg and ffprobe subprocesses.
type VideoProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewVideoProcessor creates a new video processor.
// It will attempt to find ffmpeg and ffprobe in PATH.
func NewVideoProcessor() (*VideoProcessor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &VideoProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// VideoInfo contains metadata about a media file.
type VideoInfo struct {
	Duration   float64 // seconds
	Width      int
	Height     int
	HasAudio   bool
	AudioCodec string
	VideoCodec string
	Bitrate    int64
	FrameRate  float64
	FileSize   int64
}

// GetVideoInfo probes a media file with ffprobe.
func (p *VideoProcessor) GetVideoInfo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	stat, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	info, err := parseProbeOutput(output)
	if err != nil {
		return nil, err
	}
	info.FileSize = stat.Size()
	return info, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

func parseProbeOutput(output []byte) (*VideoInfo, error) {
	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.Duration = dur
	}
	if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
			}
			if info.Width == 0 {
				info.Width = s.Width
			}
			if info.Height == 0 {
				info.Height = s.Height
			}
			if info.FrameRate == 0 {
				info.FrameRate = parseRate(s.AvgFrameRate)
			}
		}
	}
	return info, nil
}

func parseRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// Duration returns the duration of a media file in seconds.
func (p *VideoProcessor) Duration(ctx context.Context, path string) (float64, error) {
	info, err := p.GetVideoInfo(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// Remux copies an HLS playlist into a single MP4 without re-encoding.
func (p *VideoProcessor) Remux(ctx context.Context, playlistURL, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := p.run(ctx, remuxArgs(playlistURL, outputPath)); err != nil {
		return fmt.Errorf("remux: %w", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("remux output missing: %w", err)
	}
	return nil
}

// ExtractAudio writes the audio track of videoPath to outputPath as VBR MP3.
func (p *VideoProcessor) ExtractAudio(ctx context.Context, videoPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := p.run(ctx, audioArgs(videoPath, outputPath)); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("audio output missing: %w", err)
	}
	return nil
}

// ExtractFrame writes a single JPEG frame at timestamp seconds to outputPath.
func (p *VideoProcessor) ExtractFrame(ctx context.Context, videoPath string, timestamp float64, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := p.run(ctx, frameArgs(videoPath, timestamp, outputPath)); err != nil {
		return fmt.Errorf("extract frame at %.2fs: %w", timestamp, err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("frame at %.2fs not written: %w", timestamp, err)
	}
	return nil
}

func remuxArgs(input, output string) []string {
	return []string{"-i", input, "-c", "copy", "-bsf:a", "aac_adtstoasc", "-y", output}
}

func audioArgs(input, output string) []string {
	return []string{"-i", input, "-q:a", "0", "-map", "a", "-y", output}
}

func frameArgs(input string, timestamp float64, output string) []string {
	return []string{"-ss", fmt.Sprintf("%.2f", timestamp), "-i", input, "-vframes", "1", "-q:v", "2", "-y", output}
}

// run executes ffmpeg and folds the tail of stderr into the error.
func (p *VideoProcessor) run(ctx context.Context, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.ffmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// IsAvailable checks if ffmpeg is available on the system.
func IsAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	if err != nil {
		return false
	}
	_, err = exec.LookPath("ffprobe")
	return err == nil
}

// GetVersion returns the ffmpeg version string.
func GetVersion() (string, error) {
	output, err := exec.Command("ffmpeg", "-version").Output()
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(output), "\n")
	if first = strings.TrimSpace(first); first != "" {
		return first, nil
	}
	return "unknown", nil
}
