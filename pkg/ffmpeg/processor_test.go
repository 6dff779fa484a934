package ffmpeg

import (
	"context"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
)

func TestParseProbeOutput(t *testing.T) {
	out := []byte(`{
		"format": {"duration": "31.250000", "bit_rate": "1200000"},
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "avg_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac"}
		]
	}`)

	info, err := parseProbeOutput(out)
	if err != nil {
		t.Fatalf("parseProbeOutput failed: %v", err)
	}
	if info.Duration != 31.25 {
		t.Errorf("Duration = %v, want 31.25", info.Duration)
	}
	if !info.HasAudio || info.AudioCodec != "aac" {
		t.Errorf("audio = %v/%q", info.HasAudio, info.AudioCodec)
	}
	if info.Width != 1280 || info.Height != 720 || info.VideoCodec != "h264" {
		t.Errorf("video = %dx%d %q", info.Width, info.Height, info.VideoCodec)
	}
	if info.FrameRate < 29.9 || info.FrameRate > 30 {
		t.Errorf("FrameRate = %v", info.FrameRate)
	}
	if info.Bitrate != 1200000 {
		t.Errorf("Bitrate = %d", info.Bitrate)
	}
}

func TestParseProbeOutput_Invalid(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		if got := parseRate(tt.in); got != tt.want {
			t.Errorf("parseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{
			name: "remux",
			got:  remuxArgs("https://v/playlist.m3u8", "out.mp4"),
			want: []string{"-i", "https://v/playlist.m3u8", "-c", "copy", "-bsf:a", "aac_adtstoasc", "-y", "out.mp4"},
		},
		{
			name: "audio",
			got:  audioArgs("in.mp4", "audio/in.mp3"),
			want: []string{"-i", "in.mp4", "-q:a", "0", "-map", "a", "-y", "audio/in.mp3"},
		},
		{
			name: "frame",
			got:  frameArgs("in.mp4", 12.5, "f.jpg"),
			want: []string{"-ss", "12.50", "-i", "in.mp4", "-vframes", "1", "-q:v", "2", "-y", "f.jpg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !slices.Equal(tt.got, tt.want) {
				t.Errorf("args = %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestOutputsMustExist(t *testing.T) {
	// true exits zero without writing anything.
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	p := &VideoProcessor{ffmpegPath: truePath, ffprobePath: truePath}
	dir := t.TempDir()
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"remux", func() error { return p.Remux(ctx, "https://v/playlist.m3u8", filepath.Join(dir, "v.mp4")) }},
		{"audio", func() error { return p.ExtractAudio(ctx, "in.mp4", filepath.Join(dir, "audio", "a.mp3")) }},
		{"frame", func() error { return p.ExtractFrame(ctx, "in.mp4", 1, filepath.Join(dir, "frames", "f.jpg")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); err == nil {
				t.Error("expected error when ffmpeg exits zero without output")
			}
		})
	}
}
