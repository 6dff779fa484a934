package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

const hlsPlaylistName = "playlist.m3u8"

// Acquirer turns a video URL into a local MP4 file.
type Acquirer struct {
	dir          string
	downloader   Downloader
	remuxer      Remuxer
	minFreeBytes int64
	logger       *slog.Logger

	now       func() time.Time
	freeSpace func(path string) int64
}

// NewAcquirer creates an acquirer writing into dir.
// HLS playlists go through remuxer, everything else through downloader.
func NewAcquirer(dir string, downloader Downloader, remuxer Remuxer, minFreeBytes int64, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		dir:          dir,
		downloader:   downloader,
		remuxer:      remuxer,
		minFreeBytes: minFreeBytes,
		logger:       logger,
		now:          time.Now,
		freeSpace:    FreeDiskSpace,
	}
}

// IsHLS reports whether rawURL points at an HLS playlist.
func IsHLS(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), ".m3u8")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// Acquire downloads or remuxes rawURL. No partial file is left behind on failure.
func (a *Acquirer) Acquire(ctx context.Context, rawURL string) (*domain.DownloadedVideo, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w: %w", err, domain.ErrDownloadFailed)
	}
	if err := a.checkFreeSpace(); err != nil {
		return nil, err
	}

	name := a.OutputName(rawURL)
	finalPath := filepath.Join(a.dir, name)
	partPath := finalPath + ".part"

	logger := a.logger.With("url", rawURL, "path", finalPath)
	start := time.Now()

	var err error
	if IsHLS(rawURL) {
		logger.Info("remuxing HLS stream")
		err = a.remux(ctx, rawURL, partPath)
	} else {
		logger.Info("downloading video")
		err = a.fetch(ctx, rawURL, partPath)
	}
	if err != nil {
		os.Remove(partPath)
		return nil, err
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		return nil, fmt.Errorf("finalize %s: %w: %w", finalPath, err, domain.ErrDownloadFailed)
	}

	logger.Info("video acquired", "duration_ms", time.Since(start).Milliseconds())
	return &domain.DownloadedVideo{Path: finalPath, SourceURL: rawURL}, nil
}

// OutputName derives the local file name for rawURL:
// {unix}_{base}video.mp4 for playlists, {unix}_{last segment} otherwise.
func (a *Acquirer) OutputName(rawURL string) string {
	ts := a.now().Unix()
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	last := path.Base(p)
	if last == "/" || last == "." {
		last = ""
	}

	if IsHLS(rawURL) {
		base := strings.TrimSuffix(last, hlsPlaylistName)
		if base == "" {
			// CDN playlists are all named playlist.m3u8; the parent segment is the blob CID.
			if parent := path.Base(path.Dir(p)); parent != "/" && parent != "." {
				base = parent + "_"
			}
		} else {
			base = strings.TrimSuffix(base, ".m3u8") + "_"
		}
		return fmt.Sprintf("%d_%svideo.mp4", ts, sanitize(base))
	}

	if last == "" {
		last = "video"
	}
	if filepath.Ext(last) == "" {
		last += ".mp4"
	}
	return fmt.Sprintf("%d_%s", ts, sanitize(last))
}

func (a *Acquirer) remux(ctx context.Context, playlistURL, partPath string) error {
	if a.remuxer == nil {
		return fmt.Errorf("no remuxer configured for HLS: %w", domain.ErrDownloadFailed)
	}
	if err := a.remuxer.Remux(ctx, playlistURL, partPath); err != nil {
		return fmt.Errorf("remux: %w: %w", err, domain.ErrDownloadFailed)
	}
	info, err := os.Stat(partPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("remux produced no output: %w", domain.ErrDownloadFailed)
	}
	return nil
}

func (a *Acquirer) fetch(ctx context.Context, rawURL, partPath string) error {
	body, _, err := a.downloader.Download(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create file: %w: %w", err, domain.ErrDownloadFailed)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write video: %w: %w", err, domain.ErrDownloadFailed)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w: %w", err, domain.ErrDownloadFailed)
	}
	return nil
}

func (a *Acquirer) checkFreeSpace() error {
	if a.minFreeBytes <= 0 {
		return nil
	}
	free := a.freeSpace(a.dir)
	// Zero means the platform could not report; do not block on it.
	if free > 0 && free < a.minFreeBytes {
		return fmt.Errorf("%d bytes free in %s, need %d: %w", free, a.dir, a.minFreeBytes, domain.ErrStorageFull)
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
