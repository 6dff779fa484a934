package downloader

import (
	"context"
	"io"
)

// Downloader streams remote content.
type Downloader interface {
	// Download fetches url and returns the body reader and its size (-1 if unknown).
	// Caller is responsible for closing the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// Remuxer copies an HLS stream into a single MP4 container.
type Remuxer interface {
	Remux(ctx context.Context, playlistURL, outputPath string) error
}

