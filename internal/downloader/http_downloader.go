package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/circularmachines/sharedinventory/internal/config"
	"github.com/circularmachines/sharedinventory/internal/domain"
)

// errNotRetryable marks client errors that repeat identically on retry.
var errNotRetryable = errors.New("not retryable")

// errStalled is the cancel cause of a download that stopped sending data.
var errStalled = errors.New("download stalled")

// HTTPDownloader implements Downloader using HTTP requests.
type HTTPDownloader struct {
	client      *http.Client
	userAgent   string
	readTimeout time.Duration
	retry       RetryConfig
	logger      *slog.Logger
}

// NewHTTPDownloader creates a new HTTP-based downloader. cfg.Timeout bounds a
// whole download and cfg.ReadTimeout bounds the gap between received bytes.
func NewHTTPDownloader(cfg config.DownloadConfig, logger *slog.Logger) *HTTPDownloader {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &HTTPDownloader{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		userAgent:   cfg.UserAgent,
		readTimeout: cfg.ReadTimeout,
		retry:       RetryConfigFrom(cfg),
		logger:      logger,
	}
}

type downloadResult struct {
	body io.ReadCloser
	size int64
}

// Download fetches url with retry and returns a progress-tracking reader.
func (d *HTTPDownloader) Download(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	attempt := 0
	res, err := RetryWithCheck(ctx, d.retry, func() (downloadResult, error) {
		attempt++
		body, size, err := d.downloadOnce(ctx, url)
		if err != nil {
			d.logger.Warn("download attempt failed", "url", url, "attempt", attempt, "error", err)
		}
		return downloadResult{body: body, size: size}, err
	}, IsRetryable)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", domain.ErrDownloadFailed, url, err)
	}
	return res.body, res.size, nil
}

func (d *HTTPDownloader) downloadOnce(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel(nil)
		return nil, 0, fmt.Errorf("create request: %w", errors.Join(err, errNotRetryable))
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "video/mp4,video/*;q=0.9,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		cancel(nil)
		return nil, 0, fmt.Errorf("send request: %w", err)
	}

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		cancel(nil)
		return nil, 0, err
	}

	size := resp.ContentLength
	if size < 0 {
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			size, _ = strconv.ParseInt(cl, 10, 64)
		}
	}

	return newProgressReader(ctx, cancel, resp.Body, size, d.readTimeout, d.logger, url), size, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return domain.ErrURLExpired
	case code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case code >= 500:
		return fmt.Errorf("unexpected status code: %d", code)
	case code < 200 || code > 299:
		return fmt.Errorf("unexpected status code %d: %w", code, errNotRetryable)
	}
	return nil
}

// progressReader wraps a response body to log progress. A watchdog cancels
// the request when no data arrives for readTimeout, which unblocks a Read
// that is waiting on a silent connection.
type progressReader struct {
	reader      io.ReadCloser
	ctx         context.Context
	cancel      context.CancelCauseFunc
	watchdog    *time.Timer
	total       int64
	downloaded  int64
	readTimeout time.Duration
	lastLog     time.Time
	logger      *slog.Logger
	url         string
	mu          sync.Mutex
	closed      bool
}

func newProgressReader(ctx context.Context, cancel context.CancelCauseFunc, r io.ReadCloser, total int64, readTimeout time.Duration, logger *slog.Logger, url string) *progressReader {
	p := &progressReader{
		reader:      r,
		ctx:         ctx,
		cancel:      cancel,
		total:       total,
		readTimeout: readTimeout,
		lastLog:     time.Now(),
		logger:      logger,
		url:         url,
	}
	if readTimeout > 0 {
		p.watchdog = time.AfterFunc(readTimeout, func() {
			cancel(fmt.Errorf("%w: no data received for %v", errStalled, readTimeout))
		})
	}
	return p
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	if n > 0 && p.watchdog != nil {
		p.watchdog.Reset(p.readTimeout)
	}
	if err != nil && err != io.EOF {
		if cause := context.Cause(p.ctx); errors.Is(cause, errStalled) {
			err = cause
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if n > 0 {
		p.downloaded += int64(n)
		if time.Since(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = time.Now()
		}
	}
	return n, err
}

func (p *progressReader) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	if p.downloaded > 0 {
		p.logProgress()
	}
	p.mu.Unlock()

	err := p.reader.Close()
	p.cancel(nil)
	return err
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		pct := float64(p.downloaded) / float64(p.total) * 100
		p.logger.Info("download progress",
			"url", p.url,
			"downloaded_mb", p.downloaded/(1024*1024),
			"total_mb", p.total/(1024*1024),
			"percent", fmt.Sprintf("%.1f%%", pct),
		)
		return
	}
	p.logger.Info("download progress",
		"url", p.url,
		"downloaded_mb", p.downloaded/(1024*1024),
	)
}
