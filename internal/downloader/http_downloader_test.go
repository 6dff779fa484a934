package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/circularmachines/sharedinventory/internal/config"
	"github.com/circularmachines/sharedinventory/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{
		Timeout:       5 * time.Second,
		MaxAttempts:   3,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 100 * time.Millisecond,
		UserAgent:     "test-agent",
	}
}

func TestHTTPDownloader_Download_Success(t *testing.T) {
	content := []byte("video content data here")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		w.Header().Set("Content-Length", "23")
		w.Write(content)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	reader, size, err := dl.Download(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer reader.Close()

	if size != 23 {
		t.Errorf("size = %d, want 23", size)
	}
	data, _ := io.ReadAll(reader)
	if string(data) != string(content) {
		t.Errorf("content = %q, want %q", string(data), string(content))
	}
}

func TestHTTPDownloader_Download_StatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantAttempts int32
		wantErr      error
	}{
		{"forbidden is not retried", http.StatusForbidden, 1, domain.ErrURLExpired},
		{"unauthorized is not retried", http.StatusUnauthorized, 1, domain.ErrURLExpired},
		{"not found is not retried", http.StatusNotFound, 1, domain.ErrDownloadFailed},
		{"server error is retried", http.StatusBadGateway, 3, domain.ErrDownloadFailed},
		{"rate limit is retried", http.StatusTooManyRequests, 3, domain.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			dl := NewHTTPDownloader(testConfig(), testLogger())
			_, _, err := dl.Download(context.Background(), server.URL)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, domain.ErrDownloadFailed) {
				t.Errorf("error = %v, want ErrDownloadFailed in chain", err)
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestHTTPDownloader_Download_RecoversAfterRateLimit(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("success"))
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	reader, _, err := dl.Download(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Download should succeed after retries: %v", err)
	}
	reader.Close()

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestHTTPDownloader_Download_ContextCanceled(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	dl := NewHTTPDownloader(testConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := dl.Download(ctx, server.URL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got := attempts.Load(); got > 1 {
		t.Errorf("attempts = %d, cancelled context must not be retried", got)
	}
}

func TestHTTPDownloader_Download_StalledBodyFails(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Timeout = 0
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.MaxAttempts = 1

	dl := NewHTTPDownloader(cfg, testLogger())
	reader, _, err := dl.Download(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer reader.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, reader)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, errStalled) {
			t.Errorf("copy error = %v, want stall error", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("read still blocked long after the read timeout")
	}
}

func TestHTTPDownloader_Download_SlowBodyWithinReadTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			w.Write([]byte("chunk"))
			w.(http.Flusher).Flush()
			time.Sleep(40 * time.Millisecond)
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.ReadTimeout = 150 * time.Millisecond

	dl := NewHTTPDownloader(cfg, testLogger())
	reader, _, err := dl.Download(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(data) != 25 {
		t.Errorf("read %d bytes, want 25", len(data))
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", domain.ErrRateLimited, true},
		{"URL expired", domain.ErrURLExpired, false},
		{"client error", errNotRetryable, false},
		{"cancelled", context.Canceled, false},
		{"generic error", io.EOF, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
