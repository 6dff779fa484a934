package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/circularmachines/sharedinventory/internal/api"
	"github.com/circularmachines/sharedinventory/internal/config"
)

// stubPoller returns delay after its context ends, like a monitor finishing
// the mention it was processing.
type stubPoller struct {
	delay   time.Duration
	err     error
	stopped atomic.Bool
}

func (p *stubPoller) Start(ctx context.Context) error {
	if p.err != nil {
		return p.err
	}
	<-ctx.Done()
	time.Sleep(p.delay)
	p.stopped.Store(true)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunDaemon_WaitsForMonitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &stubPoller{delay: 100 * time.Millisecond}
	if err := runDaemon(ctx, &config.Config{}, p, api.Handlers{}, discardLogger()); err != nil {
		t.Fatalf("runDaemon failed: %v", err)
	}
	if !p.stopped.Load() {
		t.Error("runDaemon returned before the monitor stopped")
	}
}

func TestRunDaemon_MonitorStopTimeout(t *testing.T) {
	old := monitorStopTimeout
	monitorStopTimeout = 50 * time.Millisecond
	t.Cleanup(func() { monitorStopTimeout = old })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	p := &stubPoller{delay: 2 * time.Second}
	err := runDaemon(ctx, &config.Config{}, p, api.Handlers{}, discardLogger())
	if !errors.Is(err, errMonitorStopTimeout) {
		t.Errorf("error = %v, want errMonitorStopTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("runDaemon took %v, want about the stop timeout", elapsed)
	}
}

func TestRunDaemon_MonitorError(t *testing.T) {
	want := errors.New("bad schedule")
	p := &stubPoller{err: want}
	if err := runDaemon(context.Background(), &config.Config{}, p, api.Handlers{}, discardLogger()); !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}
