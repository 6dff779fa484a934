package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/internal/monitor"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMonitor struct {
	state    monitor.State
	checkNow bool
	pauses   int
	resumes  int
}

func (f *fakeMonitor) Status() monitor.Status {
	return monitor.Status{State: f.state, Interval: "1m0s"}
}

func (f *fakeMonitor) Pause() {
	f.pauses++
	f.state = monitor.StatePaused
}

func (f *fakeMonitor) Resume() {
	f.resumes++
	f.state = monitor.StateRunning
}

func (f *fakeMonitor) CheckNow() bool { return f.checkNow }

type fakeActivity struct {
	events []monitor.ActivityEvent
	err    error
	limit  int
}

func (f *fakeActivity) GetRecent(limit int) ([]monitor.ActivityEvent, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

// failingRuns is a RunRepository whose reads always fail.
type failingRuns struct {
	repository.RunRepository
}

func (failingRuns) Stats(ctx context.Context) (*repository.RunStats, error) {
	return nil, errors.New("database is locked")
}

func (failingRuns) List(ctx context.Context, filter repository.RunFilter) ([]*domain.RunRecord, error) {
	return nil, errors.New("database is locked")
}

func (failingRuns) Get(ctx context.Context, id domain.RunID) (*domain.RunRecord, error) {
	return nil, errors.New("database is locked")
}

func newProcessedSet(t *testing.T, entries ...string) *repository.FileProcessedSet {
	t.Helper()
	set, err := repository.NewFileProcessedSet(filepath.Join(t.TempDir(), "processed.txt"))
	if err != nil {
		t.Fatalf("NewFileProcessedSet failed: %v", err)
	}
	for _, e := range entries {
		if err := set.Add(e); err != nil {
			t.Fatal(err)
		}
	}
	return set
}

func seedRuns(t *testing.T) *repository.InMemoryRunRepository {
	t.Helper()
	repo := repository.NewInMemoryRunRepository(10)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	done := domain.NewRunRecord("run-1", "at://did:plc:a/app.bsky.feed.post/1")
	done.StartedAt = base
	done.MarkDone(domain.RunNoteReplied)

	failed := domain.NewRunRecord("run-2", "at://did:plc:a/app.bsky.feed.post/2")
	failed.StartedAt = base.Add(time.Minute)
	failed.Advance(domain.RunStateDownloading)
	failed.MarkFailed(domain.RunStateDownloading, domain.ErrDownloadFailed)

	for _, run := range []*domain.RunRecord{done, failed} {
		if err := repo.Save(context.Background(), run); err != nil {
			t.Fatal(err)
		}
	}
	return repo
}
