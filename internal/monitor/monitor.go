// Package monitor polls for mentions and hands them to a processor one at a time.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// MentionSource lists recent mentions of the account.
type MentionSource interface {
	ListMentions(ctx context.Context, limit int) ([]domain.MentionRef, error)
}

// SeenMarker marks notifications as read.
type SeenMarker interface {
	UpdateSeen(ctx context.Context, seenAt time.Time) error
}

// Processor handles a single mention.
type Processor interface {
	Process(ctx context.Context, mention domain.MentionRef) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, mention domain.MentionRef) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, mention domain.MentionRef) error {
	return f(ctx, mention)
}

// PollRecorder receives poll metrics.
type PollRecorder interface {
	PollCompleted(at time.Time, err error)
}

// State is the monitor lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Config configures the monitor.
type Config struct {
	Interval     time.Duration
	MentionLimit int
	MentionDelay time.Duration
	MarkSeen     bool
	ActivityPath string
	ActivitySize int
}

// Status is a point-in-time view of the monitor.
type Status struct {
	State     State     `json:"state"`
	Interval  string    `json:"interval"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
	Polls     int       `json:"polls"`
}

// Monitor runs a single poll loop. Scheduled ticks and CheckNow requests are
// delivered to that loop, so polls never overlap.
type Monitor struct {
	cfg       Config
	source    MentionSource
	seen      SeenMarker
	processor Processor
	recorder  PollRecorder
	logger    *slog.Logger

	mu        sync.RWMutex
	state     State
	lastPoll  time.Time
	lastError string
	polls     int

	checkNow chan struct{}
	tick     chan struct{}
	activity *ActivityLog

	pollMu sync.Mutex

	// handled holds mention URIs that finished without error and are
	// still returned by the source.
	handled map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a monitor. seen and recorder may be nil.
func New(cfg Config, source MentionSource, seen SeenMarker, processor Processor, recorder PollRecorder, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MentionLimit <= 0 {
		cfg.MentionLimit = 20
	}
	return &Monitor{
		cfg:       cfg,
		source:    source,
		seen:      seen,
		processor: processor,
		recorder:  recorder,
		logger:    logger,
		state:     StateIdle,
		checkNow:  make(chan struct{}, 1),
		tick:      make(chan struct{}, 1),
		activity:  NewActivityLog(cfg.ActivityPath, cfg.ActivitySize),
		handled:   make(map[string]struct{}),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current monitor state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a snapshot for status endpoints.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:     m.state,
		Interval:  m.cfg.Interval.String(),
		LastPoll:  m.lastPoll,
		LastError: m.lastError,
		Polls:     m.polls,
	}
}

// Activity returns the activity log.
func (m *Monitor) Activity() *ActivityLog {
	return m.activity
}

// Pause stops scheduled polls until Resume.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		m.state = StatePaused
		m.logger.Info("mention monitor paused")
		_ = m.activity.Append(ActivityEvent{Status: "paused"})
	}
}

// Resume restarts scheduled polls.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePaused {
		m.state = StateRunning
		m.logger.Info("mention monitor resumed")
		_ = m.activity.Append(ActivityEvent{Status: "resumed"})
	}
}

// CheckNow requests an immediate poll. It returns false when the monitor is
// not running or a request is already pending.
func (m *Monitor) CheckNow() bool {
	if m.State() != StateRunning {
		return false
	}
	select {
	case m.checkNow <- struct{}{}:
		m.logger.Info("check-now triggered")
		_ = m.activity.Append(ActivityEvent{Status: "check_now"})
		return true
	default:
		return false
	}
}

// Start polls once, then on every scheduled tick until ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	scheduler := cron.New()
	spec := fmt.Sprintf("@every %s", m.cfg.Interval)
	if _, err := scheduler.AddFunc(spec, m.signalTick); err != nil {
		return fmt.Errorf("schedule poll %q: %w", spec, err)
	}

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()

	m.logger.Info("starting mention monitor",
		"interval", m.cfg.Interval.String(),
		"mention_limit", m.cfg.MentionLimit,
		"mention_delay", m.cfg.MentionDelay.String(),
	)

	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		m.logger.Info("mention monitor stopped")
	}()

	m.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.checkNow:
			m.Poll(ctx)
		case <-m.tick:
			if m.State() == StatePaused {
				continue
			}
			m.Poll(ctx)
		}
	}
}

// signalTick never blocks; a tick that arrives while one is pending is dropped.
func (m *Monitor) signalTick() {
	select {
	case m.tick <- struct{}{}:
	default:
	}
}

// Poll fetches mentions and processes the new ones sequentially.
func (m *Monitor) Poll(ctx context.Context) error {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	started := time.Now()
	m.mu.Lock()
	m.lastPoll = started
	m.polls++
	m.mu.Unlock()

	mentions, err := m.source.ListMentions(ctx, m.cfg.MentionLimit)
	if err != nil {
		m.logger.Warn("mention poll failed", "error", err, "error_kind", domain.ErrorKind(err))
		m.setLastError(err.Error())
		_ = m.activity.Append(ActivityEvent{Status: "failed", Error: err.Error()})
		if m.recorder != nil {
			m.recorder.PollCompleted(started, err)
		}
		return err
	}

	current := make(map[string]struct{}, len(mentions))
	pending := make([]domain.MentionRef, 0, len(mentions))
	for _, mention := range mentions {
		current[mention.URI] = struct{}{}
		if _, ok := m.handled[mention.URI]; ok {
			continue
		}
		pending = append(pending, mention)
	}
	for uri := range m.handled {
		if _, ok := current[uri]; !ok {
			delete(m.handled, uri)
		}
	}

	processed, failed := 0, 0
	for i, mention := range pending {
		if ctx.Err() != nil || m.State() == StatePaused {
			break
		}
		if i > 0 {
			if err := m.sleep(ctx, m.cfg.MentionDelay); err != nil {
				break
			}
		}

		if err := m.processor.Process(ctx, mention); err != nil {
			failed++
			m.logger.Debug("mention will be retried on a later poll", "mention_uri", mention.URI, "error", err)
			continue
		}
		processed++
		m.handled[mention.URI] = struct{}{}
	}

	m.setLastError("")
	m.logger.Info("mention poll complete",
		"mentions", len(mentions),
		"new", len(pending),
		"processed", processed,
		"failed", failed,
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)
	_ = m.activity.Append(ActivityEvent{
		Status:    "success",
		Mentions:  len(mentions),
		New:       len(pending),
		Processed: processed,
		Failed:    failed,
	})

	if m.cfg.MarkSeen && m.seen != nil && ctx.Err() == nil {
		if err := m.seen.UpdateSeen(ctx, started); err != nil {
			m.logger.Warn("failed to mark notifications seen", "error", err)
		}
	}
	if m.recorder != nil {
		m.recorder.PollCompleted(started, nil)
	}
	return nil
}

func (m *Monitor) setLastError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}
