package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActivityEvent is a single entry of the activity log.
type ActivityEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"` // "success", "failed", "paused", "resumed", "check_now"
	Mentions  int       `json:"mentions,omitempty"`
	New       int       `json:"new,omitempty"`
	Processed int       `json:"processed,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ActivityLog keeps the most recent events in a JSON lines file.
type ActivityLog struct {
	path string
	mu   sync.Mutex
	max  int
	now  func() time.Time
}

// NewActivityLog creates an activity log. An empty path disables it.
func NewActivityLog(path string, maxEntries int) *ActivityLog {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &ActivityLog{
		path: path,
		max:  maxEntries,
		now:  time.Now,
	}
}

// Append stamps and adds an event, trimming the log to its maximum size.
func (a *ActivityLog) Append(event ActivityEvent) error {
	if a.path == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create activity log dir: %w", err)
	}

	entries, _ := a.readEntriesLocked()
	event.Timestamp = a.now()
	entries = append(entries, event)
	if len(entries) > a.max {
		entries = entries[len(entries)-a.max:]
	}
	return a.writeEntriesLocked(entries)
}

// GetRecent returns up to limit events, newest first. A limit of 0 returns all.
func (a *ActivityLog) GetRecent(limit int) ([]ActivityEvent, error) {
	if a.path == "" {
		return []ActivityEvent{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.readEntriesLocked()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []ActivityEvent{}
	}
	return entries, nil
}

func (a *ActivityLog) readEntriesLocked() ([]ActivityEvent, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []ActivityEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event ActivityEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, event)
	}
	return entries, scanner.Err()
}

func (a *ActivityLog) writeEntriesLocked(entries []ActivityEvent) error {
	tmp := a.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create activity log: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode activity: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write activity log: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close activity log: %w", err)
	}
	return os.Rename(tmp, a.path)
}
