package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestActivityLog_TrimsAndOrdersNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "activity.jsonl")
	log := NewActivityLog(path, 3)

	for i := 0; i < 5; i++ {
		if err := log.Append(ActivityEvent{Status: fmt.Sprintf("e%d", i)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := log.GetRecent(0)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Status != "e4" || events[2].Status != "e2" {
		t.Errorf("order = %s, %s, %s", events[0].Status, events[1].Status, events[2].Status)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("events should be timestamped")
	}

	limited, _ := log.GetRecent(1)
	if len(limited) != 1 || limited[0].Status != "e4" {
		t.Errorf("GetRecent(1) = %+v", limited)
	}
}

func TestActivityLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	content := `{"status":"success","mentions":3}` + "\nnot json\n" + `{"status":"failed","error":"boom"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	events, err := NewActivityLog(path, 10).GetRecent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Error != "boom" || events[1].Mentions != 3 {
		t.Errorf("events = %+v", events)
	}
}

func TestActivityLog_DisabledWithoutPath(t *testing.T) {
	log := NewActivityLog("", 10)
	if err := log.Append(ActivityEvent{Status: "success"}); err != nil {
		t.Errorf("Append = %v", err)
	}
	events, err := log.GetRecent(5)
	if err != nil || len(events) != 0 {
		t.Errorf("GetRecent = %v, %v", events, err)
	}
}
