package domain

import (
	"time"
)

// RunID is a unique identifier for a pipeline run.
type RunID string

// String returns the string representation of the RunID.
func (id RunID) String() string {
	return string(id)
}

// RunState is a state of the mention pipeline state machine.
type RunState string

const (
	RunStateFetching        RunState = "fetching"
	RunStateThreadResolved  RunState = "thread_resolved"
	RunStateDedupChecked    RunState = "dedup_checked"
	RunStateMediaChecked    RunState = "media_checked"
	RunStateDownloading     RunState = "downloading"
	RunStateVideoProcessed  RunState = "video_processed"
	RunStatePromptComposed  RunState = "prompt_composed"
	RunStateModelCalled     RunState = "model_called"
	RunStateReplied         RunState = "replied"
	RunStateMarkedProcessed RunState = "marked_processed"
	RunStateDone            RunState = "done"
	RunStateFailed          RunState = "failed"
)

// IsTerminal reports whether no further transition can happen from s.
func (s RunState) IsTerminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// Run notes explain why a run reached RunStateDone.
const (
	RunNoteAlreadyProcessed  = "already_processed"
	RunNoteNoMedia           = "no_media"
	RunNoteVideoUnresolvable = "video_unresolvable"
	RunNoteReplied           = "replied"
)

// RunRecord captures one pipeline execution for a single mention.
type RunRecord struct {
	ID          RunID     `json:"id"`
	MentionURI  string    `json:"mention_uri"`
	RootURI     string    `json:"root_uri,omitempty"`
	State       RunState  `json:"state"`
	FailedStage RunState  `json:"failed_stage,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Note        string    `json:"note,omitempty"`
	VideoURL    string    `json:"video_url,omitempty"`
	VideoPath   string    `json:"video_path,omitempty"`
	Reply       string    `json:"reply,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// NewRunRecord creates a run in the fetching state.
func NewRunRecord(id RunID, mentionURI string) *RunRecord {
	return &RunRecord{
		ID:         id,
		MentionURI: mentionURI,
		State:      RunStateFetching,
		StartedAt:  time.Now(),
	}
}

// Advance moves the run to the next non-terminal state.
func (r *RunRecord) Advance(state RunState) {
	r.State = state
}

// MarkDone finishes the run successfully with a note.
func (r *RunRecord) MarkDone(note string) {
	r.State = RunStateDone
	r.Note = note
	r.FinishedAt = time.Now()
}

// MarkFailed finishes the run at the given stage.
func (r *RunRecord) MarkFailed(stage RunState, err error) {
	r.State = RunStateFailed
	r.FailedStage = stage
	r.ErrorKind = ErrorKind(err)
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = time.Now()
}

// Duration returns how long the run took, or zero while it is still running.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
