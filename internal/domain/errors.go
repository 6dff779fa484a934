package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every domain error wraps exactly one of these.
var (
	// ErrNotFound marks an expected absence (thread, post, video URL).
	ErrNotFound = errors.New("not found")

	// ErrTransientIO marks network or subprocess failures that a later poll may not hit.
	ErrTransientIO = errors.New("transient I/O failure")

	// ErrValidation marks input or output that breaks a contract.
	ErrValidation = errors.New("validation failed")

	// ErrConfiguration marks missing or invalid configuration. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
)

// Domain errors.
var (
	// ErrThreadNotFound is returned when a thread cannot be resolved.
	ErrThreadNotFound = fmt.Errorf("thread %w", ErrNotFound)

	// ErrNoVideoURL is returned when a post carries no resolvable video URL.
	ErrNoVideoURL = fmt.Errorf("video URL %w", ErrNotFound)

	// ErrMemberNotFound is returned when a DID has no membership record.
	ErrMemberNotFound = fmt.Errorf("member %w", ErrNotFound)

	// ErrRunNotFound is returned when a pipeline run cannot be found.
	ErrRunNotFound = fmt.Errorf("run %w", ErrNotFound)

	// ErrDownloadFailed is returned when the video download or remux fails.
	ErrDownloadFailed = fmt.Errorf("video download failed: %w", ErrTransientIO)

	// ErrRateLimited is returned when rate limited by external services.
	ErrRateLimited = fmt.Errorf("rate limited: %w", ErrTransientIO)

	// ErrURLExpired is returned when the video URL is no longer accessible.
	ErrURLExpired = fmt.Errorf("video URL has expired: %w", ErrTransientIO)

	// ErrStorageFull is returned when there is insufficient storage space.
	ErrStorageFull = fmt.Errorf("insufficient storage space: %w", ErrTransientIO)

	// ErrTranscriptionFailed is returned when the speech-to-text call fails.
	ErrTranscriptionFailed = fmt.Errorf("transcription failed: %w", ErrTransientIO)

	// ErrNothingExtracted is returned when analysis produced neither transcript nor frames.
	ErrNothingExtracted = fmt.Errorf("no transcript or frames extracted: %w", ErrTransientIO)

	// ErrModelCallFailed is returned when the language model call fails.
	ErrModelCallFailed = fmt.Errorf("model call failed: %w", ErrTransientIO)

	// ErrReplyFailed is returned when the reply could not be posted.
	ErrReplyFailed = fmt.Errorf("reply failed: %w", ErrTransientIO)

	// ErrReplyTooLong is returned when reply text exceeds MaxReplyLength.
	ErrReplyTooLong = fmt.Errorf("reply exceeds %d characters: %w", MaxReplyLength, ErrValidation)

	// ErrMalformedModelResponse is returned when the model output has no usable reply.
	ErrMalformedModelResponse = fmt.Errorf("malformed model response: %w", ErrValidation)

	// ErrInvalidPostURI is returned when an at:// URI cannot be parsed.
	ErrInvalidPostURI = fmt.Errorf("invalid post URI: %w", ErrValidation)

	// ErrNoMessages is returned when prompt composition yields nothing.
	ErrNoMessages = fmt.Errorf("no prompt messages: %w", ErrValidation)

	// ErrMissingCredentials is returned when required credentials are not configured.
	ErrMissingCredentials = fmt.Errorf("missing credentials: %w", ErrConfiguration)
)

// MaxReplyLength is the single-post character ceiling of the platform.
const MaxReplyLength = 300

// ErrorKind classifies err into one of the error classes for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTransientIO):
		return "transient_io"
	default:
		return "unknown"
	}
}

// StageError wraps an error with the pipeline stage and mention it failed on.
type StageError struct {
	MentionURI string
	Stage      RunState
	Err        error
}

func (e *StageError) Error() string {
	if e.MentionURI != "" {
		return string(e.Stage) + " [" + e.MentionURI + "]: " + e.Err.Error()
	}
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(mentionURI string, stage RunState, err error) *StageError {
	return &StageError{
		MentionURI: mentionURI,
		Stage:      stage,
		Err:        err,
	}
}
