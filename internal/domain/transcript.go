package domain

// Frame is a sampled video frame on disk.
type Frame struct {
	Path string  `json:"path"`
	Time float64 `json:"time"`
}

// Word is a single word with timing.
type Word struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// TranscriptSegment is a time-bounded span of speech. Frames is filled in
// after frame sampling and persisted with the transcript.
type TranscriptSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Frames   []Frame `json:"frames,omitempty"`
}

// Midpoint returns the temporal centre of the segment.
func (s TranscriptSegment) Midpoint() float64 {
	return s.Start + (s.End-s.Start)/2
}

// TranscriptMetadata describes the source of a transcript.
type TranscriptMetadata struct {
	VideoID  string  `json:"video_id"`
	Filename string  `json:"filename,omitempty"`
	Filepath string  `json:"filepath,omitempty"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Transcript is the durable transcription artifact of a video.
type Transcript struct {
	Metadata TranscriptMetadata  `json:"metadata"`
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
	Words    []Word              `json:"words"`
}

// Analysis is the result of analysing a local video.
type Analysis struct {
	VideoPath      string      `json:"video_path"`
	AudioPath      string      `json:"audio_path,omitempty"`
	TranscriptPath string      `json:"transcript_path,omitempty"`
	Transcript     *Transcript `json:"transcript,omitempty"`
	Frames         []Frame     `json:"frames"`
}
