// Package whisper is a client for OpenAI-compatible speech-to-text endpoints.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client transcribes audio.
type Client interface {
	// Transcribe converts audio to text.
	Transcribe(ctx context.Context, req TranscriptionRequest) (*TranscriptionResponse, error)
	// TranscribeFile is a convenience method that takes a file path.
	TranscribeFile(ctx context.Context, audioPath string, opts TranscriptionOptions) (*TranscriptionResponse, error)
}

// Timestamp granularities accepted by the API.
const (
	GranularityWord    = "word"
	GranularitySegment = "segment"
)

// TranscriptionRequest contains the audio data and options for transcription.
type TranscriptionRequest struct {
	AudioData   io.Reader
	Filename    string
	Model       string // ignored in Azure mode, where the deployment selects the model
	Language    string // ISO-639-1 code, e.g. "en"
	Prompt      string
	Temperature float64
	// Granularities defaults to word and segment.
	Granularities []string
}

// TranscriptionOptions for convenience methods.
type TranscriptionOptions struct {
	Model         string
	Language      string
	Prompt        string
	Temperature   float64
	Granularities []string
}

// TranscriptionResponse is the verbose_json transcription result.
type TranscriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
	Words    []TranscriptionWord    `json:"words,omitempty"`
}

// TranscriptionSegment represents a segment of the transcription with timing.
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionWord is a single word with timing.
type TranscriptionWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	apiKey     string
	endpoint   string
	azure      bool
	model      string
	language   string
	httpClient *http.Client
}

// Config for creating a new Whisper client.
// Setting AzureEndpoint switches to the Azure OpenAI deployment URL scheme.
type Config struct {
	APIKey        string
	BaseURL       string // defaults to the OpenAI API
	Model         string // defaults to "whisper-1"
	Language      string
	AzureEndpoint string
	APIVersion    string
	Deployment    string
	Timeout       time.Duration // defaults to 5 minutes
}

// NewClient creates a new transcription client.
func NewClient(cfg Config) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	c := &HTTPClient{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	if cfg.AzureEndpoint != "" {
		c.azure = true
		c.endpoint = fmt.Sprintf("%s/openai/deployments/%s/audio/transcriptions?api-version=%s",
			strings.TrimRight(cfg.AzureEndpoint, "/"),
			url.PathEscape(cfg.Deployment),
			url.QueryEscape(cfg.APIVersion),
		)
	} else {
		c.endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/audio/transcriptions"
	}
	return c
}

// Endpoint returns the transcription URL requests are sent to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Transcribe sends audio to the transcription endpoint.
func (c *HTTPClient) Transcribe(ctx context.Context, req TranscriptionRequest) (*TranscriptionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Language == "" {
		req.Language = c.language
	}
	if len(req.Granularities) == 0 {
		req.Granularities = []string{GranularityWord, GranularitySegment}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.AudioData); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	fields := [][2]string{{"response_format", "verbose_json"}}
	if !c.azure {
		fields = append(fields, [2]string{"model", req.Model})
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	if req.Prompt != "" {
		fields = append(fields, [2]string{"prompt", req.Prompt})
	}
	if req.Temperature > 0 {
		fields = append(fields, [2]string{"temperature", fmt.Sprintf("%.2f", req.Temperature)})
	}
	for _, g := range req.Granularities {
		fields = append(fields, [2]string{"timestamp_granularities[]", g})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if c.azure {
		httpReq.Header.Set("api-key", c.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result TranscriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// TranscribeFile transcribes an audio file from disk.
func (c *HTTPClient) TranscribeFile(ctx context.Context, audioPath string, opts TranscriptionOptions) (*TranscriptionResponse, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	return c.Transcribe(ctx, TranscriptionRequest{
		AudioData:     file,
		Filename:      filepath.Base(audioPath),
		Model:         opts.Model,
		Language:      opts.Language,
		Prompt:        opts.Prompt,
		Temperature:   opts.Temperature,
		Granularities: opts.Granularities,
	})
}

// SupportedFormats returns the audio formats accepted by the API.
func SupportedFormats() []string {
	return []string{
		"flac", "m4a", "mp3", "mp4", "mpeg", "mpga", "oga", "ogg", "wav", "webm",
	}
}

// IsSupportedFormat checks if a file format is supported.
func IsSupportedFormat(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// MaxFileSize is the maximum upload size accepted by the API (25MB).
const MaxFileSize = 25 * 1024 * 1024
