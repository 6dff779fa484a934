// Package llm calls a chat-completion model for a structured reply.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// Reply is the structured output requested from the model.
type Reply struct {
	Response string   `json:"response" jsonschema_description:"Follow instructions for response"`
	Keywords []string `json:"list_of_keywords" jsonschema_description:"A list of relevant keywords extracted from the content"`
}

const jsonInstructions = "Your response must be a valid JSON object with the following structure: " +
	`{"friendly_response": "your response text here", "list_of_keywords": ["keyword1", "keyword2", ...]}`

const defaultSystem = "You are a helpful assistant. Analyze the provided content and respond accordingly."

// Config configures the model client. Setting AzureEndpoint selects an Azure
// OpenAI deployment, in which case Model is the deployment name.
type Config struct {
	APIKey        string
	BaseURL       string
	AzureEndpoint string
	APIVersion    string
	Model         string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	MaxRetries    int
}

// Client calls the model.
type Client struct {
	openai      openai.Client
	model       string
	maxTokens   int
	temperature float64
	schema      any
	logger      *slog.Logger
}

// New creates a model client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key: %w", domain.ErrMissingCredentials)
	}

	var opts []option.RequestOption
	if cfg.AzureEndpoint != "" {
		opts = append(opts,
			azure.WithEndpoint(cfg.AzureEndpoint, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	return &Client{
		openai:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		schema:      GenerateSchema[Reply](),
		logger:      logger,
	}, nil
}

// Model returns the model or deployment name in use.
func (c *Client) Model() string {
	return c.model
}

// Call sends messages and returns the model's reply. It asks for a strict JSON
// schema first and falls back to plain JSON mode with inline instructions.
func (c *Client) Call(ctx context.Context, messages []domain.PromptMessage) (*domain.ModelReply, error) {
	if len(messages) == 0 {
		return nil, domain.ErrNoMessages
	}
	if c.logger.Enabled(ctx, slog.LevelDebug) {
		c.logger.Debug("calling model", "model", c.model, "messages", summarize(messages))
	}

	reply, err := c.callStructured(ctx, messages)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelCallFailed, ctx.Err())
	}
	c.logger.Warn("structured call failed, falling back to JSON mode", "error", err)

	return c.callJSONMode(ctx, messages)
}

func (c *Client) callStructured(ctx context.Context, messages []domain.PromptMessage) (*domain.ModelReply, error) {
	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  convertMessages(messages),
		MaxTokens: openai.Int(int64(c.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "reply",
					Description: openai.String("Reply to post and extracted keywords"),
					Schema:      c.schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}

	content, err := c.complete(ctx, params)
	if err != nil {
		return nil, err
	}

	var r Reply
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return nil, fmt.Errorf("unmarshal structured reply: %w", err)
	}
	if strings.TrimSpace(r.Response) == "" {
		return nil, domain.ErrMalformedModelResponse
	}
	return &domain.ModelReply{Response: r.Response, Keywords: r.Keywords}, nil
}

func (c *Client) callJSONMode(ctx context.Context, messages []domain.PromptMessage) (*domain.ModelReply, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    convertMessages(withJSONInstructions(messages)),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	content, err := c.complete(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelCallFailed, err)
	}
	return ParseReply(content)
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	c.logger.Debug("model call completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return resp.Choices[0].Message.Content, nil
}

// ParseReply extracts a reply from raw model text. Code fences are stripped,
// and either "response" or "friendly_response" is accepted.
func ParseReply(content string) (*domain.ModelReply, error) {
	var raw struct {
		Response         string   `json:"response"`
		FriendlyResponse string   `json:"friendly_response"`
		Keywords         []string `json:"list_of_keywords"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedModelResponse, err)
	}

	text := raw.Response
	if strings.TrimSpace(text) == "" {
		text = raw.FriendlyResponse
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrMalformedModelResponse)
	}
	return &domain.ModelReply{Response: text, Keywords: raw.Keywords}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // language tag
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// withJSONInstructions appends the JSON contract to the system message,
// inserting a system message when there is none.
func withJSONInstructions(messages []domain.PromptMessage) []domain.PromptMessage {
	out := make([]domain.PromptMessage, 0, len(messages)+1)
	found := false
	for _, m := range messages {
		if m.Role == domain.RoleSystem && !m.IsMultipart() {
			found = true
			m.Text = m.Text + " " + jsonInstructions
		}
		out = append(out, m)
	}
	if !found {
		sys := domain.PromptMessage{Role: domain.RoleSystem, Text: defaultSystem + " " + jsonInstructions}
		out = append([]domain.PromptMessage{sys}, out...)
	}
	return out
}

func convertMessages(messages []domain.PromptMessage) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			result = append(result, openai.SystemMessage(m.Text))
		case domain.RoleAssistant:
			result = append(result, openai.AssistantMessage(m.Text))
		default:
			if !m.IsMultipart() {
				result = append(result, openai.UserMessage(m.Text))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
			for _, p := range m.Parts {
				switch p.Type {
				case domain.ContentPartImage:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: p.ImageURL}))
				default:
					parts = append(parts, openai.TextContentPart(p.Text))
				}
			}
			result = append(result, openai.UserMessage(parts))
		}
	}
	return result
}

// summarize renders messages for debug logs with data URLs shortened.
func summarize(messages []domain.PromptMessage) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if !m.IsMultipart() {
			out = append(out, string(m.Role)+": "+truncate(m.Text, 120))
			continue
		}
		var b strings.Builder
		b.WriteString(string(m.Role) + ":")
		for _, p := range m.Parts {
			if p.Type == domain.ContentPartImage {
				b.WriteString(" [image " + ShortenDataURL(p.ImageURL) + "]")
			} else {
				b.WriteString(" " + truncate(p.Text, 120))
			}
		}
		out = append(out, b.String())
	}
	return out
}

// ShortenDataURL keeps the media type of a data URL and replaces the payload with its size.
func ShortenDataURL(u string) string {
	head, payload, ok := strings.Cut(u, ",")
	if !ok || !strings.HasPrefix(head, "data:") {
		return truncate(u, 80)
	}
	return fmt.Sprintf("%s,...(%d bytes)", head, len(payload))
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}

// GenerateSchema reflects a strict JSON schema for T.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
