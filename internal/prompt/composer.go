// Package prompt assembles the ordered multimodal messages sent to the model.
package prompt

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// DefaultSystemMessage is used when no system prompt is configured.
const DefaultSystemMessage = "You are a helpful assistant. Analyze the provided content and respond accordingly."

// imagesCaption introduces the standalone images message.
const imagesCaption = "Images attached to the post:"

// Input is everything a prompt can be composed from. All fields are optional.
type Input struct {
	SystemText string
	FreeText   string
	Transcript *domain.Transcript
	ImagePaths []string
}

// Composer builds prompt messages.
type Composer struct {
	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// NewComposer creates a new prompt composer.
func NewComposer(logger *slog.Logger) *Composer {
	return &Composer{logger: logger, readFile: os.ReadFile}
}

// Compose returns messages in a fixed order: system, free text, whole transcript
// (only when there are no segments), one message per segment, then standalone images.
func (c *Composer) Compose(in Input) ([]domain.PromptMessage, error) {
	system := strings.TrimSpace(in.SystemText)
	if system == "" {
		system = DefaultSystemMessage
	}
	messages := []domain.PromptMessage{{Role: domain.RoleSystem, Text: system}}

	if text := strings.TrimSpace(in.FreeText); text != "" {
		messages = append(messages, userText(text))
	}

	if t := in.Transcript; t != nil {
		if len(t.Segments) == 0 && strings.TrimSpace(t.Text) != "" {
			messages = append(messages, userText("Video transcript: "+strings.TrimSpace(t.Text)))
		}
		for _, seg := range t.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			label := fmt.Sprintf("Segment [%.1fs - %.1fs]: %s", seg.Start, seg.End, text)
			if len(seg.Frames) == 0 {
				messages = append(messages, userText(label))
				continue
			}
			paths := make([]string, 0, len(seg.Frames))
			for _, f := range seg.Frames {
				if f.Path != "" {
					paths = append(paths, f.Path)
				}
			}
			messages = append(messages, c.imageMessage(label, paths))
		}
	}

	if len(in.ImagePaths) > 0 {
		msg := c.imageMessage(imagesCaption, in.ImagePaths)
		if len(msg.Parts) > 1 {
			messages = append(messages, msg)
		}
	}

	if len(messages) == 0 {
		return nil, domain.ErrNoMessages
	}

	c.logger.Debug("prompt composed", "messages", len(messages))
	return messages, nil
}

// imageMessage returns a multipart message of text followed by every readable image.
// It degrades to a text message when no image could be read.
func (c *Composer) imageMessage(text string, paths []string) domain.PromptMessage {
	parts := []domain.ContentPart{{Type: domain.ContentPartText, Text: text}}
	for _, p := range paths {
		url, err := c.dataURL(p)
		if err != nil {
			c.logger.Warn("skipping unreadable image", "path", p, "error", err)
			continue
		}
		parts = append(parts, domain.ContentPart{Type: domain.ContentPartImage, ImageURL: url})
	}
	if len(parts) == 1 {
		return userText(text)
	}
	return domain.PromptMessage{Role: domain.RoleUser, Parts: parts}
}

func (c *Composer) dataURL(path string) (string, error) {
	data, err := c.readFile(path)
	if err != nil {
		return "", err
	}
	return "data:" + MimeType(path) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// MimeType guesses an image MIME type from the file extension, defaulting to JPEG.
func MimeType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "image/jpeg"
}

func userText(text string) domain.PromptMessage {
	return domain.PromptMessage{Role: domain.RoleUser, Text: text}
}

// LoadSystemMessage reads a system prompt file. An empty path yields "".
func LoadSystemMessage(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system message: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
