package domain

// Role is the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPartType distinguishes text from image parts.
type ContentPartType string

const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image_url"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// PromptMessage is either plain Text or an ordered list of Parts.
type PromptMessage struct {
	Role  Role          `json:"role"`
	Text  string        `json:"content,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`
}

// IsMultipart reports whether the message carries content parts.
func (m PromptMessage) IsMultipart() bool {
	return len(m.Parts) > 0
}

// ModelReply is the structured result of a model call.
type ModelReply struct {
	Response string   `json:"response"`
	Keywords []string `json:"list_of_keywords"`
}
