package agent

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultModelID            = "gpt-4o-mini"
	DefaultMaxContextMessages = 20
	DefaultTemperature        = 0.7
	DefaultMaxTokens          = 4000
	DefaultSessionName        = "New Chat"

	previewRunes  = 50
	nameWords     = 5
	nameMaxRunes  = 30
	nameTrimRunes = 27
)

// SessionID identifies a chat session.
type SessionID string

// SessionConfig controls the model settings used for every turn of a session.
type SessionConfig struct {
	ModelID            string  `json:"model_id"`
	MaxContextMessages int     `json:"max_context_messages"`
	SystemMessage      string  `json:"system_message,omitempty"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"max_tokens"`
	EnableTools        bool    `json:"enable_tools"`
}

// DefaultSessionConfig returns the configuration used when a caller supplies none.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ModelID:            DefaultModelID,
		MaxContextMessages: DefaultMaxContextMessages,
		Temperature:        DefaultTemperature,
		MaxTokens:          DefaultMaxTokens,
		EnableTools:        true,
	}
}

// WithDefaults fills zero-valued fields from DefaultSessionConfig.
func (c SessionConfig) WithDefaults() SessionConfig {
	defaults := DefaultSessionConfig()
	if c.ModelID == "" {
		c.ModelID = defaults.ModelID
	}
	if c.MaxContextMessages == 0 {
		c.MaxContextMessages = defaults.MaxContextMessages
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	return c
}

// SessionConfigOverrides is a partial SessionConfig supplied by callers.
// Empty and nil fields keep the base value, so an omitted enable_tools or
// temperature is not read as false or zero.
type SessionConfigOverrides struct {
	ModelID            string   `json:"model_id,omitempty"`
	MaxContextMessages *int     `json:"max_context_messages,omitempty"`
	SystemMessage      *string  `json:"system_message,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxTokens          *int     `json:"max_tokens,omitempty"`
	EnableTools        *bool    `json:"enable_tools,omitempty"`
}

// Apply returns base with every set override written over it.
func (o SessionConfigOverrides) Apply(base SessionConfig) SessionConfig {
	if o.ModelID != "" {
		base.ModelID = o.ModelID
	}
	if o.MaxContextMessages != nil {
		base.MaxContextMessages = *o.MaxContextMessages
	}
	if o.SystemMessage != nil {
		base.SystemMessage = *o.SystemMessage
	}
	if o.Temperature != nil {
		base.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		base.MaxTokens = *o.MaxTokens
	}
	if o.EnableTools != nil {
		base.EnableTools = *o.EnableTools
	}
	return base
}

// Validate reports out-of-range configuration values.
func (c SessionConfig) Validate() error {
	if c.MaxContextMessages < 0 {
		return fmt.Errorf("%w: field=max_context_messages reason=negative value=%d", ErrSessionConfigInvalid, c.MaxContextMessages)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: field=max_tokens reason=negative value=%d", ErrSessionConfigInvalid, c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: field=temperature reason=out_of_range value=%g", ErrSessionConfigInvalid, c.Temperature)
	}
	return nil
}

// Session is a chat transcript plus the configuration used to extend it.
type Session struct {
	ID        SessionID     `json:"id"`
	Name      string        `json:"name"`
	Config    SessionConfig `json:"config"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []Message     `json:"messages"`
}

// SessionInfo is the listing view of a session.
type SessionInfo struct {
	ID                 SessionID `json:"id"`
	Name               string    `json:"name"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	MessageCount       int       `json:"message_count"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
}

// CloneSession returns a deep copy of a session.
func CloneSession(in Session) Session {
	out := in
	out.Messages = CloneMessages(in.Messages)
	return out
}

// Info summarizes the session for listings.
func (s Session) Info() SessionInfo {
	info := SessionInfo{
		ID:           s.ID,
		Name:         s.Name,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
	if n := len(s.Messages); n > 0 {
		info.LastMessagePreview = truncateRunes(s.Messages[n-1].Content, previewRunes)
	}
	return info
}

// ContextMessages returns the system message (if configured) followed by the most
// recent MaxContextMessages transcript entries. A window never starts on a tool
// message, since its originating assistant call would be missing.
func (s Session) ContextMessages() []Message {
	messages := s.Messages
	if limit := s.Config.MaxContextMessages; limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	for len(messages) > 0 && messages[0].Role == RoleTool {
		messages = messages[1:]
	}

	out := make([]Message, 0, len(messages)+1)
	if s.Config.SystemMessage != "" {
		out = append(out, Message{Role: RoleSystem, Content: s.Config.SystemMessage})
	}
	return append(out, CloneMessages(messages)...)
}

// SessionNameFromMessage derives a display name from the first words of a message.
func SessionNameFromMessage(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "Chat"
	}
	if len(words) > nameWords {
		words = words[:nameWords]
	}
	name := strings.Join(words, " ")
	if utf8.RuneCountInString(name) > nameMaxRunes {
		return truncateRunes(name, nameTrimRunes) + "..."
	}
	return name
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
