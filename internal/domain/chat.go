package domain

import (
	"strings"
	"time"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleBot is a legacy synonym for RoleAssistant found in old persisted chats.
	RoleBot Role = "bot"
)

// Normalize maps legacy roles onto the roles the upstream provider accepts.
func (r Role) Normalize() Role {
	if r == RoleBot {
		return RoleAssistant
	}
	return r
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleBot:
		return true
	default:
		return false
	}
}

// ChatType selects the persona a chat is held with.
type ChatType string

const (
	ChatTypeChat     ChatType = "chat"
	ChatTypeSMM      ChatType = "smm"
	ChatTypeAnalysis ChatType = "analysis"
)

// ParseChatType maps the tags used by clients over time onto a canonical ChatType.
// Unknown tags fall back to ChatTypeChat.
func ParseChatType(s string) ChatType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "smm", "smm-assistant":
		return ChatTypeSMM
	case "analysis", "analysis-assistant":
		return ChatTypeAnalysis
	default:
		return ChatTypeChat
	}
}

// Label is the human readable name used in default chat titles.
func (t ChatType) Label() string {
	switch t {
	case ChatTypeSMM:
		return "SMM ассистент"
	case ChatTypeAnalysis:
		return "Анализ данных"
	default:
		return "Новый чат"
	}
}

// AllChatTypes lists the canonical chat types in display order.
func AllChatTypes() []ChatType {
	return []ChatType{ChatTypeChat, ChatTypeSMM, ChatTypeAnalysis}
}

// Message is a single entry of a chat history.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Chat is one persisted conversation thread.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle,omitempty"`
	Type      ChatType  `json:"type"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of the chat so callers cannot alias store state.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// CloneMessages copies a message slice. A nil input yields an empty, non-nil slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// ChatState is the server-side copy of a device's persisted chat store.
type ChatState struct {
	UserID    string
	Version   int
	StateJSON string
	ChatCount int
	UpdatedAt time.Time
}
