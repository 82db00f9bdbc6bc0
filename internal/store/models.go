package store

import (
	"time"

	"github.com/suPer8Hu/chat-engine/internal/search"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
	StatusStopped   MessageStatus = "stopped"
)

// statusRank orders the assistant state machine. Transitions never move to
// a lower rank; complete/error/stopped are terminal and only accept a
// same-status rewrite.
var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusStreaming: 1,
	StatusComplete:  2,
	StatusError:     2,
	StatusStopped:   2,
}

func terminalStatus(s MessageStatus) bool { return statusRank[s] == 2 }

type Chat struct {
	ID           string  `gorm:"primaryKey;size:26" json:"id"`
	Title        string  `gorm:"type:varchar(255);not null" json:"title"`
	FolderID     *string `gorm:"size:26;index" json:"folder_id,omitempty"`
	IsFolder     bool    `gorm:"not null;default:false" json:"is_folder"`
	Pinned       bool    `gorm:"not null;default:false" json:"pinned"`
	SystemPrompt *string `gorm:"type:text" json:"system_prompt,omitempty"`
	SortOrder    int     `gorm:"not null;default:0" json:"sort_order"`

	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID       string  `gorm:"primaryKey;size:26" json:"id"`
	ChatID   string  `gorm:"size:26;index;not null" json:"chat_id"`
	ParentID *string `gorm:"size:26;index" json:"parent_id,omitempty"`

	Role    Role          `gorm:"type:varchar(16);not null" json:"role"`
	Content string        `gorm:"type:text;not null" json:"content"`
	Status  MessageStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	Model            string `gorm:"type:varchar(64)" json:"model,omitempty"`
	ProviderConfigID string `gorm:"size:26;index" json:"provider_config_id,omitempty"`

	PromptTokens     int    `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int    `gorm:"not null;default:0" json:"completion_tokens"`
	Reasoning        string `gorm:"type:text" json:"reasoning,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "chat_messages" }

type Attachment struct {
	ID        string `gorm:"primaryKey;size:26" json:"id"`
	MessageID string `gorm:"size:26;index;not null" json:"message_id"`

	Name     string `gorm:"type:varchar(255)" json:"name,omitempty"`
	MimeType string `gorm:"type:varchar(64);not null" json:"mime_type"`
	Size     int64  `gorm:"not null;default:0" json:"size"`

	// Exactly one of Data (inline) or Path (file reference) is set.
	Data []byte `gorm:"type:blob" json:"-"`
	Path string `gorm:"type:varchar(1024)" json:"path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Attachment) TableName() string { return "attachments" }

type ProviderConfig struct {
	ID     string `gorm:"primaryKey;size:26" json:"id"`
	Vendor string `gorm:"type:varchar(32);not null" json:"vendor"`

	APIKey        string `gorm:"type:varchar(255)" json:"-"`
	BaseURL       string `gorm:"type:varchar(512)" json:"base_url,omitempty"`
	CustomHeaders string `gorm:"type:text" json:"custom_headers,omitempty"` // JSON object

	Enabled      bool   `gorm:"not null;default:true" json:"enabled"`
	DefaultModel string `gorm:"type:varchar(64)" json:"default_model,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProviderConfig) TableName() string { return "provider_configs" }

// AllModels is what internal/db feeds to AutoMigrate.
func AllModels() []any {
	return []any{&Chat{}, &Message{}, &Attachment{}, &ProviderConfig{}, &search.Entry{}}
}
