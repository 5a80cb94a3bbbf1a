// Package model defines the database models used throughout the application.
// These models work with both PostgreSQL and SQLite via GORM.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AnonymousUserID is the fixed user created in no-auth mode.
const AnonymousUserID = "00000000-0000-0000-0000-000000000001"

// User represents an account owning at most one live sandbox.
type User struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Name      string    `gorm:"not null;type:text" json:"name"`
	SandboxID *string   `gorm:"column:sandbox_id;type:text" json:"sandbox_id,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// NewAnonymousUser returns the seed user for no-auth mode.
func NewAnonymousUser() *User {
	return &User{ID: AnonymousUserID, Name: "anonymous"}
}

// Conversation status constants
const (
	ConversationStatusRunning = "running"
	ConversationStatusDone    = "done"
)

// Conversation represents one agent chat thread.
type Conversation struct {
	ID        string    `gorm:"primaryKey;type:text" json:"conversation_id"`
	UserID    string    `gorm:"column:user_id;not null;type:text;index" json:"user_id"`
	Title     string    `gorm:"not null;type:text;default:New Conversation" json:"title"`
	Status    string    `gorm:"not null;type:text;default:done" json:"status"`
	ModelID   *string   `gorm:"column:model_id;type:text" json:"model_id,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User     *User     `gorm:"foreignKey:UserID" json:"-"`
	Messages []Message `gorm:"foreignKey:ConversationID" json:"-"`
	Tasks    []Task    `gorm:"foreignKey:ConversationID" json:"-"`
}

func (Conversation) TableName() string { return "conversations" }

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// Message persists one StreamMessage under its conversation.
type Message struct {
	ID             string          `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string          `gorm:"column:conversation_id;not null;type:text;index" json:"conversation_id"`
	UUID           string          `gorm:"column:uuid;type:text;index" json:"uuid"`
	Role           string          `gorm:"not null;type:text" json:"role"`
	Status         string          `gorm:"not null;type:text" json:"status"`
	Content        string          `gorm:"type:text" json:"content"`
	Comments       string          `gorm:"type:text" json:"comments"`
	Memorized      bool            `gorm:"default:false" json:"memorized"`
	Meta           json.RawMessage `gorm:"type:text" json:"meta"`
	Timestamp      int64           `gorm:"not null" json:"timestamp"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Conversation *Conversation `gorm:"foreignKey:ConversationID" json:"-"`
}

func (Message) TableName() string { return "messages" }

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// Task status constants. Terminal states are done and error.
const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusError   = "error"
)

// Task is one planned unit of work within a conversation.
type Task struct {
	ID             string          `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string          `gorm:"column:conversation_id;not null;type:text;index" json:"conversation_id"`
	TaskID         string          `gorm:"column:task_id;not null;type:text" json:"task_id"`
	Requirement    string          `gorm:"not null;type:text" json:"requirement"`
	Status         string          `gorm:"not null;type:text;default:pending" json:"status"`
	Error          *string         `gorm:"type:text" json:"error,omitempty"`
	Result         *string         `gorm:"type:text" json:"result,omitempty"`
	Memorized      *string         `gorm:"type:text" json:"memorized,omitempty"`
	Tools          json.RawMessage `gorm:"type:text" json:"tools,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Conversation *Conversation `gorm:"foreignKey:ConversationID" json:"-"`
}

func (Task) TableName() string { return "tasks" }

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// ModelConfig binds a model name to its platform endpoint and key.
type ModelConfig struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;type:text" json:"name"`
	Platform  string    `gorm:"not null;type:text" json:"platform"`
	BaseURL   string    `gorm:"column:base_url;not null;type:text" json:"base_url"`
	APIKey    string    `gorm:"column:api_key;not null;type:text" json:"-"`
	IsDefault bool      `gorm:"column:is_default;default:false" json:"is_default"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ModelConfig) TableName() string { return "model_configs" }

func (m *ModelConfig) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// UsageRecord is one metered charge against a user.
type UsageRecord struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	UserID    string    `gorm:"column:user_id;not null;type:text;index" json:"user_id"`
	Kind      string    `gorm:"not null;type:text" json:"kind"`
	Units     float64   `gorm:"not null" json:"units"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UsageRecord) TableName() string { return "usage_records" }

func (r *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// AllModels returns all model types for migration.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Conversation{},
		&Message{},
		&Task{},
		&ModelConfig{},
		&UsageRecord{},
	}
}
