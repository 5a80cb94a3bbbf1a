// Package store provides database operations using GORM.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/citric-ai/citron/internal/model"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps GORM DB for database operations.
type Store struct {
	db *gorm.DB
}

// New creates a new Store with the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Users ---

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// UpdateUserSandboxID persists (or clears, with nil) the external
// sandbox identifier cached against the user.
func (s *Store) UpdateUserSandboxID(ctx context.Context, userID string, sandboxID *string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("sandbox_id", sandboxID).Error
}

// --- Conversations ---

func (s *Store) GetConversationByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conversation model.Conversation
	if err := s.db.WithContext(ctx).First(&conversation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conversation, nil
}

func (s *Store) ListConversationsByUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var conversations []*model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

func (s *Store) CreateConversation(ctx context.Context, conversation *model.Conversation) error {
	return s.db.WithContext(ctx).Create(conversation).Error
}

func (s *Store) UpdateConversationStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Task{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Conversation{}, "id = ?", id).Error
	})
}

// CountRunningConversations returns how many of the user's
// conversations are currently in running status. The sandbox busy
// check is built on this.
func (s *Store) CountRunningConversations(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("user_id = ? AND status = ?", userID, model.ConversationStatusRunning).
		Count(&count).Error
	return count, err
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, message *model.Message) error {
	return s.db.WithContext(ctx).Create(message).Error
}

func (s *Store) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var messages []*model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, created_at ASC").
		Find(&messages).Error
	return messages, err
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *Store) CreateTasks(ctx context.Context, tasks []*model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(tasks).Error
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (s *Store) ListTasksByConversation(ctx context.Context, conversationID string) ([]*model.Task, error) {
	var tasks []*model.Task
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (s *Store) UpdateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Save(task).Error
}

// --- Model configs ---

func (s *Store) GetModelConfigByID(ctx context.Context, id string) (*model.ModelConfig, error) {
	var mc model.ModelConfig
	if err := s.db.WithContext(ctx).First(&mc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &mc, nil
}

func (s *Store) GetModelConfigByName(ctx context.Context, name string) (*model.ModelConfig, error) {
	var mc model.ModelConfig
	if err := s.db.WithContext(ctx).First(&mc, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &mc, nil
}

func (s *Store) GetDefaultModelConfig(ctx context.Context) (*model.ModelConfig, error) {
	var mc model.ModelConfig
	if err := s.db.WithContext(ctx).First(&mc, "is_default = ?", true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &mc, nil
}

func (s *Store) CreateModelConfig(ctx context.Context, mc *model.ModelConfig) error {
	return s.db.WithContext(ctx).Create(mc).Error
}

// --- Usage records ---

func (s *Store) CreateUsageRecord(ctx context.Context, record *model.UsageRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

func (s *Store) SumUsageByUser(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(units), 0)").
		Scan(&total).Error
	return total, err
}
