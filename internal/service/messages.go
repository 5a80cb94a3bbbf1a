package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/citric-ai/citron/internal/memory"
	"github.com/citric-ai/citron/internal/model"
	"github.com/citric-ai/citron/internal/store"
	"github.com/citric-ai/citron/internal/stream"
)

// MessageService persists stream messages and rebuilds conversation
// memory from them. It satisfies the dispatcher's persistence
// dependency.
type MessageService struct {
	store *store.Store
}

// NewMessageService creates a message service.
func NewMessageService(s *store.Store) *MessageService {
	return &MessageService{store: s}
}

// PersistMessage stores one stream message under its conversation.
func (s *MessageService) PersistMessage(ctx context.Context, conversationID string, msg *stream.Message) error {
	var meta json.RawMessage
	if msg.Meta != nil {
		data, err := json.Marshal(msg.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode message meta: %w", err)
		}
		meta = data
	}
	return s.store.CreateMessage(ctx, &model.Message{
		ConversationID: conversationID,
		UUID:           msg.UUID,
		Role:           msg.Role,
		Status:         msg.Status,
		Content:        msg.Content,
		Comments:       msg.Comments,
		Memorized:      msg.Memorized,
		Meta:           meta,
		Timestamp:      msg.Timestamp,
	})
}

// List returns the conversation's persisted messages in timeline order.
func (s *MessageService) List(ctx context.Context, conversationID string) ([]*model.Message, error) {
	return s.store.ListMessagesByConversation(ctx, conversationID)
}

// RebuildMemory reconstructs the LLM context from the memorized
// messages of a conversation, preserving timeline order.
func (s *MessageService) RebuildMemory(ctx context.Context, conversationID string) (*memory.Memory, error) {
	msgs, err := s.store.ListMessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	mem := memory.New()
	for _, m := range msgs {
		if !m.Memorized {
			continue
		}
		actionType := ""
		if len(m.Meta) > 0 {
			var sm stream.Meta
			if err := json.Unmarshal(m.Meta, &sm); err == nil {
				actionType = sm.ActionType
			}
		}
		mem.AddMessage(m.Role, m.Content, actionType, true, nil)
	}
	return mem, nil
}
