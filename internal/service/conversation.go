package service

import (
	"context"
	"fmt"

	"github.com/citric-ai/citron/internal/model"
	"github.com/citric-ai/citron/internal/store"
)

// ConversationService manages conversation records.
type ConversationService struct {
	store *store.Store
}

// NewConversationService creates a conversation service.
func NewConversationService(s *store.Store) *ConversationService {
	return &ConversationService{store: s}
}

// Create starts a new conversation for the user, optionally bound to a
// specific model.
func (s *ConversationService) Create(ctx context.Context, userID, title string, modelID *string) (*model.Conversation, error) {
	conv := &model.Conversation{
		UserID:  userID,
		Title:   title,
		Status:  model.ConversationStatusDone,
		ModelID: modelID,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Get returns a conversation, verifying ownership.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*model.Conversation, error) {
	conv, err := s.store.GetConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

// List returns the user's conversations, newest first.
func (s *ConversationService) List(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return s.store.ListConversationsByUser(ctx, userID)
}

// Delete removes a conversation along with its messages and tasks.
func (s *ConversationService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, id)
}

// Tasks returns the conversation's planned tasks.
func (s *ConversationService) Tasks(ctx context.Context, userID, id string) ([]*model.Task, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.store.ListTasksByConversation(ctx, id)
}
