package service

import (
	"context"
	"fmt"

	"github.com/citric-ai/citron/internal/action"
	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/sandbox"
)

// RuntimeService exposes sandbox runtime operations to the HTTP layer:
// the editor URL and explicit teardown.
type RuntimeService struct {
	manager *sandbox.Manager
	log     *logger.Logger
}

// NewRuntimeService creates a runtime service.
func NewRuntimeService(manager *sandbox.Manager, log *logger.Logger) *RuntimeService {
	return &RuntimeService{manager: manager, log: log.With("component", "runtime")}
}

// EditorURL connects (or reuses) the user's sandbox and returns the
// editor entry point for the conversation's workspace. Opening the
// editor arms the idle close timer; the sandbox stays up only as long
// as something keeps it busy.
func (s *RuntimeService) EditorURL(ctx context.Context, userID, conversationID string) (string, error) {
	sb, err := s.manager.Connect(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to connect sandbox: %w", err)
	}
	s.manager.ScheduleClose(userID)
	return sandbox.EditorURL(sb, action.DirName(conversationID)), nil
}

// Teardown closes the user's sandbox immediately, subject to the busy
// check.
func (s *RuntimeService) Teardown(ctx context.Context, userID string) error {
	return s.manager.Close(ctx, userID)
}
