// Package service implements the application services behind the HTTP
// surface: conversation runs, sandbox runtime operations, and model
// resolution.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/citric-ai/citron/internal/llm"
	"github.com/citric-ai/citron/internal/store"
)

// ModelResolver resolves a conversation's bound model to endpoint
// credentials, falling back to the stored default and then to the
// statically configured model.
type ModelResolver struct {
	store    *store.Store
	fallback llm.ModelInfo
}

// NewModelResolver creates a resolver. The fallback is used when no
// default model is configured in the database.
func NewModelResolver(s *store.Store, fallback llm.ModelInfo) *ModelResolver {
	return &ModelResolver{store: s, fallback: fallback}
}

// Resolve implements llm.Resolver.
func (r *ModelResolver) Resolve(ctx context.Context, modelID *string) (*llm.ModelInfo, error) {
	if modelID != nil && *modelID != "" {
		mc, err := r.store.GetModelConfigByID(ctx, *modelID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve model %s: %w", *modelID, err)
		}
		return &llm.ModelInfo{ModelName: mc.Name, BaseURL: mc.BaseURL, APIKey: mc.APIKey}, nil
	}

	mc, err := r.store.GetDefaultModelConfig(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if r.fallback.ModelName == "" {
				return nil, fmt.Errorf("no model configured")
			}
			info := r.fallback
			return &info, nil
		}
		return nil, fmt.Errorf("failed to resolve default model: %w", err)
	}
	return &llm.ModelInfo{ModelName: mc.Name, BaseURL: mc.BaseURL, APIKey: mc.APIKey}, nil
}
