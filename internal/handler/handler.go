// Package handler contains the HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/citric-ai/citron/internal/config"
	"github.com/citric-ai/citron/internal/logger"
	"github.com/citric-ai/citron/internal/service"
	"github.com/citric-ai/citron/internal/store"
)

// Handler contains all HTTP handlers.
type Handler struct {
	store               *store.Store
	cfg                 *config.Config
	log                 *logger.Logger
	agentService        *service.AgentService
	runtimeService      *service.RuntimeService
	conversationService *service.ConversationService
	messageService      *service.MessageService
	upgrader            websocket.Upgrader
}

// New creates a new Handler.
func New(
	s *store.Store,
	cfg *config.Config,
	log *logger.Logger,
	agentSvc *service.AgentService,
	runtimeSvc *service.RuntimeService,
	conversationSvc *service.ConversationService,
	messageSvc *service.MessageService,
) *Handler {
	return &Handler{
		store:               s,
		cfg:                 cfg,
		log:                 log.With("component", "handler"),
		agentService:        agentSvc,
		runtimeService:      runtimeSvc,
		conversationService: conversationSvc,
		messageService:      messageSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
