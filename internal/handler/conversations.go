package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/citric-ai/citron/internal/middleware"
	"github.com/citric-ai/citron/internal/store"
)

// CreateConversation handles POST /api/conversations.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string  `json:"title"`
		ModelID *string `json:"model_id"`
	}
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = "New Conversation"
	}

	userID := middleware.UserID(r.Context())
	conv, err := h.conversationService.Create(r.Context(), userID, req.Title, req.ModelID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusCreated, conv)
}

// ListConversations handles GET /api/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	convs, err := h.conversationService.List(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, convs)
}

// GetConversation handles GET /api/conversations/{conversationId}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	conv, err := h.conversationService.Get(r.Context(), userID, chi.URLParam(r, "conversationId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /api/conversations/{conversationId}.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	err := h.conversationService.Delete(r.Context(), userID, chi.URLParam(r, "conversationId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListMessages handles GET /api/conversations/{conversationId}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	conversationID := chi.URLParam(r, "conversationId")

	if _, err := h.conversationService.Get(r.Context(), userID, conversationID); err != nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := h.messageService.List(r.Context(), conversationID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// ListMessagesByQuery handles GET /api/message/list?conversation_id=...
// Same payload as the nested messages route, addressed by query param.
func (h *Handler) ListMessagesByQuery(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		h.Error(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	userID := middleware.UserID(r.Context())
	if _, err := h.conversationService.Get(r.Context(), userID, conversationID); err != nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := h.messageService.List(r.Context(), conversationID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// ListTasks handles GET /api/conversations/{conversationId}/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	tasks, err := h.conversationService.Tasks(r.Context(), userID, chi.URLParam(r, "conversationId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, tasks)
}
