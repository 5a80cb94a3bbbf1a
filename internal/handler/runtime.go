package handler

import (
	"net/http"

	"github.com/citric-ai/citron/internal/middleware"
)

// GetEditorURL handles GET /api/runtime/vscode-url?conversation_id=...
// Connecting the editor arms the sandbox's idle close timer.
func (h *Handler) GetEditorURL(w http.ResponseWriter, r *http.Request) {
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

	url, err := h.runtimeService.EditorURL(r.Context(), userID, conversationID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"url": url})
}

// TeardownSandbox handles POST /api/runtime/delete_container. The close is
// refused silently while any of the user's conversations is running.
func (h *Handler) TeardownSandbox(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if err := h.runtimeService.Teardown(r.Context(), userID); err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
