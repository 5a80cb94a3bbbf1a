package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/citric-ai/citron/internal/middleware"
	"github.com/citric-ai/citron/internal/stream"
)

// runRequest starts one conversation turn.
type runRequest struct {
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	Mode           string `json:"mode"`
}

func (r *runRequest) validate() error {
	if r.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if r.Prompt == "" {
		return errors.New("prompt is required")
	}
	switch r.Mode {
	case "":
		r.Mode = stream.ModeAgent
	case stream.ModeChat, stream.ModeAgent:
	default:
		return errors.New("mode must be chat or agent")
	}
	return nil
}

// RunAgent handles POST /api/agent/run. The response is an SSE stream
// of protocol chunks ending with the end marker.
func (h *Handler) RunAgent(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sink, err := stream.NewSSESink(w)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	emitter := stream.NewEmitter(sink)

	userID := middleware.UserID(r.Context())
	if err := h.agentService.Run(r.Context(), userID, req.ConversationID, req.Prompt, req.Mode, emitter); err != nil {
		// The stream is already committed; the failure has been
		// emitted as a protocol message.
		h.log.Warn("agent run failed", "conversation_id", req.ConversationID, "error", err)
	}
}

// RunAgentWS handles GET /api/agent/ws. The client sends one run
// request as the first text message; chunks flow back as text
// messages. A client disconnect cancels the run.
func (h *Handler) RunAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var req runRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid run request"}`))
		return
	}
	if err := req.validate(); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
		return
	}

	userID := middleware.UserID(r.Context())
	emitter := stream.NewEmitter(stream.NewWSSink(conn))

	g, ctx := errgroup.WithContext(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return h.agentService.Run(ctx, userID, req.ConversationID, req.Prompt, req.Mode, emitter)
	})
	g.Go(func() error {
		// Drain the connection so pings are answered and a close from
		// the client tears down the run.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		h.log.Warn("agent run failed", "conversation_id", req.ConversationID, "error", err)
	}
}

// StopAgent handles POST /api/agent/stop.
func (h *Handler) StopAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := h.DecodeJSON(r, &req); err != nil || req.ConversationID == "" {
		h.Error(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	stopped := h.agentService.Stop(req.ConversationID)
	h.JSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}
