package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/nrudakov/tellerbot/internal/audit"
	"github.com/nrudakov/tellerbot/internal/conversation"
	"github.com/nrudakov/tellerbot/internal/domain"
	"github.com/nrudakov/tellerbot/internal/identity"
	"github.com/nrudakov/tellerbot/internal/nlu"
	"github.com/nrudakov/tellerbot/internal/session"
	"github.com/nrudakov/tellerbot/internal/store"
)

// WebSocketHandler handles WebSocket-based chat sessions.
type WebSocketHandler struct {
	engine        *conversation.Engine
	sessions      *session.Manager
	registry      *Registry
	repo          store.Repository
	log           audit.Logger
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(engine *conversation.Engine, sessions *session.Manager, registry *Registry, repo store.Repository, auditLog audit.Logger, allowedOrigin string, isDev bool) *WebSocketHandler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &WebSocketHandler{
		engine:        engine,
		sessions:      sessions,
		registry:      registry,
		repo:          repo,
		log:           auditLog,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage represents the inbound WebSocket message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsReply represents the outbound WebSocket message structure.
type wsReply struct {
	Type          string `json:"type"`
	Reply         string `json:"reply,omitempty"`
	State         string `json:"state,omitempty"`
	Authenticated bool   `json:"authenticated,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, sessionID, ws)
	defer h.registry.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, ws, userID, sessionID)
	slog.Info("Chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Fallback to treating the frame as a bare utterance.
			msg = wsMessage{Type: "message", Content: string(message)}
		}

		switch msg.Type {
		case "message":
			if msg.Content == "" {
				if err := h.writeJSON(ws, wsReply{Type: "error", Error: "message is required"}); err != nil {
					return
				}
				continue
			}
			terminal, err := h.processTurn(ctx, ws, userID, sessionID, msg.Content)
			if err != nil {
				return
			}
			if terminal {
				return
			}
		case "ping":
			if err := h.writeJSON(ws, wsReply{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
			continue
		default:
			if err := h.writeJSON(ws, wsReply{Type: "error", Error: "unknown message type"}); err != nil {
				return
			}
			continue
		}

		// Update last seen asynchronously with timeout.
		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}

// processTurn runs one conversation turn and writes the reply. It reports
// whether the conversation reached its terminal state, after which the
// connection should be closed.
func (h *WebSocketHandler) processTurn(ctx context.Context, ws *websocket.Conn, userID, sessionID, utterance string) (bool, error) {
	h.log.Log(audit.Event{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_ws",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: utterance,
	})

	var reply wsReply
	var terminal bool
	err := h.sessions.With(ctx, userID, sessionID, func(conv *domain.Conversation) error {
		text, procErr := h.engine.ProcessMessage(ctx, conv, utterance)
		if procErr != nil {
			return procErr
		}
		reply = wsReply{
			Type:          "reply",
			Reply:         text,
			State:         string(conv.State),
			Authenticated: conv.Authenticated,
		}
		terminal = conv.Terminal()
		return nil
	})
	if err != nil {
		if errors.Is(err, nlu.ErrUnavailable) {
			slog.Warn("Assistant collaborator unavailable", "error", err, "user_id", userID)
			return false, h.writeJSON(ws, wsReply{Type: "error", Error: "assistant temporarily unavailable"})
		}
		slog.Error("Assistant turn failed", "error", err, "user_id", userID)
		return false, h.writeJSON(ws, wsReply{Type: "error", Error: "failed to process message"})
	}

	h.log.Log(audit.Event{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_ws",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: reply.Reply,
		Meta:       map[string]any{"state": reply.State},
	})

	if err := h.writeJSON(ws, reply); err != nil {
		return false, err
	}
	return terminal, nil
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
