package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nrudakov/tellerbot/internal/audit"
	"github.com/nrudakov/tellerbot/internal/config"
	"github.com/nrudakov/tellerbot/internal/conversation"
	"github.com/nrudakov/tellerbot/internal/domain"
	"github.com/nrudakov/tellerbot/internal/identity"
	"github.com/nrudakov/tellerbot/internal/nlu"
	"github.com/nrudakov/tellerbot/internal/session"
	"github.com/nrudakov/tellerbot/internal/store"
)

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the assistant reply payload.
type ChatResponse struct {
	Reply         string `json:"reply"`
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
}

// ChatHandler serves the assistant chat endpoints.
type ChatHandler struct {
	engine      *conversation.Engine
	sessions    *session.Manager
	repo        store.Repository
	rateLimiter *RateLimiter
	log         audit.Logger
	maxBody     int64
}

// NewChatHandler creates a chat handler.
func NewChatHandler(engine *conversation.Engine, sessions *session.Manager, repo store.Repository, auditLog audit.Logger, cfg *config.Config) *ChatHandler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}

	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	maxBody := int64(1 << 20)
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		maxBody = cfg.MaxRequestBody
	}

	return &ChatHandler{
		engine:      engine,
		sessions:    sessions,
		repo:        repo,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		log:         auditLog,
		maxBody:     maxBody,
	}
}

// HandleChat handles POST /api/assistant/chat requests. One request is one
// conversation turn; turns for the same session are fully serialized.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Assistant chat request",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(req.Message),
	)
	h.log.Log(audit.Event{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta:       map[string]any{"request_id": reqID},
	})

	var resp ChatResponse
	err := h.sessions.With(r.Context(), userID, sessionID, func(conv *domain.Conversation) error {
		reply, procErr := h.engine.ProcessMessage(r.Context(), conv, req.Message)
		if procErr != nil {
			return procErr
		}
		resp = ChatResponse{
			Reply:         reply,
			State:         string(conv.State),
			Authenticated: conv.Authenticated,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, nlu.ErrUnavailable) {
			slog.Warn("Assistant collaborator unavailable", "error", err, "user_id", userID)
			Error(w, http.StatusServiceUnavailable, "assistant temporarily unavailable")
			return
		}
		slog.Error("Assistant turn failed", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	h.log.Log(audit.Event{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: resp.Reply,
		Meta: map[string]any{
			"request_id": reqID,
			"state":      resp.State,
		},
	})

	go h.touchLastSeen(userID)

	JSON(w, http.StatusOK, resp)
}

// HandleReset handles POST /api/assistant/reset. The terminal state is
// absorbing, so starting over requires discarding the conversation.
func (h *ChatHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.sessions.Reset(r.Context(), userID, sessionID); err != nil {
		slog.Error("Failed to reset conversation", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to reset conversation")
		return
	}

	h.log.Log(audit.Event{
		UserID:    userID,
		SessionID: sessionID,
		Channel:   "chat_http",
		Direction: "outbound",
		EventType: "conversation_reset",
	})

	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *ChatHandler) touchLastSeen(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
		slog.Warn("Failed to update last seen", "error", err, "user_id", userID)
	}
}

// RegisterRoutes registers assistant routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assistant", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/reset", h.HandleReset)
	})
}

// Close releases handler resources.
func (h *ChatHandler) Close() {
	h.rateLimiter.Close()
	if err := h.log.Close(); err != nil {
		slog.Warn("Failed to close conversation audit log", "error", err)
	}
}
