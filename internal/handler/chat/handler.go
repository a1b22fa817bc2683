package chat

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/model/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/aiconfig-chat/backend/internal/service/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *slog.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chatSvc: chatSvc, logger: logger}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/history", h.handleHistory)
	r.Post("/reset", h.handleReset)
	r.Get("/model", h.handleModel)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// handleChat 执行一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chatSvc.Turn(r.Context(), payload.SessionID, payload.UserID, payload.Message)
	if err != nil {
		utils.RespondError(w, StatusFor(err), errorMessage(err))
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

type historyResponse struct {
	History []chat.Message `json:"history"`
	Model   *string        `json:"model"`
}

// handleHistory 返回会话历史，不存在的会话不会被创建
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)

	history, model, err := h.chatSvc.History(sessionID)
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondJSON(w, http.StatusOK, historyResponse{History: []chat.Message{}})
		return
	}
	if err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	if history == nil {
		history = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, historyResponse{History: history, Model: &model})
}

// handleReset 将会话恢复为种子消息
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		payload.SessionID = chatService.DefaultSessionID
	}

	if err := h.chatSvc.Reset(payload.SessionID); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondMessage(w, http.StatusNotFound, "Session not found")
			return
		}
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	utils.RespondMessage(w, http.StatusOK, "Conversation reset successfully")
}

// handleModel 返回会话使用的模型，必要时创建会话
func (h *Handler) handleModel(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)

	session, err := h.chatSvc.GetOrCreate(r.Context(), sessionID, r.URL.Query().Get("user_id"))
	if err != nil {
		h.logger.Error("model lookup failed", "session_id", sessionID, "error", err)
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"model":      session.ModelName(),
		"session_id": sessionID,
	})
}

// StatusFor maps a chat error to its HTTP status.
func StatusFor(err error) int {
	var inferenceErr *ai.InferenceError
	switch {
	case errors.Is(err, chatService.ErrMessageRequired):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ai.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.As(err, &inferenceErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if errors.Is(err, chatService.ErrMessageRequired) {
		return "Message is required"
	}
	return err.Error()
}

func sessionParam(r *http.Request) string {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return chatService.DefaultSessionID
}
