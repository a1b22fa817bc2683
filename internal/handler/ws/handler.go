// Package ws exposes chat turns over a WebSocket connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/zhouzirui/aiconfig-chat/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Frame types.
const (
	TypeConnected = "connected"
	TypeChat      = "chat"
	TypeReset     = "reset"
	TypeResult    = "result"
	TypeError     = "error"
)

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc  *chatservice.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *chatservice.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// Inbound is a client frame.
type Inbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connection struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
}

// handleWebSocket 处理WebSocket连接。会话在第一条 chat 消息时才创建。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := query.Get("session_id")
	if sessionID == "" {
		sessionID = chatservice.DefaultSessionID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, sessionID: sessionID, userID: query.Get("user_id")}
	h.logger.Info("websocket connected", "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.send(c, Outbound{Type: TypeConnected})

	for {
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.sendError(c, "invalid frame")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg Inbound) {
	switch msg.Type {
	case TypeChat:
		result, err := h.chatSvc.Turn(ctx, c.sessionID, c.userID, msg.Message)
		if err != nil {
			if errors.Is(err, chatservice.ErrMessageRequired) {
				h.sendError(c, "Message is required")
				return
			}
			h.sendError(c, err.Error())
			return
		}
		h.send(c, Outbound{Type: TypeResult, Data: result})
	case TypeReset:
		if err := h.chatSvc.Reset(c.sessionID); err != nil {
			h.sendError(c, "Session not found")
			return
		}
		h.send(c, Outbound{Type: TypeReset})
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) send(c *connection, msg Outbound) {
	msg.SessionID = c.sessionID
	msg.Timestamp = time.Now().Unix()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		h.logger.Warn("websocket write failed", "session_id", c.sessionID, "type", msg.Type, "error", err)
	}
}

func (h *Handler) sendError(c *connection, message string) {
	h.send(c, Outbound{Type: TypeError, Error: message})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
