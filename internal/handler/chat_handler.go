package handler

import (
	"encoding/json"
	"net/http"

	"synapse-go/internal/middleware"
	"synapse-go/internal/model"
	"synapse-go/internal/service"
	"synapse-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责提问接口：REST 一问一答，以及推送阶段事件的 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
	auth        *middleware.Authenticator
	limiter     *middleware.RateLimiter
}

// NewChatHandler 创建一个新的 ChatHandler。limiter 为 nil 时 WebSocket 提问不限流。
func NewChatHandler(chatService service.ChatService, auth *middleware.Authenticator, limiter *middleware.RateLimiter) *ChatHandler {
	return &ChatHandler{chatService: chatService, auth: auth, limiter: limiter}
}

// Ask 处理 POST /notebooks/:id/ask
func (h *ChatHandler) Ask(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req model.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	answer, err := h.chatService.Ask(c.Request.Context(), userID, notebookID, req, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "success", answer)
}

// WSAskMessage 是 WebSocket 客户端发送的提问。
type WSAskMessage struct {
	NotebookID uint `json:"notebook_id"`
	model.AskRequest
}

// WSEvent 是服务端推送的事件：state、answer 或 error。
type WSEvent struct {
	Type      string        `json:"type"`
	State     service.State `json:"state,omitempty"`
	Data      *model.Answer `json:"data,omitempty"`
	Code      int           `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
}

// Handle 处理 GET /chat/:token 的 WebSocket 连接。每条消息是一次提问，问题按顺序处理。
func (h *ChatHandler) Handle(c *gin.Context) {
	user, _, err := h.auth.Authenticate(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %d", user.ID)

	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var msg WSAskMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			if !h.send(conn, WSEvent{Type: "error", Code: http.StatusBadRequest, Message: "invalid message"}) {
				return
			}
			continue
		}
		// 与 REST 提问共用同一个用户配额
		if h.limiter != nil && !h.limiter.Allow(middleware.UserKey(user.ID)) {
			if !h.send(conn, WSEvent{Type: "error", Code: http.StatusTooManyRequests, Message: "too many requests", Retryable: true}) {
				return
			}
			continue
		}

		answer, err := h.chatService.Ask(ctx, user.ID, msg.NotebookID, msg.AskRequest, func(s service.State) {
			h.send(conn, WSEvent{Type: "state", State: s})
		})
		if err != nil {
			status, text, retryable := classify(err)
			if status >= http.StatusInternalServerError && !retryable {
				log.Errorf("WebSocket 提问失败: %v", err)
			}
			if !h.send(conn, WSEvent{Type: "error", Code: status, Message: text, Retryable: retryable}) {
				return
			}
			continue
		}
		if !h.send(conn, WSEvent{Type: "answer", Data: answer}) {
			return
		}
	}
}

// send 写出一个事件，连接已断开时返回 false。
func (h *ChatHandler) send(conn *websocket.Conn, ev WSEvent) bool {
	if err := conn.WriteJSON(ev); err != nil {
		log.Warnf("WebSocket 写入失败: %v", err)
		return false
	}
	return true
}
