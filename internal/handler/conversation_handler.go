package handler

import (
	"strconv"

	"synapse-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理笔记本聊天记录的查询。
type ConversationHandler struct {
	chatService service.ChatService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(chatService service.ChatService) *ConversationHandler {
	return &ConversationHandler{chatService: chatService}
}

// GetHistory 处理 GET /notebooks/:id/chat_history?limit=，不传 limit 时使用配置的条数。
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	history, err := h.chatService.History(c.Request.Context(), userID, notebookID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "success", history)
}
