package handler

import (
	"synapse-go/internal/service"

	"github.com/gin-gonic/gin"
)

// NotebookHandler 负责笔记本的创建、列表和删除。
type NotebookHandler struct {
	notebookService service.NotebookService
}

// NewNotebookHandler 创建一个新的 NotebookHandler 实例。
func NewNotebookHandler(notebookService service.NotebookService) *NotebookHandler {
	return &NotebookHandler{notebookService: notebookService}
}

// CreateNotebookRequest 是创建笔记本的请求体。
type CreateNotebookRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *NotebookHandler) Create(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	var req CreateNotebookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "title is required")
		return
	}
	nb, err := h.notebookService.Create(c.Request.Context(), userID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Notebook created", nb)
}

func (h *NotebookHandler) List(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebooks, err := h.notebookService.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "success", notebooks)
}

func (h *NotebookHandler) Delete(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := h.notebookService.Delete(c.Request.Context(), userID, notebookID); err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Notebook deleted", nil)
}
