// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"synapse-go/internal/middleware"
	"synapse-go/internal/model"
	"synapse-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// errorStatus 描述一类业务错误对应的 HTTP 状态码。
type errorStatus struct {
	target    error
	status    int
	retryable bool
}

var errorStatuses = []errorStatus{
	{model.ErrInvalidRequest, http.StatusBadRequest, false},
	{model.ErrUnsupportedFile, http.StatusBadRequest, false},
	{model.ErrInvalidCredentials, http.StatusUnauthorized, false},
	{model.ErrAccessDenied, http.StatusNotFound, false},
	{model.ErrNotFound, http.StatusNotFound, false},
	{model.ErrDuplicateNotebookTitle, http.StatusConflict, false},
	{model.ErrEmailTaken, http.StatusConflict, false},
	{model.ErrUnreadableDocument, http.StatusUnprocessableEntity, false},
	{model.ErrGeneration, http.StatusBadGateway, true},
	{model.ErrRetrievalUnavailable, http.StatusServiceUnavailable, true},
}

// classify 返回错误对应的状态码、对外消息以及是否可以重试。未知错误统一为 500。
func classify(err error) (status int, message string, retryable bool) {
	for _, es := range errorStatuses {
		if errors.Is(err, es.target) {
			message = es.target.Error()
			// 参数错误带上具体原因
			if es.target == model.ErrInvalidRequest {
				message = err.Error()
			}
			return es.status, message, es.retryable
		}
	}
	return http.StatusInternalServerError, "internal server error", false
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}

// writeError 把业务错误转换为统一的 {code, message, data} 响应，流水线错误额外带 retryable。
func writeError(c *gin.Context, err error) {
	status, message, retryable := classify(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[%s %s] %v", c.Request.Method, c.FullPath(), err)
	} else {
		log.Warnf("[%s %s] %v", c.Request.Method, c.FullPath(), err)
	}
	body := gin.H{"code": status, "message": message, "data": nil}
	if retryable {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// currentUser 返回已认证的用户，AuthMiddleware 之后调用。
func currentUser(c *gin.Context) (uint, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "unauthenticated", "data": nil})
		return 0, false
	}
	return user.ID, true
}

// pathID 解析路径中的数字 ID，非法时返回 400。
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
