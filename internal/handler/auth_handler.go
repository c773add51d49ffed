package handler

import (
	"synapse-go/internal/service"
	"synapse-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责处理认证相关的 API 请求，例如刷新 token。
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 用 refresh token 换取新的一对 token。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "refreshToken is required")
		return
	}

	pair, err := h.userService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Info("Token refreshed successfully")
	ok(c, "Token refreshed successfully", gin.H{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}
