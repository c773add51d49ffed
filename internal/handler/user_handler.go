package handler

import (
	"synapse-go/internal/middleware"
	"synapse-go/internal/service"
	"synapse-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理注册、登录和当前用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// CredentialsRequest 是注册和登录的请求体。
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Infof("User %d registered successfully", user.ID)
	ok(c, "User registered successfully", user)
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	pair, err := h.userService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Login successful", gin.H{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// GetProfile 返回当前登录用户，用户信息已经由 AuthMiddleware 注入到上下文中。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, exists := middleware.CurrentUser(c)
	if !exists {
		currentUser(c)
		return
	}
	ok(c, "success", user)
}

// Logout 注销当前 access token。
func (h *UserHandler) Logout(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	if err := h.userService.Logout(c.Request.Context(), c.GetString(middleware.ContextTokenKey)); err != nil {
		writeError(c, err)
		return
	}
	log.Infof("User %d logged out successfully", userID)
	ok(c, "Logout successful", nil)
}
