// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"synapse-go/internal/model"
	"synapse-go/pkg/log"
	"synapse-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// 上下文中保存的键
const (
	ContextUserKey   = "user"
	ContextClaimsKey = "claims"
	ContextTokenKey  = "token"
)

// UserLoader 按 ID 加载用户，由 service.UserService 实现。
type UserLoader interface {
	GetProfile(ctx context.Context, userID uint) (*model.User, error)
}

// TokenBlacklist 判断 token 是否已注销，由 repository.TokenRepository 实现。
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// Authenticator 校验 access token 并加载当前用户，HTTP 中间件和 WebSocket 握手共用。
type Authenticator struct {
	jwtManager *token.JWTManager
	blacklist  TokenBlacklist
	users      UserLoader
}

// NewAuthenticator 创建一个 Authenticator。
func NewAuthenticator(jwtManager *token.JWTManager, blacklist TokenBlacklist, users UserLoader) *Authenticator {
	return &Authenticator{jwtManager: jwtManager, blacklist: blacklist, users: users}
}

// Authenticate 返回 token 对应的有效用户，token 无效、已注销或用户被停用时返回 model.ErrInvalidCredentials。
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*model.User, *token.CustomClaims, error) {
	claims, err := a.jwtManager.VerifyAccessToken(tokenString)
	if err != nil {
		return nil, nil, model.ErrInvalidCredentials
	}
	revoked, err := a.blacklist.IsBlacklisted(ctx, tokenString)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, model.ErrInvalidCredentials
	}
	user, err := a.users.GetProfile(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return nil, nil, model.ErrInvalidCredentials
	}
	return user, claims, nil
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它从 "Authorization: Bearer <token>" 中提取 token，并把 User 对象存入 Gin 的上下文中。
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "missing or malformed Authorization header",
				"data":    nil,
			})
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))

		user, claims, err := auth.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			status := http.StatusUnauthorized
			message := "invalid or expired token"
			if !errors.Is(err, model.ErrInvalidCredentials) {
				log.Errorf("[AuthMiddleware] 校验 token 失败: %v", err)
				status = http.StatusInternalServerError
				message = "authentication unavailable"
			}
			c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message, "data": nil})
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextClaimsKey, claims)
		c.Set(ContextTokenKey, tokenString)
		c.Next()
	}
}

// CurrentUser 返回由 AuthMiddleware 注入的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok && user != nil
}
