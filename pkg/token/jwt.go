// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// token 类型，防止 refresh token 被当作 access token 使用。
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	refreshTokenDur time.Duration
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
type CustomClaims struct {
	UserID    uint   `json:"userId"`
	Email     string `json:"email"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
// accessTokenExpireMinutes: access token 的过期时间（分钟）。
// refreshTokenExpireDays: refresh token 的过期时间（天）。
func NewJWTManager(secret string, accessTokenExpireMinutes, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Duration(accessTokenExpireMinutes) * time.Minute,
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

// GenerateToken 生成 access token。
func (m *JWTManager) GenerateToken(userID uint, email string) (string, error) {
	return m.sign(userID, email, TypeAccess, m.accessTokenDur)
}

// GenerateRefreshToken 生成有效期更长的 refresh token。
func (m *JWTManager) GenerateRefreshToken(userID uint, email string) (string, error) {
	return m.sign(userID, email, TypeRefresh, m.refreshTokenDur)
}

func (m *JWTManager) sign(userID uint, email, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:    userID,
		Email:     email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// 同一秒内签发的 token 也必须互不相同，否则黑名单会误伤新 token
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串。
// 如果 token 无效（例如，签名不匹配或已过期），则返回错误。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// VerifyAccessToken 只接受 access token。
func (m *JWTManager) VerifyAccessToken(tokenString string) (*CustomClaims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}

// VerifyRefreshToken 只接受 refresh token。
func (m *JWTManager) VerifyRefreshToken(tokenString string) (*CustomClaims, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, errors.New("not a refresh token")
	}
	return claims, nil
}

// Remaining 返回 token 距离过期还剩多久，用于设置黑名单 TTL。
func (c *CustomClaims) Remaining() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := time.Until(c.ExpiresAt.Time)
	if d < 0 {
		return 0
	}
	return d
}
