// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"synapse-go/internal/model"
	"synapse-go/internal/repository"
	"synapse-go/pkg/hash"
	"synapse-go/pkg/log"
	"synapse-go/pkg/token"
)

// MinPasswordLength 是注册时密码的最小长度。
const MinPasswordLength = 8

// TokenPair 是登录或刷新后返回的一对 token。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	GetProfile(ctx context.Context, userID uint) (*model.User, error)
	Logout(ctx context.Context, accessToken string) error
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.TokenRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, tokenRepo repository.TokenRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", model.ErrInvalidRequest)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", model.ErrInvalidRequest, MinPasswordLength)
	}

	// 1. 检查邮箱是否已注册
	_, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, model.ErrEmailTaken
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashed, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 存入数据库，并发注册同一邮箱时由唯一索引兜底
	user := &model.User{Email: email, Password: hashed, IsActive: true}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	log.Infof("[UserService] 新用户注册, id: %d", user.ID)
	return user, nil
}

// Login 校验邮箱和密码并签发 token。
func (s *userService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive || !hash.CheckPasswordHash(password, user.Password) {
		return nil, model.ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *userService) GetProfile(ctx context.Context, userID uint) (*model.User, error) {
	return s.userRepo.FindByID(ctx, userID)
}

// Logout 把 token 加入黑名单，黑名单的过期时间就是 token 的剩余有效期。
func (s *userService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.jwtManager.VerifyToken(accessToken)
	if err != nil {
		return model.ErrInvalidCredentials
	}
	return s.tokenRepo.Blacklist(ctx, accessToken, claims.Remaining())
}

// RefreshToken 用 refresh token 换取新的一对 token，旧的 refresh token 随即作废。
func (s *userService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, model.ErrInvalidCredentials
	}
	revoked, err := s.tokenRepo.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, model.ErrInvalidCredentials
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.tokenRepo.Blacklist(ctx, refreshToken, claims.Remaining()); err != nil {
		log.Warnf("[UserService] 作废旧 refresh token 失败, user: %d, error: %v", user.ID, err)
	}
	return pair, nil
}

func (s *userService) issue(user *model.User) (*TokenPair, error) {
	access, err := s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
