package service

import (
	"context"
	"errors"

	"chatrelay/internal/auth"
	"chatrelay/internal/models"

	"gorm.io/gorm"
)

// AdminStore 从数据库读取管理员凭据，实现 auth.CredentialChecker。
type AdminStore struct {
	db *gorm.DB
}

var _ auth.CredentialChecker = (*AdminStore)(nil)

func NewAdminStore(db *gorm.DB) *AdminStore {
	return &AdminStore{db: db}
}

func (s *AdminStore) CheckAdminCredentials(ctx context.Context, username, password string) (bool, error) {
	var admin models.Admin
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return auth.VerifyPassword(admin.PasswordHash, password), nil
}

// AdminService 封装管理员登录。
type AdminService struct {
	creds      auth.CredentialChecker
	secret     string
	ttlMinutes int
}

func NewAdminService(creds auth.CredentialChecker, secret string, ttlMinutes int) *AdminService {
	return &AdminService{creds: creds, secret: secret, ttlMinutes: ttlMinutes}
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken string `json:"access_token"`
	Admin       string `json:"admin"`
	TTLMinutes  int    `json:"-"`
}

// Login 校验管理员用户名密码并签发 token。
func (s *AdminService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ok, err := s.creds.CheckAdminCredentials(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(username, s.secret, s.ttlMinutes)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, Admin: username, TTLMinutes: s.ttlMinutes}, nil
}
