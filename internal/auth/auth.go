package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminKey    = "admin"
	tokenCookie = "admin_token"
)

// CredentialChecker 校验管理员用户名与密码，后端可以是配置或数据库中的 bcrypt 哈希。
type CredentialChecker interface {
	CheckAdminCredentials(ctx context.Context, username, password string) (bool, error)
}

// StaticCredentials 是进程内的管理员凭据表：用户名 -> bcrypt 哈希。
type StaticCredentials map[string]string

// NewStaticCredentials 用明文密码或现成哈希构造单管理员凭据表，hash 非空时优先。
func NewStaticCredentials(username, password, hash string) (StaticCredentials, error) {
	if hash == "" {
		var err error
		hash, err = HashPassword(password)
		if err != nil {
			return nil, err
		}
	}
	return StaticCredentials{username: hash}, nil
}

func (s StaticCredentials) CheckAdminCredentials(_ context.Context, username, password string) (bool, error) {
	hash, ok := s[username]
	if !ok {
		return false, nil
	}
	return VerifyPassword(hash, password), nil
}

type Claims struct {
	Admin string `json:"adm"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(admin, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Admin != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// SetTokenCookie 把管理员 token 写入 HttpOnly cookie，供浏览器端管理页使用。
func SetTokenCookie(c *gin.Context, token string, ttlMinutes int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, token, ttlMinutes*60, "/", "", false, true)
}

// AdminMiddleware 接受 Bearer token 或 admin_token cookie。
func AdminMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := ""
		authz := c.GetHeader("Authorization")
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			tokenStr = strings.TrimSpace(authz[7:])
		} else if v, err := c.Cookie(tokenCookie); err == nil {
			tokenStr = v
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := ParseAccessToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(adminKey, claims.Admin)
		c.Next()
	}
}

func GetAdmin(c *gin.Context) string {
	if v, ok := c.Get(adminKey); ok {
		if name, ok2 := v.(string); ok2 {
			return name
		}
	}
	return ""
}
