package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	defaultJWTSecret     = "dev-secret-change-me"
	defaultAdminPassword = "admin123"
)

type Config struct {
	Host                  string        `env:"APP_HOST,default=127.0.0.1"`
	Port                  int           `env:"APP_PORT,default=5000"`
	PortAttempts          int           `env:"APP_PORT_ATTEMPTS,default=10"`
	Env                   string        `env:"APP_ENV,default=dev"`
	LogLevel              string        `env:"LOG_LEVEL"`
	DatabaseDSN           string        `env:"DATABASE_DSN"`
	JWTSecret             string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	AccessTokenTTLMinutes int           `env:"ACCESS_TOKEN_TTL_MINUTES,default=60"`
	AdminUsername         string        `env:"ADMIN_USERNAME,default=admin"`
	AdminPassword         string        `env:"ADMIN_PASSWORD,default=admin123"`
	AdminPasswordHash     string        `env:"ADMIN_PASSWORD_HASH"`
	ReapInterval          time.Duration `env:"REAP_INTERVAL,default=60s"`
	AllowedOrigins        string        `env:"ALLOWED_ORIGINS,default=*"`
	MaxMessageBytes       int64         `env:"MAX_MESSAGE_BYTES,default=4096"`
	MessageRatePerSecond  float64       `env:"MESSAGE_RATE_PER_SECOND,default=10"`
	MessageBurst          int           `env:"MESSAGE_BURST,default=20"`
	LeaveOnDisconnect     bool          `env:"LEAVE_ON_DISCONNECT,default=false"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load 从环境变量读取配置，未设置的字段使用 tag 中的默认值。
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Origins 把逗号分隔的 ALLOWED_ORIGINS 拆成列表。
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Level 返回日志级别，未显式配置时 dev 为 debug，其余为 info。
func (c Config) Level() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	if c.Env == "dev" {
		return "debug"
	}
	return "info"
}

// Validate 检查配置是否可用；非 dev 环境禁止使用默认密钥与默认管理员密码。
func Validate(cfg Config) error {
	var errs []error
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid APP_PORT %d", cfg.Port))
	}
	if cfg.PortAttempts <= 0 {
		errs = append(errs, errors.New("APP_PORT_ATTEMPTS must be positive"))
	}
	if cfg.ReapInterval <= 0 {
		errs = append(errs, errors.New("REAP_INTERVAL must be positive"))
	}
	if cfg.AccessTokenTTLMinutes <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL_MINUTES must be positive"))
	}
	if cfg.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_BYTES must be positive"))
	}
	if cfg.MessageRatePerSecond <= 0 {
		errs = append(errs, errors.New("MESSAGE_RATE_PER_SECOND must be positive"))
	}
	if cfg.MessageBurst <= 0 {
		errs = append(errs, errors.New("MESSAGE_BURST must be positive"))
	}
	if cfg.AdminUsername == "" {
		errs = append(errs, errors.New("ADMIN_USERNAME is required"))
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == "" || cfg.JWTSecret == defaultJWTSecret {
			errs = append(errs, errors.New("JWT_SECRET must be set outside dev"))
		}
		if cfg.AdminPasswordHash == "" && cfg.AdminPassword == defaultAdminPassword {
			errs = append(errs, errors.New("default admin password is only allowed in dev"))
		}
	}
	return errors.Join(errs...)
}
