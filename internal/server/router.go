package server

import (
	"net/http"
	"os"
	"path/filepath"

	"chatrelay/internal/auth"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"
	"chatrelay/internal/service"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 是路由依赖的核心组件。限速器为 nil 时不限速。
type Deps struct {
	Store       *chat.Store
	Hub         *ws.Hub
	Gateway     *chat.Gateway
	Creds       auth.CredentialChecker
	HTTPLimiter *mw.RL
	MsgLimiter  *mw.RL
}

// SetupRouter 统一初始化 Gin 中间件、管理端 API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	policy := mw.NewOriginPolicy(cfg.Origins())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(policy))
	if d.HTTPLimiter != nil {
		r.Use(mw.RateLimit(d.HTTPLimiter))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(
		service.NewAdminService(d.Creds, cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		service.NewRoomService(d.Store, d.Hub),
		service.NewMessageService(d.Store),
	)

	admin := r.Group("/api/v1/admin")
	admin.POST("/login", h.AdminLogin)

	// 需要管理员 token 的接口。
	authed := admin.Group("")
	authed.Use(auth.AdminMiddleware(cfg.JWTSecret))
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id/messages", h.ListMessages)

	r.GET("/ws", ws.Serve(d.Gateway, d.Hub, ws.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		Limiter:         d.MsgLimiter,
		CheckOrigin:     policy.CheckOrigin,
	}))

	webDir := filepath.Join(".", "web")
	if fi, err := os.Stat(webDir); err == nil && fi.IsDir() {
		r.NoRoute(gin.WrapH(http.FileServer(http.Dir(webDir))))
	}
	return r
}
