package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	clog "chatrelay/internal/log"
	"chatrelay/internal/mw"
	"chatrelay/internal/server"
	"chatrelay/internal/service"
	"chatrelay/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 负责加载配置、初始化日志与凭据来源、启动过期扫描和 HTTP 服务，并在收到信号后优雅停服。
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	clog.Init(cfg.Env, cfg.Level())
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	creds, err := credentials(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("admin credentials")
	}

	store := chat.NewStore()
	hub := ws.NewHub()
	gw := chat.NewGateway(store, hub, chat.WithLeaveOnDisconnect(cfg.LeaveOnDisconnect))

	httpLimiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	httpLimiter.Start(30 * time.Second)
	msgLimiter := mw.NewRateLimiter(rate.Limit(cfg.MessageRatePerSecond), cfg.MessageBurst, 10*time.Minute)
	msgLimiter.Start(30 * time.Second)

	port, err := server.FindAvailablePort(cfg.Host, cfg.Port, cfg.PortAttempts, time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("find port")
	}

	r := server.SetupRouter(cfg, server.Deps{
		Store:       store,
		Hub:         hub,
		Gateway:     gw,
		Creds:       creds,
		HTTPLimiter: httpLimiter,
		MsgLimiter:  msgLimiter,
	})
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(hub.CloseAll)

	reapCtx, stopReaper := context.WithCancel(context.Background())
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		if err := chat.NewReaper(store, hub, cfg.ReapInterval).Run(reapCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("reaper")
		}
	}()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
		"reaper": func(ctx context.Context) error {
			stopReaper()
			select {
			case <-reaperDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		"rate-limiters": func(ctx context.Context) error {
			httpLimiter.Stop()
			msgLimiter.Stop()
			return nil
		},
	})

	code := <-wait
	log.Info().Int("code", code).Msg("shutdown complete")
	os.Exit(code)
}

// credentials 在配置了 DATABASE_DSN 时从数据库校验管理员，否则使用环境变量中的静态凭据。
func credentials(cfg config.Config) (auth.CredentialChecker, error) {
	if cfg.DatabaseDSN == "" {
		return auth.NewStaticCredentials(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	if err := db.SeedAdmin(gdb, cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash); err != nil {
		return nil, err
	}
	return service.NewAdminStore(gdb), nil
}
