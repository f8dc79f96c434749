package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/cwrk-planet/deal-chat/config"
	"github.com/cwrk-planet/deal-chat/internal/broadcast"
	"github.com/cwrk-planet/deal-chat/internal/identity"
	"github.com/cwrk-planet/deal-chat/internal/metrics"
	"github.com/cwrk-planet/deal-chat/internal/notify"
	"github.com/cwrk-planet/deal-chat/internal/presence"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
	"github.com/cwrk-planet/deal-chat/internal/reaper"
	"github.com/cwrk-planet/deal-chat/internal/service"
	"github.com/cwrk-planet/deal-chat/internal/storage"
	grpcx "github.com/cwrk-planet/deal-chat/internal/transport/grpc"
	httpx "github.com/cwrk-planet/deal-chat/internal/transport/http"
	"github.com/cwrk-planet/deal-chat/internal/transport/ws"
	"github.com/cwrk-planet/deal-chat/pkg/logger"

	"google.golang.org/grpc"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting deal-chat",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- storage ---
	repo, closeRepo, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeRepo()

	// --- identity ---
	auth, err := identity.NewJWTAuthenticator(identity.Config{
		Secret:        cfg.Auth.JWTSecret,
		PublicKeyPath: cfg.Auth.PublicKeyPath,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		ClockSkew:     cfg.Auth.Skew(),
	})
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	// --- hub, presence, services ---
	hub := broadcast.NewHub()
	hub.OnDrop(func(_ string, ev protocol.Event) {
		metrics.BroadcastDropped.WithLabelValues(ev.Type).Inc()
	})
	tracker := presence.NewMemory()

	dispatcher := notify.NewDispatcher(repo, cfg.Chat.PreviewLength)
	rooms := service.NewRoomStore(repo, hub, dispatcher, service.Options{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		PageSize:         cfg.Chat.PageSize,
	})
	notes := service.NewNotificationService(repo)

	// --- WS ---
	wsServer := ws.NewServer(auth, rooms, hub, tracker, ws.Options{
		PingEvery:      cfg.Chat.Ping(),
		SendBuffer:     cfg.Chat.SendBuffer,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// --- HTTP ---
	readTimeout, writeTimeout, idleTimeout, requestTimeout := cfg.HTTP.Timeouts()
	router := httpx.NewRouter(httpx.Deps{
		Handler:        httpx.NewHandler(rooms, notes, tracker),
		WS:             wsServer.HandleWS,
		Auth:           auth,
		Activity:       rooms,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: requestTimeout,
		Health:         repo.Ping,
	})
	httpSrv := httpx.NewServer(httpx.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, router)

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerInterceptor(),
			grpcx.AuthUnaryInterceptor(auth),
		),
	)
	grpcx.Register(grpcServer, grpcx.NewServer(rooms, notes))

	// --- run ---
	errCh := make(chan error, 3)
	running := 2

	go func() {
		errCh <- httpSrv.Run(ctx, func(shCtx context.Context) {
			if err := wsServer.Shutdown(shCtx); err != nil {
				slog.Warn("ws shutdown", "err", err)
			}
		})
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		slog.Info("gRPC listening", "addr", cfg.GRPC.Addr)
		errCh <- grpcServer.Serve(lis)
	}()

	if cfg.Chat.Reaper() {
		rp := reaper.New(rooms, tracker, reaper.Config{
			IdleTimeout: cfg.Chat.IdleAfter(),
			Interval:    cfg.Chat.ReaperEvery(),
		})
		running++
		go func() { errCh <- rp.Run(ctx) }()
	}

	// --- graceful shutdown ---
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal")
	case err := <-errCh:
		running--
		if err != nil {
			slog.Error("server error", "err", err)
		}
		stop()
	}

	grpcServer.GracefulStop()
	// http Run сам закрывает websocket-ы и listener после отмены ctx
	for ; running > 0; running-- {
		if err := <-errCh; err != nil {
			slog.Warn("component stopped with error", "err", err)
		}
	}
	slog.Info("stopped")
}
