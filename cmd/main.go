package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/cwrk-planet/chat-service/config"
	"github.com/cwrk-planet/chat-service/internal/bridge"
	"github.com/cwrk-planet/chat-service/internal/broker"
	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/presence"
	"github.com/cwrk-planet/chat-service/internal/registry"
	"github.com/cwrk-planet/chat-service/internal/service"
	grpcx "github.com/cwrk-planet/chat-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/chat-service/internal/transport/http"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
	"github.com/cwrk-planet/chat-service/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting chat-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	// --- history ---
	var history service.HistoryStore
	if cfg.Postgres.DSN != "" {
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			ApplicationName: cfg.Logging.Service,
			Migrate:         cfg.Postgres.Migrate,
		})
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer db.Close()
		history = postgres.NewChatRepository(db.Pool, cfg.Postgres.HistoryLimit)
	} else {
		slog.Warn("postgres.dsn is empty, history is kept in memory")
		history = service.NewMemoryHistory()
	}

	// --- gRPC health ---
	grpcSrv := grpcx.NewServer()

	// --- registry, bridge, services ---
	reg := registry.New()
	br := bridge.New(broker.NewRedis(rdb), reg, bridge.Options{
		Channel:        cfg.Redis.Channel,
		InitialBackoff: cfg.Bridge.InitialBackoff,
		MaxBackoff:     cfg.Bridge.MaxBackoff,
		OnStatus:       grpcSrv.SetServing,
	})
	tracker := presence.NewTracker(presence.NewRedisStore(rdb, cfg.Redis.PresenceKeyPrefix), br)
	chatSvc := service.NewChatService(history, cfg.WS.MaxMessageLen)

	// --- WS server ---
	wsServer := ws.NewServer(reg, chatSvc, tracker, br, ws.Options{
		PingEvery:        cfg.WS.PingEvery,
		IdleTimeout:      cfg.WS.IdleTimeout,
		HandshakeTimeout: cfg.WS.HandshakeTimeout,
		WriteTimeout:     cfg.WS.WriteTimeout,
		MaxMessageBytes:  cfg.WS.MaxMessageBytes,
		AnnounceJoins:    *cfg.WS.AnnounceJoins,
	})

	// --- HTTP ---
	handler := httpx.NewHandler(tracker, chatSvc, grpcSrv)
	router := httpx.NewRouter(handler, wsServer, httpx.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	httpSrv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     router,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// hijacked websocket conns manage their own deadlines
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// --- run listener and both servers ---
	errCh := make(chan error, 3)

	go func() {
		if err := br.Listen(ctx); err != nil {
			errCh <- err
		}
	}()

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctxShutdown); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	// hijacked websocket sessions are not covered by http Shutdown; their
	// teardown needs redis, which is closed on return
	if err := wsServer.Shutdown(ctxShutdown); err != nil {
		slog.Error("ws shutdown", "err", err)
	}
	stop()
	grpcSrv.GracefulStop()
	rooms, roomConns, globalConns := reg.Stats()
	slog.Info("stopped", "rooms", rooms, "room_conns", roomConns, "global_conns", globalConns)
}
