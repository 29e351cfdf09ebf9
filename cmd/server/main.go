package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"collab-sync-server/internal/config"
	"collab-sync-server/internal/handler"
	"collab-sync-server/internal/middleware"
	"collab-sync-server/internal/prosemirror"
	"collab-sync-server/internal/relay"
	"collab-sync-server/internal/repository"
	"collab-sync-server/internal/service"
	"collab-sync-server/internal/telemetry"
	"collab-sync-server/internal/websocket"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load()
	if err != nil {
		glog.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Logging.Verbosity > 0 && flag.Lookup("v").Value.String() == "0" {
		flag.Set("v", strconv.Itoa(cfg.Logging.Verbosity))
	}

	for _, nodeType := range cfg.ProseMirror.LeafTypes {
		prosemirror.RegisterLeafType(nodeType)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.InitJaeger(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		glog.Fatalf("Failed to initialize tracing: %v", err)
	}

	stores, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		glog.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer stores.Close()

	// WebSocket Manager
	wsManager := websocket.NewManager(websocket.Options{
		WriteWait:        cfg.WebSocket.WriteWait,
		PongWait:         cfg.WebSocket.PongWait,
		PingPeriod:       cfg.WebSocket.PingPeriod,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		SendBufferSize:   cfg.WebSocket.SendBufferSize,
		ResendBufferSize: cfg.WebSocket.ResendBufferSize,
	})

	permissionService := service.NewPermissionService(stores.Pages, stores.Permissions)
	pageService := service.NewPageService(stores.Pages, permissionService)
	collabService := service.NewCollabService(
		stores.Pages,
		permissionService,
		wsManager,
		cfg.JWT.Secret,
		cfg.WebSocket.DiffHistoryLength,
	)

	if cfg.Redis.Enabled() {
		redisRelay, err := relay.NewRedis(cfg.Redis.URL, cfg.Redis.Channel, uuid.New().String())
		if err != nil {
			glog.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisRelay.Close()
		collabService.SetRelay(redisRelay)
		glog.Infof("Relaying rooms over Redis channel %s as %s", cfg.Redis.Channel, redisRelay.Origin())
	}
	if err := collabService.Start(ctx); err != nil {
		glog.Fatalf("Failed to start relay subscription: %v", err)
	}

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(collabService))
	go wsManager.Run(ctx)

	wsHandler := handler.NewWebSocketHandler(ctx, wsManager, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)
	pageHandler := handler.NewPageHandler(pageService)
	healthHandler := handler.NewHealthHandler(wsManager, cfg.Tracing.ServiceName)

	r := mux.NewRouter()

	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.TracingMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/pages/{id}", pageHandler.Get).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.HandleFunc("/health", healthHandler.Check).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		glog.Infof("Starting collab sync server on %s (env: %s, store: %s)", addr, cfg.Server.Env, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	glog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("Server forced to shutdown: %v", err)
	}

	// stops the relay subscription, the manager and every read loop
	cancel()

	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Warningf("Failed to flush traces: %v", err)
	}

	glog.Info("Server stopped gracefully")
}
