package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chathub/internal/api"
	"chathub/internal/config"
	"chathub/internal/gateway"
	"chathub/internal/keypool"
	"chathub/internal/redis"
	"chathub/internal/service/chat"
	"chathub/internal/session"
	"chathub/internal/storage"
	"chathub/internal/template"
	"chathub/internal/worker"
)

func main() {
	cfgPath := os.Getenv("CHATHUB_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var store storage.Store
	switch cfg.Storage.Backend {
	case "file":
		store, err = storage.NewFileStore(cfg.HistoryDir)
	case "sqlite", "sqlite3", "mysql":
		store, err = storage.OpenSQL(cfg.Storage.Backend, cfg.Storage.DSN)
	default:
		log.Fatalf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}
	if closer, ok := store.(*storage.SQLStore); ok {
		defer closer.Close()
	}

	templates, err := template.Load(cfg.PresetDir)
	if err != nil {
		log.Fatalf("load presets: %v", err)
	}

	pool, err := keypool.New(cfg.APIKeys)
	if err != nil {
		log.Fatalf("init key pool: %v", err)
	}

	completer, err := gateway.NewEinoGateway(cfg.Provider, cfg.BaseURL, cfg.EnableWebSearch)
	if err != nil {
		log.Fatalf("init completion gateway: %v", err)
	}

	container := session.NewContainer(store, templates, cfg.ChatMemoryMax, cfg.HistoryMax, cfg.DefaultOnlyAdmin)
	if err := container.Load(); err != nil {
		log.Fatalf("load sessions: %v", err)
	}

	chatService := chat.NewService(container, templates, pool, completer, chat.Config{
		Model:              cfg.Model,
		Temperature:        cfg.Temperature,
		MaxTokens:          cfg.MaxTokens,
		Timeout:            time.Duration(cfg.TimeoutSeconds) * time.Second,
		LoadBalance:        cfg.KeyLoadBalancing,
		AllowPrivate:       cfg.AllowPrivate,
		AutoCreateAnnounce: cfg.AutoCreateNotice,
	})

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.Worker.MinWorkers,
		MaxWorkers:  cfg.Worker.MaxWorkers,
		QueueSize:   cfg.Worker.QueueSize,
		IdleTimeout: time.Duration(cfg.Worker.WorkerIdleMinutes) * time.Minute,
	})

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer cache.Close()
	}

	handlers := api.NewHandler(chatService, dispatcher, cache)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server stopped: %v", err)
		}
	}()
	log.Printf("listening on %s", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	container.Flush()
}
