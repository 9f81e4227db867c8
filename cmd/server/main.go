package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outpost-sync/config"
	"outpost-sync/internal/api"
	"outpost-sync/internal/broker"
	"outpost-sync/internal/outpost"
	"outpost-sync/internal/redisclient"
	"outpost-sync/internal/service"
	"outpost-sync/internal/store"
	"outpost-sync/internal/util"
	"outpost-sync/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting outpost sync service")

	tp, err := util.InitTracer("outpost-sync", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSync)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	syncService := service.NewSyncService(db, redisClient, eventPublisher)
	syncService.SetLockTTL(cfg.Sync.LockTTL)

	policy := outpost.RetryPolicy{
		MaxRetries:    cfg.Sync.MaxRetries,
		BackoffBase:   cfg.Sync.BackoffBase,
		BackoffFactor: cfg.Sync.BackoffFactor,
	}
	for _, oc := range cfg.Outposts {
		clientCfg := outpost.Config{
			Name:           oc.Name,
			BaseURL:        oc.BaseURL,
			Username:       oc.Username,
			Password:       oc.Password,
			AttemptTimeout: cfg.Sync.AttemptTimeout,
			Policy:         policy,
		}
		syncService.Register(clientCfg, outpost.NewClient(clientCfg))
	}
	log.Printf("Registered %d outposts", len(cfg.Outposts))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSync, cfg.Kafka.ConsumerGroup)
	syncWorker := worker.NewSyncWorker(syncConsumer, syncService)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil {
			log.Printf("Sync worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(syncService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	syncWorker.Stop()

	log.Println("Server exited")
}
