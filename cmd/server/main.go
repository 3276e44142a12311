package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/taxfiling/filing-saga/internal/config"
	"github.com/taxfiling/filing-saga/internal/logger"
	"github.com/taxfiling/filing-saga/internal/model"
	"github.com/taxfiling/filing-saga/internal/repo"
	"github.com/taxfiling/filing-saga/internal/saga"
	"github.com/taxfiling/filing-saga/internal/service"
	httptransport "github.com/taxfiling/filing-saga/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Filing{}, &model.ProcessedEvent{}, &model.OutboxEvent{}, &model.ParkedEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. repo, orchestrator & service (no kafka writer: all sends go
	// through the outbox poller)
	repository := repo.NewRepository(gdb, rdb, nil, log)
	orc := saga.NewOrchestrator(repository, cfg.Dedup.ConsumerName, cfg.Kafka.FilingTopic, cfg.Saga.MaxConflictRetries, log)
	svc := service.NewFilingService(repository, orc, log)

	// 6. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, log)

	// 7. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("filing-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
