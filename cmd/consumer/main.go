package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/taxfiling/filing-saga/internal/config"
	"github.com/taxfiling/filing-saga/internal/consumer"
	"github.com/taxfiling/filing-saga/internal/dedup"
	"github.com/taxfiling/filing-saga/internal/logger"
	"github.com/taxfiling/filing-saga/internal/model"
	"github.com/taxfiling/filing-saga/internal/repo"
	"github.com/taxfiling/filing-saga/internal/saga"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Filing{}, &model.ProcessedEvent{}, &model.OutboxEvent{}, &model.ParkedEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	repository := repo.NewRepository(gdb, nil, nil, log)
	orc := saga.NewOrchestrator(repository, cfg.Dedup.ConsumerName, cfg.Kafka.FilingTopic, cfg.Saga.MaxConflictRetries, log)

	cons := consumer.New(consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ConsumerGroup,
		Topic:   cfg.Kafka.FilingTopic,
	}, orc, repository, log)

	pruner := dedup.NewPruner(repository, cfg.Dedup.Retention, cfg.Dedup.PruneInterval, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pruner.Run(ctx)

	log.Infof("filing-consumer started, group=%s topic=%s", cfg.Kafka.ConsumerGroup, cfg.Kafka.FilingTopic)
	cons.Run(ctx)
}
