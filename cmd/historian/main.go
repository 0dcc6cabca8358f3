// cmd/historian/main.go runs the historian, which archives lobby events from
// the Redis queue into PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/cache"
	"github.com/padelhub/lobby/internal/config"
	"github.com/padelhub/lobby/internal/database"
	"github.com/padelhub/lobby/internal/historian"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.PostgresURL(), log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database.")
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.WithError(err).Fatal("Failed to migrate.")
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to redis.")
	}
	defer rdb.Close()

	svc := historian.New(rdb, pool, historian.Config{
		Queue:      cfg.LobbyEventQueue,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlush,
	}, log)
	if err := svc.Run(ctx); err != nil {
		log.WithError(err).Error("Historian stopped with error.")
		return
	}
	log.Info("Historian stopped.")
}
