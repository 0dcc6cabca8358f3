// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/padelhub/lobby/internal/auth"
	"github.com/padelhub/lobby/internal/cache"
	"github.com/padelhub/lobby/internal/config"
	"github.com/padelhub/lobby/internal/database"
	"github.com/padelhub/lobby/internal/handlers"
	"github.com/padelhub/lobby/internal/lobby"
	"github.com/padelhub/lobby/internal/mq"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited.")
	}
	logger.Info("Server stopped.")
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	log := logrus.NewEntry(logger)

	pool, err := database.Connect(ctx, cfg.PostgresURL(), log)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	repo := database.NewRepository(pool, log)

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()
	sessions := cache.NewSessionCache(rdb, repo, cfg.SnapshotTTL, log)
	events := cache.NewEventQueue(rdb, cfg.LobbyEventQueue)

	recorders := []lobby.Recorder{repo, sessions, events}

	var publisher *mq.Publisher
	if cfg.RabbitURL != "" {
		publisher, err = mq.NewPublisher(cfg.RabbitURL, cfg.LobbyExchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		recorders = append(recorders, mq.NewReadinessPublisher(publisher, log))
	} else {
		log.Warn("RABBIT_URL not set, booking intake and readiness events disabled.")
	}

	issuer, err := newIssuer(cfg, log)
	if err != nil {
		return err
	}

	store := lobby.NewStore(sessions,
		lobby.WithStoreLogger(log),
		lobby.WithRecorders(recorders...),
		lobby.WithLobbyOptions(lobby.WithTickInterval(cfg.TickInterval)),
	)
	defer store.Close()

	api := &handlers.APIServer{
		Store:        store,
		Auth:         issuer,
		ServiceToken: cfg.ServiceToken,
		Logger:       logger,
	}
	if cfg.ServiceToken == "" {
		log.Warn("SERVICE_TOKEN not set, venue and roster endpoints will reject every request.")
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Running on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		sweep(gctx, store, cfg.SweepInterval, log)
		return nil
	})
	if cfg.RabbitURL != "" {
		consumer := mq.NewBookingConsumer(mq.ConsumerConfig{
			RabbitURL:   cfg.RabbitURL,
			Exchange:    cfg.BookingExchange,
			Queue:       cfg.BookingQueue,
			Bindings:    cfg.BookingKeys,
			Prefetch:    cfg.Prefetch,
			ServiceName: "lobby-service",
		}, store, log)
		if err := consumer.Connect(); err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	return g.Wait()
}

// newIssuer loads the signing keys when configured. Without them tokens are
// signed with a key that lives only as long as the process.
func newIssuer(cfg config.Config, log *logrus.Entry) (*auth.Issuer, error) {
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		return auth.LoadIssuer(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.TokenExpireTime)
	}
	log.Warn("JWT key paths not set, using ephemeral signing keys.")
	return auth.GenerateIssuer(cfg.TokenExpireTime)
}

// sweep evicts lobbies whose match has ended.
func sweep(ctx context.Context, store *lobby.Store, every time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if ids := store.Sweep(now); len(ids) > 0 {
				log.WithField("lobbies", ids).Info("Evicted finished lobbies.")
			}
		}
	}
}
