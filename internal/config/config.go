package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/database"
)

type Config struct {
	// HTTP
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// DB
	DatabaseURL string `envconfig:"DATABASE_URL"`
	PGUser      string `envconfig:"POSTGRES_USER" default:"postgres"`
	PGPassword  string `envconfig:"POSTGRES_PASSWORD"`
	PGHost      string `envconfig:"PG_HOST" default:"localhost"`
	PGPort      string `envconfig:"PG_PORT" default:"5432"`
	PGDatabase  string `envconfig:"PG_DATABASE" default:"lobby"`

	// Redis
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	SnapshotTTL     time.Duration `envconfig:"SNAPSHOT_TTL" default:"6h"`
	LobbyEventQueue string        `envconfig:"LOBBY_EVENT_QUEUE" default:"lobby_events"`

	// RabbitMQ; empty RabbitURL disables booking intake and readiness publishing.
	RabbitURL       string   `envconfig:"RABBIT_URL"`
	BookingExchange string   `envconfig:"BOOKING_EXCHANGE" default:"booking.exchange"`
	BookingQueue    string   `envconfig:"BOOKING_QUEUE" default:"lobby.booking"`
	BookingKeys     []string `envconfig:"BOOKING_KEYS" default:"booking.confirmed,booking.cancelled"`
	LobbyExchange   string   `envconfig:"LOBBY_EXCHANGE" default:"lobby.exchange"`
	Prefetch        int      `envconfig:"RABBIT_PREFETCH" default:"8"`

	// Auth
	TokenExpireTime time.Duration `envconfig:"TOKEN_EXPIRE_TIME" default:"24h"`
	ServiceToken    string        `envconfig:"SERVICE_TOKEN"`
	JWTPrivateKey   string        `envconfig:"JWT_PRIVATE_KEY_PATH"`
	JWTPublicKey    string        `envconfig:"JWT_PUBLIC_KEY_PATH"`

	// Lobby engine
	TickInterval  time.Duration `envconfig:"TICK_INTERVAL" default:"1s"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`

	// Historian
	HistorianBatchSize int           `envconfig:"HISTORIAN_BATCH_SIZE" default:"20"`
	HistorianFlush     time.Duration `envconfig:"HISTORIAN_FLUSH" default:"500ms"`
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// PostgresURL prefers DATABASE_URL and otherwise builds one from the PG_* parts.
func (c Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return database.ConnString(c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// Logger builds the process logger.
func (c Config) Logger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
