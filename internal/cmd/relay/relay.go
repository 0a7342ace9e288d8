// Package relay parses relay command flags and launches the outbox drain
// loop against the event broker.
package relay

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/broker"
	"github.com/formworks/formworks/internal/forms/storage/sqlite"
	entrypoint "github.com/formworks/formworks/internal/platform/cmd"
	"github.com/formworks/formworks/internal/relay"
)

// Config holds relay command configuration.
type Config struct {
	DBPath        string        `env:"FORMWORKS_RELAY_DB_PATH" envDefault:"data/forms.db"`
	BrokerURL     string        `env:"FORMWORKS_RELAY_BROKER_URL" envDefault:"nats://127.0.0.1:4222"`
	CredsFile     string        `env:"FORMWORKS_RELAY_CREDS_FILE"`
	Stream        string        `env:"FORMWORKS_RELAY_STREAM" envDefault:"CHEFS"`
	Replicas      int           `env:"FORMWORKS_RELAY_STREAM_REPLICAS" envDefault:"3"`
	Consumer      string        `env:"FORMWORKS_RELAY_CONSUMER" envDefault:"forms-relay"`
	BatchSize     int           `env:"FORMWORKS_RELAY_BATCH_SIZE" envDefault:"32"`
	PollInterval  time.Duration `env:"FORMWORKS_RELAY_POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL      time.Duration `env:"FORMWORKS_RELAY_LEASE_TTL" envDefault:"30s"`
	MaxAttempts   int           `env:"FORMWORKS_RELAY_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff  time.Duration `env:"FORMWORKS_RELAY_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay time.Duration `env:"FORMWORKS_RELAY_RETRY_MAX_DELAY" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The forms SQLite database path")
	fs.StringVar(&cfg.BrokerURL, "broker-url", cfg.BrokerURL, "The broker client URL")
	fs.StringVar(&cfg.CredsFile, "creds-file", cfg.CredsFile, "Producer credentials file path")
	fs.StringVar(&cfg.Stream, "stream", cfg.Stream, "Event stream name")
	fs.IntVar(&cfg.Replicas, "stream-replicas", cfg.Replicas, "Event stream replication factor")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Outbox consumer name")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Outbox events leased per drain pass")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Outbox poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Outbox lease duration")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum publish attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens the store, connects the broker, ensures the stream, and drains
// the outbox until the context is canceled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithLogger(ctx, entrypoint.ServiceRelay, func(ctx context.Context, logger *zap.Logger) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		client, err := broker.Connect(broker.Config{
			URL:       cfg.BrokerURL,
			Name:      cfg.Consumer,
			CredsFile: cfg.CredsFile,
			Stream:    cfg.Stream,
			Replicas:  cfg.Replicas,
		}, broker.WithLogger(logger))
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.EnsureStream(ctx); err != nil {
			return err
		}

		drain := relay.New(store, client, relay.Config{
			Consumer:       cfg.Consumer,
			BatchSize:      cfg.BatchSize,
			PollInterval:   cfg.PollInterval,
			LeaseTTL:       cfg.LeaseTTL,
			MaxAttempts:    cfg.MaxAttempts,
			RetryBaseDelay: cfg.RetryBackoff,
			RetryMaxDelay:  cfg.RetryMaxDelay,
		}, relay.WithLogger(logger))
		return drain.Run(ctx)
	})
}
