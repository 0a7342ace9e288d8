// Package broker wraps the JetStream client used for the forms event log:
// stream provisioning, confirmed publishes with dedupe ids, and durable pull
// consumers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/forms/domain"
)

// StreamName is the persistent log holding every forms lifecycle event.
const StreamName = "CHEFS"

// Config describes the broker connection and the stream to ensure.
type Config struct {
	// URL is the server or cluster seed URL list.
	URL string
	// Name identifies this client to the server.
	Name string
	// CredsFile is the path to the account credentials; empty means the
	// connection authenticates however the URL says (tests, local dev).
	CredsFile string
	// Stream overrides the stream name. Defaults to StreamName.
	Stream string
	// Replicas is the stream replication factor; 3 for the clustered
	// deployment, 1 for a single local server.
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "formworks"
	}
	if c.Stream == "" {
		c.Stream = StreamName
	}
	if c.Replicas <= 0 {
		c.Replicas = 3
	}
	return c
}

// Client is a connected JetStream publisher/consumer.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	config Config
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Connect dials the broker and binds a JetStream context.
func Connect(config Config, opts ...Option) (*Client, error) {
	config = config.withDefaults()

	natsOpts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if config.CredsFile != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(config.CredsFile))
	}

	conn, err := nats.Connect(config.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind jetstream: %w", err)
	}

	c := &Client{
		conn:   conn,
		js:     js,
		logger: zap.NewNop(),
		config: config,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// EnsureStream creates or updates the forms event stream: file-backed,
// replicated, capturing both visibility tiers.
func (c *Client) EnsureStream(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:     c.config.Stream,
		Subjects: StreamSubjects(),
		Storage:  nats.FileStorage,
		Replicas: c.config.Replicas,
		// Window inside which repeated Nats-Msg-Id values are dropped.
		Duplicates: 2 * time.Minute,
	}

	_, err := c.js.AddStream(streamConfig, nats.Context(ctx))
	if err == nil {
		c.logger.Info("event stream created",
			zap.String("stream", c.config.Stream),
			zap.Int("replicas", c.config.Replicas),
		)
		return nil
	}
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		if _, err := c.js.UpdateStream(streamConfig, nats.Context(ctx)); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	}
	return fmt.Errorf("add stream: %w", err)
}

// StreamSubjects returns the subject space the event stream captures.
func StreamSubjects() []string {
	return []string{
		domain.PublicSubjectPrefix + ">",
		domain.PrivateSubjectPrefix + ">",
	}
}

// Publish sends one message and waits for the stream's ack. msgID becomes the
// Nats-Msg-Id dedupe header, so a redelivered outbox event collapses to one
// stored message inside the duplicate window.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	_, err := c.js.Publish(subject, data, nats.MsgId(msgID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PullConsumer binds a durable pull consumer on the event stream. The durable
// name keeps the cursor across restarts.
func (c *Client) PullConsumer(durable, subject string, opts ...nats.SubOpt) (*Consumer, error) {
	opts = append([]nats.SubOpt{nats.BindStream(c.config.Stream)}, opts...)
	sub, err := c.js.PullSubscribe(subject, durable, opts...)
	if err != nil {
		return nil, fmt.Errorf("bind pull consumer %s: %w", durable, err)
	}
	return &Consumer{sub: sub}, nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
