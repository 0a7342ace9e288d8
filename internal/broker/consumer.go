package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Event is one delivered message from the forms event stream.
type Event struct {
	Subject string
	Data    []byte

	msg *nats.Msg
}

// Ack confirms processing; the server stops redelivering the message.
func (e *Event) Ack() error {
	return e.msg.Ack()
}

// Nak asks for immediate redelivery.
func (e *Event) Nak() error {
	return e.msg.Nak()
}

// Consumer is a durable pull subscription on the event stream.
type Consumer struct {
	sub *nats.Subscription
}

// Fetch pulls up to batch messages, waiting until the context deadline when
// fewer are available. An empty batch is returned as a nil slice, not an
// error.
func (c *Consumer) Fetch(ctx context.Context, batch int) ([]*Event, error) {
	msgs, err := c.sub.Fetch(batch, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	events := make([]*Event, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, &Event{
			Subject: msg.Subject,
			Data:    msg.Data,
			msg:     msg,
		})
	}
	return events, nil
}

// Unsubscribe detaches from the consumer without deleting the durable cursor.
func (c *Consumer) Unsubscribe() error {
	return c.sub.Unsubscribe()
}
