// Package amqpfeed shares document changes between processes over a RabbitMQ
// topic exchange, so listeners in every process see writes made by any of them.
package amqpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mapchat/syncd/internal/storage"
)

var _ storage.Feed = (*Feed)(nil)

// Feed delivers changes to local subscribers immediately and relays them to the
// other processes bound to the same exchange. Changes a process published itself
// are dropped when they come back from the broker.
type Feed struct {
	*storage.LocalFeed

	conn     *amqp.Connection
	pub      *amqp.Channel
	exchange string
	origin   string
	logger   *slog.Logger

	mu       sync.Mutex
	consumed chan struct{}
}

// New connects to the broker, or returns a plain in-process feed when amqpURL is
// empty or the broker is unreachable.
func New(amqpURL, exchange string, logger *slog.Logger) storage.Feed {
	if amqpURL == "" {
		logger.Info("Change relay disabled, using local feed", "reason", "empty amqp url")
		return storage.NewLocalFeed()
	}

	f, err := dial(amqpURL, exchange, logger)
	if err != nil {
		logger.Warn("Change relay disabled, using local feed", "reason", err)
		return storage.NewLocalFeed()
	}
	logger.Info("Change relay connected", "exchange", exchange)
	return f
}

func dial(amqpURL, exchange string, logger *slog.Logger) (*Feed, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := pub.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	sub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	q, err := sub.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := sub.QueueBind(q.Name, "#", exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := sub.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	f := &Feed{
		LocalFeed: storage.NewLocalFeed(),
		conn:      conn,
		pub:       pub,
		exchange:  exchange,
		origin:    uuid.NewString(),
		logger:    logger,
		consumed:  make(chan struct{}),
	}
	go f.consume(deliveries)
	return f, nil
}

func (f *Feed) consume(deliveries <-chan amqp.Delivery) {
	defer close(f.consumed)
	for d := range deliveries {
		if d.AppId == f.origin {
			continue
		}
		changes, err := decode(d.Body)
		if err != nil {
			f.logger.Warn("Dropping malformed change message", "routing_key", d.RoutingKey, "error", err)
			continue
		}
		if err := f.LocalFeed.Publish(context.Background(), changes); err != nil {
			return
		}
	}
}

// Publish delivers locally, then relays to the exchange. A relay failure is
// returned after local delivery already happened.
func (f *Feed) Publish(ctx context.Context, changes []storage.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := f.LocalFeed.Publish(ctx, changes); err != nil {
		return err
	}

	body, err := encode(changes)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	f.mu.Lock()
	defer f.mu.Unlock()
	err = f.pub.PublishWithContext(ctx, f.exchange, RoutingKey(changes), false, false, amqp.Publishing{
		ContentType: "application/json",
		AppId:       f.origin,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to relay changes: %w", err)
	}
	return nil
}

// Close stops consuming, closes the connection and the local subscriptions.
func (f *Feed) Close() error {
	err := f.conn.Close()
	<-f.consumed
	f.LocalFeed.Close()
	return err
}

// RoutingKey is "<collection>.<kind>" of the first change, e.g. "messages.put".
func RoutingKey(changes []storage.Change) string {
	kind := "put"
	if changes[0].Kind == storage.ChangeDelete {
		kind = "delete"
	}
	return changes[0].Key.Collection + "." + kind
}

func encode(changes []storage.Change) ([]byte, error) {
	body, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode changes: %w", err)
	}
	return body, nil
}

func decode(body []byte) ([]storage.Change, error) {
	var changes []storage.Change
	if err := json.Unmarshal(body, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode changes: %w", err)
	}
	return changes, nil
}
