package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/downloader"
)

// EventNotifier publishes an UpdateEvent to a topic exchange for every
// successful download.
type EventNotifier[T any] struct {
	ch       Channel
	exchange string
	typ      string
}

// NewEventNotifier declares the durable topic exchange.
func NewEventNotifier[T any](ch Channel, exchange, entityType string) (*EventNotifier[T], error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &EventNotifier[T]{ch: ch, exchange: exchange, typ: entityType}, nil
}

func (n *EventNotifier[T]) Notify(ctx context.Context, entry domain.DownloadEntry[T]) error {
	body, err := json.Marshal(UpdateEvent[T]{
		Type:      n.typ,
		ID:        entry.ID,
		Version:   entry.Version,
		Status:    entry.Status,
		Downloads: entry.Downloads,
		Data:      entry.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal update event: %w", err)
	}

	key := EventRoutingKey(n.typ)
	err = n.ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		MessageId:    uuid.NewString(),
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		Type:         n.typ,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s event for %s: %w", key, entry.ID, err)
	}
	return nil
}

var _ downloader.Notifier[domain.ItemMeta] = (*EventNotifier[domain.ItemMeta])(nil)
