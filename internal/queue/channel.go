package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Channel is the subset of *amqp.Channel used to publish.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Connection owns the broker connection and a shared publishing channel.
type Connection struct {
	conn    *amqp.Connection
	logger  *logrus.Logger
	mu      sync.Mutex
	publish *amqp.Channel
}

func Dial(url string, logger *logrus.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	logger.Info("rabbitmq connection established")
	return &Connection{conn: conn, logger: logger, publish: ch}, nil
}

// Publisher returns the shared publishing channel, serialised by a mutex.
func (c *Connection) Publisher() Channel {
	return &lockedChannel{mu: &c.mu, ch: c.publish}
}

// Channel opens a dedicated channel, used by consumers.
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

func (c *Connection) Close() error {
	if c.publish != nil {
		c.publish.Close()
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	c.logger.Info("rabbitmq connection closed")
	return nil
}

type lockedChannel struct {
	mu *sync.Mutex
	ch Channel
}

func (l *lockedChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (l *lockedChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

func (l *lockedChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}
