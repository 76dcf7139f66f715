package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/downloader"
)

// ChannelOpener opens dedicated consumer channels.
type ChannelOpener interface {
	Channel() (*amqp.Channel, error)
}

// Consumer executes the task batches of one queue.
type Consumer struct {
	Queue     string
	Executor  downloader.BatchExecutor
	BatchSize int
	Prefetch  int
	Logger    *logrus.Logger
}

// Run consumes until ctx is done or the delivery channel is closed.
func (c *Consumer) Run(ctx context.Context, opener ChannelOpener) error {
	ch, err := opener.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if c.Prefetch > 0 {
		if err := ch.Qos(c.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos on %s: %w", c.Queue, err)
		}
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.Queue, err)
	}
	deliveries, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.Queue, err)
	}

	log := c.Logger.WithField("queue", c.Queue)
	log.Info("rabbitmq consumer started")
	for {
		select {
		case <-ctx.Done():
			log.Info("rabbitmq consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel of %s closed", c.Queue)
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	log := c.Logger.WithFields(logrus.Fields{
		"queue":       c.Queue,
		"message_id":  d.MessageId,
		"redelivered": d.Redelivered,
	})

	msg, err := decodeTasks(d.Body)
	if err != nil {
		log.Errorf("drop undecodable message: %v", err)
		if err := d.Nack(false, false); err != nil {
			log.Errorf("nack: %v", err)
		}
		return
	}

	var failed error
	for _, batch := range downloader.Chunk(msg.Tasks, c.BatchSize) {
		if err := c.Executor.Execute(ctx, batch); err != nil {
			failed = err
		}
	}

	if failed != nil {
		requeue := !d.Redelivered
		log.WithField("requeue", requeue).Errorf("execute batch: %v", failed)
		if err := d.Nack(false, requeue); err != nil {
			log.Errorf("nack: %v", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Errorf("ack: %v", err)
		return
	}
	log.WithField("size", len(msg.Tasks)).Debug("message processed")
}
