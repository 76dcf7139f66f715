// Package queue carries download tasks and update events over RabbitMQ.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"meta-pipeline/internal/domain"
)

// TaskMessage is the body of one routed batch.
type TaskMessage struct {
	Type     string                `json:"type"`
	Pipeline domain.Pipeline       `json:"pipeline"`
	SentAt   time.Time             `json:"sentAt"`
	Tasks    []domain.DownloadTask `json:"tasks"`
}

// QueueName is the durable queue of one entity type and pipeline.
func QueueName(prefix, entityType string, pipeline domain.Pipeline) string {
	if prefix == "" {
		return fmt.Sprintf("%s.%s", entityType, pipeline)
	}
	return fmt.Sprintf("%s.%s.%s", prefix, entityType, pipeline)
}

// EventRoutingKey is the topic routing key of update events.
func EventRoutingKey(entityType string) string {
	return entityType + ".meta.updated"
}

func encodeTasks(msg TaskMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal task message: %w", err)
	}
	return body, nil
}

func decodeTasks(body []byte) (TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("unmarshal task message: %w", err)
	}
	for i, task := range msg.Tasks {
		if task.ID == "" {
			return msg, fmt.Errorf("task %d has no id", i)
		}
		if !task.Pipeline.Valid() {
			return msg, fmt.Errorf("task %s: unknown pipeline %q", task.ID, task.Pipeline)
		}
	}
	return msg, nil
}

// UpdateEvent is published after a successful download.
type UpdateEvent[T any] struct {
	Type      string                `json:"type"`
	ID        string                `json:"id"`
	Version   int64                 `json:"version"`
	Status    domain.DownloadStatus `json:"status"`
	Downloads int                   `json:"downloads"`
	Data      *T                    `json:"data,omitempty"`
}
