// Package queue carries delivery jobs from the dispatcher to the delivery
// workers. Every driver is at-least-once: a fetched message is redelivered
// unless it is acknowledged. Nack hands a message back for redelivery
// without waiting for a restart.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/hookrelay/internal/model"
)

var ErrClosed = errors.New("queue closed")

type Queue interface {
	// Enqueue schedules job to become visible to Fetch after delay.
	Enqueue(ctx context.Context, job model.DeliveryJob, delay time.Duration) error
	// Fetch blocks until a job is ready, ctx is done or the queue is closed.
	Fetch(ctx context.Context) (Message, error)
	Ack(ctx context.Context, m Message) error
	// Nack returns a fetched message to the queue, visible again after delay.
	Nack(ctx context.Context, m Message, delay time.Duration) error
	Close() error
}

// Message is a fetched job plus the driver state needed to acknowledge it.
type Message struct {
	ID  string
	Job model.DeliveryJob

	raw    string
	source any
}

// item is the wire form shared by the redis and kafka drivers. The id keeps
// identical jobs distinct inside sorted sets and lists.
type item struct {
	ID  string            `json:"id"`
	Job model.DeliveryJob `json:"job"`
}

func encode(id string, job model.DeliveryJob) (string, error) {
	b, err := json.Marshal(item{ID: id, Job: job})
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (Message, error) {
	var it item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return Message{}, fmt.Errorf("decode job: %w", err)
	}
	return Message{ID: it.ID, Job: it.Job, raw: raw}, nil
}
