package queue

import (
	"fmt"
	"sync"
)

// SendTask is the one message shape the dispatch engine publishes: a single
// recipient to attempt.
type SendTask struct {
	RecipientID int `json:"recipient_id"`
}

// Queue interface
type Queue interface {
	Publish(topic string, task SendTask) error
}

// InMemoryQueue fans published tasks out to registered handlers. Used by
// tests and single-process runs; production publishes to RabbitMQ.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(task SendTask) error
	// Published keeps every task in publish order so tests can assert on
	// exactly what a tick emitted.
	published map[string][]SendTask
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:  make(map[string][]func(task SendTask) error),
		published: make(map[string][]SendTask),
	}
}

func (q *InMemoryQueue) Publish(topic string, task SendTask) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.published[topic] = append(q.published[topic], task)
	q.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(task); err != nil {
			return fmt.Errorf("handler for topic %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe adds a handler for a topic. Handlers run synchronously inside
// Publish, which keeps test assertions deterministic.
func (q *InMemoryQueue) Subscribe(topic string, handler func(task SendTask) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
}

// Published returns a copy of everything published to a topic.
func (q *InMemoryQueue) Published(topic string) []SendTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]SendTask, len(q.published[topic]))
	copy(out, q.published[topic])
	return out
}

var _ Queue = (*InMemoryQueue)(nil)
