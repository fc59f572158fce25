package mailer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// MockTransport simulates a provider for local runs and tests. FailureRate
// is the probability in [0,1] that a send returns an error.
type MockTransport struct {
	FailureRate float64

	mu   sync.Mutex
	sent []Message
}

func NewMockTransport(failureRate float64) *MockTransport {
	return &MockTransport{FailureRate: failureRate}
}

func (m *MockTransport) Send(ctx context.Context, msg *Message) (string, error) {
	if m.FailureRate > 0 && rand.Float64() < m.FailureRate {
		return "", fmt.Errorf("mock transport: simulated provider failure")
	}
	m.mu.Lock()
	m.sent = append(m.sent, *msg)
	m.mu.Unlock()
	return uuid.NewString(), nil
}

// Sent returns copies of every successfully "delivered" message.
func (m *MockTransport) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
