package outbox

import (
	"context"
	"errors"
	"sync"
)

// MockMessage is one captured publish call.
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// MockSink collects published messages in memory for tests. FailN makes the
// next N publishes fail to exercise retry paths.
type MockSink struct {
	mu       sync.Mutex
	messages []MockMessage
	FailN    int
	Err      error
}

func NewMockSink() *MockSink { return &MockSink{} }

func (m *MockSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailN > 0 {
		m.FailN--
		if m.Err != nil {
			return m.Err
		}
		return errors.New("mock publish failure")
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.messages = append(m.messages, MockMessage{Topic: topic, Key: key, Value: v})
	return nil
}

func (m *MockSink) Close() error { return nil }

// Messages returns a copy of everything published so far.
func (m *MockSink) Messages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.messages))
	copy(out, m.messages)
	return out
}
