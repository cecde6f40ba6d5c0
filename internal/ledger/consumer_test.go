package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/outbox"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		m.mu.Lock()
		if len(m.messages) > 0 {
			msg := m.messages[0]
			m.messages = m.messages[1:]
			m.mu.Unlock()
			return msg, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (m *MockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *MockReader) Committed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.committed...)
}

func message(t *testing.T, offset int64, oc outbox.OrderCompleted) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(oc)
	require.NoError(t, err)
	return kafka.Message{
		Offset: offset,
		Key:    []byte(oc.OrderID),
		Value:  payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(outbox.EventOrderCompleted)},
		},
	}
}

func TestConsumer_Handle(t *testing.T) {
	repo := setupSQLite(t)
	c := NewConsumer(repo, &MockReader{}, nil)
	ctx := context.Background()

	msg := message(t, 1, completed("o1", item("p1", "10", 2)))
	require.NoError(t, c.Handle(ctx, msg))
	// duplicates are ignored
	require.NoError(t, c.Handle(ctx, msg))

	// other event types and garbage are skipped
	require.NoError(t, c.Handle(ctx, kafka.Message{Value: []byte(`{}`), Headers: []kafka.Header{{Key: "event_type", Value: []byte("cart.updated")}}}))
	require.NoError(t, c.Handle(ctx, kafka.Message{Value: []byte(`nope`), Headers: []kafka.Header{{Key: "event_type", Value: []byte(outbox.EventOrderCompleted)}}}))

	s, err := repo.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Orders)
	assert.Equal(t, 2, s.Units)
}

func TestConsumer_RunCommitsRecorded(t *testing.T) {
	repo := setupSQLite(t)
	reader := &MockReader{messages: []kafka.Message{
		message(t, 1, completed("o1", item("p1", "10", 2))),
		message(t, 2, completed("o2", item("p2", "5", 1))),
	}}
	c := NewConsumer(repo, reader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(reader.Committed()) == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2}, reader.Committed())
	s, err := repo.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Orders)
}

// flakyRecorder fails the first failures calls for each order in failOrders.
type flakyRecorder struct {
	mu         sync.Mutex
	failOrders map[string]int
	calls      []string
	recorded   []string
}

func (r *flakyRecorder) Record(_ context.Context, oc outbox.OrderCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, oc.OrderID)
	if r.failOrders[oc.OrderID] != 0 {
		if r.failOrders[oc.OrderID] > 0 {
			r.failOrders[oc.OrderID]--
		}
		return errors.New("database is down")
	}
	r.recorded = append(r.recorded, oc.OrderID)
	return nil
}

func (r *flakyRecorder) snapshot() (calls, recorded []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]string(nil), r.recorded...)
}

func fastRetry() ConsumerOption {
	return WithRetryInterval(5*time.Millisecond, 20*time.Millisecond)
}

func TestConsumer_StoreFailureNotCommitted(t *testing.T) {
	reader := &MockReader{messages: []kafka.Message{
		message(t, 7, completed("o1", item("p1", "10", 2))),
		message(t, 8, completed("o2", item("p2", "5", 1))),
	}}
	// o1 never records
	recorder := &flakyRecorder{failOrders: map[string]int{"o1": -1}}
	c := NewConsumer(recorder, reader, nil, fastRetry())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	calls, recorded := recorder.snapshot()
	assert.Empty(t, reader.Committed())
	assert.Empty(t, recorded)
	assert.Greater(t, len(calls), 1)
	assert.NotContains(t, calls, "o2")
}

func TestConsumer_RetriesFailedMessageInOrder(t *testing.T) {
	reader := &MockReader{messages: []kafka.Message{
		message(t, 7, completed("o1", item("p1", "10", 2))),
		message(t, 8, completed("o2", item("p2", "5", 1))),
	}}
	recorder := &flakyRecorder{failOrders: map[string]int{"o1": 3}}
	c := NewConsumer(recorder, reader, nil, fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(reader.Committed()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	_, recorded := recorder.snapshot()
	assert.Equal(t, []string{"o1", "o2"}, recorded)
	assert.Equal(t, []int64{7, 8}, reader.Committed())
}

type brokenReader struct {
	mu      sync.Mutex
	fetches int
}

func (r *brokenReader) FetchMessage(context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	return kafka.Message{}, errors.New("broker unreachable")
}

func (r *brokenReader) CommitMessages(context.Context, ...kafka.Message) error { return nil }

func TestConsumer_FetchErrorsBackOff(t *testing.T) {
	reader := &brokenReader{}
	c := NewConsumer(&flakyRecorder{}, reader, nil, WithRetryInterval(20*time.Millisecond, 50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.GreaterOrEqual(t, reader.fetches, 2)
	assert.Less(t, reader.fetches, 15)
}
