package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markwave/chatvault/internal/config"
	"github.com/markwave/chatvault/internal/enrich"
	"github.com/markwave/chatvault/internal/logger"
	"github.com/markwave/chatvault/internal/message"
	"github.com/markwave/chatvault/internal/names"
)

type stubEnricher struct {
	err error
}

func (e stubEnricher) Enrich(_ context.Context, ev enrich.Event) (message.Message, error) {
	if e.err != nil {
		return message.Message{}, e.err
	}
	chatID, _ := ev.Data["chat_id"].(string)
	if chatID == "" {
		return message.Message{}, enrich.ErrInvalidEvent
	}
	return message.Message{ID: enrich.MessageID(ev.Data), Event: ev.Name, ChatID: chatID, ChatName: "Name of " + chatID}, nil
}

type recordingWriter struct {
	mu        sync.Mutex
	written   []message.Message
	acks      []message.AckUpdate
	failWrite int
	ackErr    error
}

func (w *recordingWriter) Write(_ context.Context, msg message.Message) (message.Message, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWrite > 0 {
		w.failWrite--
		return message.Message{}, false, message.ErrStoreUnavailable
	}
	w.written = append(w.written, msg)
	return msg, true, nil
}

func (w *recordingWriter) UpdateAck(_ context.Context, u message.AckUpdate) (message.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ackErr != nil {
		return message.Message{}, w.ackErr
	}
	w.acks = append(w.acks, u)
	return message.Message{ID: u.MessageID}, nil
}

func (w *recordingWriter) writtenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func TestProcessCreated(t *testing.T) {
	w := &recordingWriter{}
	h := NewHandler(logger.Discard(), stubEnricher{}, w)

	err := h.Process(context.Background(), Envelope{
		Event: EventMessageCreated,
		Data:  map[string]any{"message_id": "m1", "chat_id": "a@g.us"},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, "Name of a@g.us", w.written[0].ChatName)
}

func TestProcessErrors(t *testing.T) {
	tests := []struct {
		name     string
		enricher stubEnricher
		writer   *recordingWriter
		data     map[string]any
		wantErr  error
	}{
		{
			name:     "upstream unavailable is retried",
			enricher: stubEnricher{err: names.ErrUpstreamUnavailable},
			writer:   &recordingWriter{},
			data:     map[string]any{"chat_id": "a@g.us"},
			wantErr:  names.ErrUpstreamUnavailable,
		},
		{
			name:    "store unavailable is retried",
			writer:  &recordingWriter{failWrite: 1},
			data:    map[string]any{"chat_id": "a@g.us"},
			wantErr: message.ErrStoreUnavailable,
		},
		{
			name:   "invalid event is dropped",
			writer: &recordingWriter{},
			data:   map[string]any{"body": "no chat"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(logger.Discard(), tt.enricher, tt.writer)
			err := h.Process(context.Background(), Envelope{Event: EventMessageCreated, Data: tt.data})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProcessAck(t *testing.T) {
	w := &recordingWriter{}
	h := NewHandler(logger.Discard(), stubEnricher{}, w)

	env, err := DecodeEnvelope([]byte(`{"event":"message.ack.updated","data":{"message_id":"m1","ack":3}}`))
	require.NoError(t, err)
	require.NoError(t, h.Process(context.Background(), env))
	require.Len(t, w.acks, 1)
	require.NotNil(t, w.acks[0].Ack)
	assert.Equal(t, 3, *w.acks[0].Ack)
	assert.Empty(t, w.written, "ack events never create messages")

	// without an id there is nothing to update
	require.NoError(t, h.Process(context.Background(), Envelope{Event: EventAckUpdated, Data: map[string]any{"ack": 1}}))
	assert.Len(t, w.acks, 1)

	w.ackErr = message.ErrNotFound
	err = h.Process(context.Background(), Envelope{Event: EventAckUpdated, Data: map[string]any{"message_id": "late"}})
	assert.ErrorIs(t, err, message.ErrNotFound)
}

func TestProcessIgnoresOtherEvents(t *testing.T) {
	w := &recordingWriter{}
	h := NewHandler(logger.Discard(), stubEnricher{}, w)
	require.NoError(t, h.Process(context.Background(), Envelope{Event: "chat.updated", Data: map[string]any{}}))
	assert.Empty(t, w.written)
}

func TestDecodeEnvelope(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{not json`))
	assert.Error(t, err)
	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)

	env, err := DecodeEnvelope([]byte(`{"event":"message.created","data":{"ts":1712345678901}}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1712345678901"), env.Data["ts"])
}

func TestIntField(t *testing.T) {
	tests := []struct {
		in   any
		want *int
	}{
		{json.Number("2"), intPtr(2)},
		{float64(3), intPtr(3)},
		{"4", intPtr(4)},
		{1.5, nil},
		{"x", nil},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, intField(map[string]any{"ack": tt.in}, "ack"), "%v", tt.in)
	}
}

func intPtr(n int) *int { return &n }

func TestPublisherRejectsUnsupportedEvents(t *testing.T) {
	ps, err := NewPubSub(logger.Discard(), config.IngestConfig{Broker: BrokerMemory})
	require.NoError(t, err)
	defer ps.Close()
	p := NewPublisher(ps.Publisher, "events")

	assert.Error(t, p.Publish(context.Background(), enrich.Event{Name: "chat.updated", Data: map[string]any{}}, ""))
	assert.Error(t, p.Publish(context.Background(), enrich.Event{Name: EventMessageCreated}, ""))
}

func TestNewPubSubValidation(t *testing.T) {
	_, err := NewPubSub(logger.Discard(), config.IngestConfig{Broker: "kafka"})
	assert.Error(t, err)
	_, err = NewPubSub(logger.Discard(), config.IngestConfig{Broker: BrokerAMQP})
	assert.Error(t, err)
}

func runRouter(t *testing.T, w *recordingWriter, enricher enrich.Enricher, opts RouterOptions) (*Publisher, PubSub) {
	t.Helper()
	ps, err := NewPubSub(logger.Discard(), config.IngestConfig{Broker: BrokerMemory})
	require.NoError(t, err)

	router, err := NewRouter(logger.Discard(), ps, NewHandler(logger.Discard(), enricher, w), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = router.Run(ctx)
	}()
	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	t.Cleanup(func() {
		cancel()
		_ = router.Close()
		<-done
		_ = ps.Close()
	})
	return NewPublisher(ps.Publisher, opts.Topic), ps
}

func TestRouterDeliversToStore(t *testing.T) {
	w := &recordingWriter{failWrite: 1}
	pub, _ := runRouter(t, w, stubEnricher{}, RouterOptions{
		Topic: "events",
		Retry: RetryPolicy{MaxRetries: 2, InitialInterval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond},
	})

	err := pub.Publish(context.Background(), enrich.Event{
		Name: EventMessageCreated,
		Data: map[string]any{"message_id": "m1", "chat_id": "a@g.us"},
	}, "trace-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return w.writtenCount() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestRouterPoisonsAfterRetries(t *testing.T) {
	w := &recordingWriter{}
	pub, ps := runRouter(t, w, stubEnricher{err: names.ErrUpstreamUnavailable}, RouterOptions{
		Topic: "events",
		Retry: RetryPolicy{MaxRetries: 1, InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond},
	})
	poisoned, err := ps.Subscriber.Subscribe(context.Background(), PoisonTopic("events"))
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), enrich.Event{
		Name: EventMessageCreated,
		Data: map[string]any{"message_id": "m1", "chat_id": "a@g.us"},
	}, ""))

	select {
	case msg := <-poisoned:
		msg.Ack()
		env, err := DecodeEnvelope(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, "m1", env.Data["message_id"])
	case <-time.After(5 * time.Second):
		t.Fatal("expected event on poison topic")
	}
	assert.Zero(t, w.writtenCount())
}
