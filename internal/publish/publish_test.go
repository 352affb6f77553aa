package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t fakeToken) Wait() bool                     { return !t.pending }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	retain  bool
	payload []byte
}

// fakeClient overrides only what the publisher calls.
type fakeClient struct {
	mqtt.Client
	connected bool
	err       error
	pending   bool

	mu   sync.Mutex
	msgs []published
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, retain: retained, payload: payload.([]byte)})
	return fakeToken{err: c.err, pending: c.pending}
}

func sample() airquality.Snapshot {
	return airquality.Snapshot{
		ID:        "snap-1",
		Location:  airquality.Location{City: "Los Angeles", Country: "us", Lat: 34.05, Lon: -118.24},
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Result:    fusion.Result{PM25: 41.6, Confidence: 0.82, Uncertainty: 6},
		Category:  airquality.CategoryUnhealthy,
	}
}

func TestMQTTPublisherPublishesRetainedJSON(t *testing.T) {
	client := &fakeClient{connected: true}
	p := NewMQTTPublisher(client, "aq/")

	require.NoError(t, p.Publish(context.Background(), sample()))
	require.Len(t, client.msgs, 1)

	msg := client.msgs[0]
	assert.Equal(t, "aq/los_angeles:US", msg.topic)
	assert.True(t, msg.retain)

	var got airquality.Snapshot
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "snap-1", got.ID)
	assert.Equal(t, 41.6, got.Result.PM25)
}

func TestMQTTPublisherNotConnected(t *testing.T) {
	p := NewMQTTPublisher(&fakeClient{}, "")
	assert.ErrorIs(t, p.Publish(context.Background(), sample()), ErrNotConnected)

	p = NewMQTTPublisher(nil, "")
	assert.ErrorIs(t, p.Publish(context.Background(), sample()), ErrNotConnected)
}

func TestMQTTPublisherTokenError(t *testing.T) {
	boom := errors.New("broker rejected")
	p := NewMQTTPublisher(&fakeClient{connected: true, err: boom}, "")
	assert.ErrorIs(t, p.Publish(context.Background(), sample()), boom)
}

func TestMQTTPublisherUnacknowledged(t *testing.T) {
	p := NewMQTTPublisher(&fakeClient{connected: true, pending: true}, "aq")
	err := p.Publish(context.Background(), sample())
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.ErrorContains(t, err, "aq/los_angeles:US")
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByLocation(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	require.NoError(t, p.Publish(context.Background(), sample()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "los angeles:US", string(w.msgs[0].Key))
	assert.Equal(t, "unhealthy", string(w.msgs[0].Headers[0].Value))

	var got airquality.Snapshot
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "snap-1", got.ID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewKafkaPublisher(&fakeWriter{err: boom})
	err := p.Publish(context.Background(), sample())
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "snap-1")
}
