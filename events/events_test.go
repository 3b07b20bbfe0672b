package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error { return nil }

type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type failing struct{}

func (failing) Publish(context.Context, Envelope) error { return errors.New("down") }

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(TypeOrderPaid, map[string]string{"number": "PD000001"}, "")
	assert.NotEmpty(t, env.Meta.ID)
	assert.Equal(t, env.Meta.ID, env.Meta.CorrelationID)
	assert.Equal(t, Producer, env.Meta.Producer)

	env2 := NewEnvelope(TypeOrderPaid, nil, "corr-1")
	assert.Equal(t, "corr-1", env2.Meta.CorrelationID)
	assert.NotEqual(t, env.Meta.ID, env2.Meta.ID)
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{sess: &amqpSession{ch: ch}, exchange: "atende.events"}

	env := NewEnvelope(TypeTicketAssigned, map[string]string{"protocol": "AT000001"}, "")
	require.NoError(t, p.Publish(context.Background(), env))

	assert.Equal(t, "atende.events", ch.exchange)
	assert.Equal(t, TypeTicketAssigned, ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, env.Meta.ID, ch.msg.MessageId)

	var decoded struct {
		Meta Meta              `json:"meta"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, "AT000001", decoded.Data["protocol"])

	assert.Error(t, p.Publish(context.Background(), Envelope{}))

	ch.err = errors.New("channel closed")
	assert.ErrorContains(t, p.Publish(context.Background(), env), "channel closed")
}

func TestAMQPPublisherReconnectsAfterConnectionLoss(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	notify := make(chan *amqp.Error, 1)
	oldConn := &fakeConn{}
	p := &AMQPPublisher{
		url:      "amqp://broker",
		exchange: "atende.events",
		sess:     &amqpSession{conn: oldConn, ch: &fakeChannel{}, notify: notify},
		now:      func() time.Time { return now },
	}

	var dials int
	var dialErr error
	fresh := &fakeChannel{}
	p.dial = func(url, exchange string) (*amqpSession, error) {
		dials++
		assert.Equal(t, "amqp://broker", url)
		assert.Equal(t, "atende.events", exchange)
		if dialErr != nil {
			return nil, dialErr
		}
		return &amqpSession{conn: &fakeConn{}, ch: fresh, notify: make(chan *amqp.Error, 1)}, nil
	}

	// ブローカー再起動で接続が落ちる
	notify <- amqp.ErrClosed
	close(notify)
	dialErr = errors.New("connection refused")
	env := NewEnvelope(TypeTicketCreated, nil, "")
	assert.ErrorIs(t, p.Publish(context.Background(), env), ErrBrokerUnavailable)
	assert.True(t, oldConn.closed)
	assert.Equal(t, 1, dials)

	// 待機時間内は接続を試みない
	assert.ErrorIs(t, p.Publish(context.Background(), env), ErrBrokerUnavailable)
	assert.Equal(t, 1, dials)

	now = now.Add(redialInterval)
	dialErr = nil
	require.NoError(t, p.Publish(context.Background(), env))
	assert.Equal(t, 2, dials)
	assert.Equal(t, env.Meta.ID, fresh.msg.MessageId)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), env), ErrPublisherClosed)
}

func TestAMQPPublisherRetriesOnceWhenChannelClosed(t *testing.T) {
	stale := &fakeChannel{err: amqp.ErrClosed}
	fresh := &fakeChannel{}
	p := &AMQPPublisher{
		exchange: "atende.events",
		sess:     &amqpSession{ch: stale},
		now:      time.Now,
		dial: func(string, string) (*amqpSession, error) {
			return &amqpSession{ch: fresh}, nil
		},
	}
	env := NewEnvelope(TypeOrderPaid, nil, "")
	require.NoError(t, p.Publish(context.Background(), env))
	assert.Equal(t, TypeOrderPaid, fresh.key)
}

func TestMultiContinuesAfterFailure(t *testing.T) {
	ring := NewRing(10)
	m := Multi{failing{}, nil, ring}
	err := m.Publish(context.Background(), NewEnvelope(TypeTicketCreated, nil, ""))
	assert.Error(t, err)
	assert.Equal(t, []string{TypeTicketCreated}, ring.Types())
}

func TestRingKeepsNewest(t *testing.T) {
	ring := NewRing(2)
	for _, typ := range []string{TypeTicketCreated, TypeTicketAssigned, TypeOrderPaid} {
		Emit(context.Background(), ring, typ, nil, "")
	}
	assert.Equal(t, []string{TypeTicketAssigned, TypeOrderPaid}, ring.Types())

	recent := ring.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, TypeOrderPaid, recent[0].Meta.Type)
	assert.Len(t, ring.Recent(1), 1)

	Emit(context.Background(), nil, TypeOrderPaid, nil, "")
	Emit(context.Background(), failing{}, TypeOrderPaid, nil, "")
}
