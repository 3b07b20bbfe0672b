package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// redialInterval は再接続に失敗した後、次に接続を試みるまでの間隔です。
const redialInterval = 5 * time.Second

var (
	// ErrBrokerUnavailable は再接続待ちの間に配信しようとした場合に返します。
	ErrBrokerUnavailable = errors.New("rabbitmq is unavailable")
	// ErrPublisherClosed は Close 後の配信で返します。
	ErrPublisherClosed = errors.New("publisher is closed")
)

// amqpChannel は *amqp.Channel のうち配信に使う部分です。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpSession は1本の接続とその上のチャネルです。
// notify は接続が切れると閉じられます (異常切断時はエラーが1件届く)。
type amqpSession struct {
	conn   io.Closer
	ch     amqpChannel
	notify <-chan *amqp.Error
}

// lost は接続が切れていれば理由とともに true を返します。
func (s *amqpSession) lost() (bool, error) {
	select {
	case err, ok := <-s.notify:
		if ok && err != nil {
			return true, err
		}
		return true, amqp.ErrClosed
	default:
		return false, nil
	}
}

func (s *amqpSession) close() {
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

// AMQPPublisher は topic exchange へ永続メッセージとして JSON を配信します。
// チャネルはゴルーチン安全ではないため mutex で直列化します。
// ブローカーの再起動などで接続が切れた場合は、次の配信時に接続し直します。
type AMQPPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	sess     *amqpSession
	dial     func(url, exchange string) (*amqpSession, error)
	now      func() time.Time
	nextDial time.Time
	shut     bool
}

// DialAMQP は接続して exchange を宣言します。
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	sess, err := dialSession(url, exchange)
	if err != nil {
		return nil, err
	}
	log.Printf("connected to RabbitMQ (exchange=%s)", exchange)
	return &AMQPPublisher{url: url, exchange: exchange, sess: sess, dial: dialSession, now: time.Now}, nil
}

func dialSession(url, exchange string) (*amqpSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	return &amqpSession{conn: conn, ch: ch, notify: notify}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, env Envelope) error {
	if env.Meta.ID == "" {
		return fmt.Errorf("envelope.Meta.ID is required")
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = env.Meta.ID
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         Producer,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channelLocked()
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Meta.Type, err)
	}
	err = ch.PublishWithContext(ctx, p.exchange, env.Meta.Type, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		// 切断直後は NotifyClose より先に配信エラーになることがあるので1回だけ張り直す
		log.Printf("WARN: RabbitMQ channel closed while publishing %s, reconnecting", env.Meta.Type)
		p.dropLocked()
		if ch, err = p.channelLocked(); err == nil {
			err = ch.PublishWithContext(ctx, p.exchange, env.Meta.Type, false, false, msg)
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Meta.Type, err)
	}
	return nil
}

// channelLocked は生きているチャネルを返します。切れていれば再接続します。
func (p *AMQPPublisher) channelLocked() (amqpChannel, error) {
	if p.shut {
		return nil, ErrPublisherClosed
	}
	if p.sess != nil {
		lost, reason := p.sess.lost()
		if !lost {
			return p.sess.ch, nil
		}
		log.Printf("WARN: RabbitMQ connection lost: %v", reason)
		p.dropLocked()
	}
	if p.dial == nil {
		return nil, ErrBrokerUnavailable
	}
	if p.now().Before(p.nextDial) {
		return nil, ErrBrokerUnavailable
	}
	sess, err := p.dial(p.url, p.exchange)
	if err != nil {
		p.nextDial = p.now().Add(redialInterval)
		log.Printf("WARN: RabbitMQ reconnect failed, retrying after %s: %v", redialInterval, err)
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	p.nextDial = time.Time{}
	p.sess = sess
	log.Printf("reconnected to RabbitMQ (exchange=%s)", p.exchange)
	return sess.ch, nil
}

func (p *AMQPPublisher) dropLocked() {
	if p.sess != nil {
		p.sess.close()
		p.sess = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shut = true
	if p.sess == nil {
		return nil
	}
	sess := p.sess
	p.sess = nil
	if sess.ch != nil {
		sess.ch.Close()
	}
	if sess.conn != nil {
		return sess.conn.Close()
	}
	return nil
}
