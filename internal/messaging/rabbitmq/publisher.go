// Package rabbitmq публикует доменные события в durable topic exchange RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

const (
	exchangeKind = "topic"
	contentType  = "application/json"
)

var errPublisherClosed = errors.New("rabbitmq publisher is closed")

// amqpChannel - подмножество *amqp.Channel, которое использует Publisher.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// amqpConnection - подмножество *amqp.Connection.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type dialFunc func() (amqpConnection, error)

// Publisher держит одно долгоживущее соединение и канал на весь срок жизни процесса.
// Объявление exchange и публикация выполняются в одной критической секции,
// поэтому Publisher безопасен для конкурентного использования.
type Publisher struct {
	mu       sync.Mutex
	dial     dialFunc
	conn     amqpConnection
	ch       amqpChannel
	declared map[string]struct{}
	logger   *log.Entry
	closed   bool
}

// Dial устанавливает соединение с брокером и открывает канал.
func Dial(url string, logger *log.Entry) (*Publisher, error) {
	dial := func() (amqpConnection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, err
		}
		return connection{conn}, nil
	}
	return newPublisher(dial, logger)
}

func newPublisher(dial dialFunc, logger *log.Entry) (*Publisher, error) {
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}

	p := &Publisher{
		dial:     dial,
		declared: make(map[string]struct{}),
		logger:   logger,
	}
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish объявляет exchange (один раз на канал) и публикует payload как persistent JSON.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %w", domain.ErrPublish, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: %w", domain.ErrPublish, errPublisherClosed)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	if _, ok := p.declared[exchange]; !ok {
		if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
			p.logger.WithError(err).WithField("exchange", exchange).Error("failed to declare exchange")
			return fmt.Errorf("%w: declare exchange %q: %w", domain.ErrPublish, exchange, err)
		}
		p.declared[exchange] = struct{}{}
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"exchange":    exchange,
			"routing_key": routingKey,
		}).Error("failed to publish message to rabbitmq")
		return fmt.Errorf("%w: publish to %q: %w", domain.ErrPublish, exchange, err)
	}

	p.logger.WithFields(log.Fields{
		"exchange":    exchange,
		"routing_key": routingKey,
		"message_id":  msg.MessageId,
	}).Debug("message published to rabbitmq")

	return nil
}

// channel возвращает открытый канал, переоткрывая закрытый канал или соединение один раз.
// Вызывается под p.mu.
func (p *Publisher) channel() (amqpChannel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial()
		if err != nil {
			return nil, fmt.Errorf("%w: dial rabbitmq: %w", domain.ErrPublish, err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %w", domain.ErrPublish, err)
	}
	if p.ch != nil {
		p.logger.Warn("rabbitmq channel was closed, reopened")
	}
	p.ch = ch
	// Объявления привязаны к каналу: после переоткрытия повторяем их.
	p.declared = make(map[string]struct{})
	return ch, nil
}

// Ping проверяет, что соединение с брокером открыто. Используется readiness-проверкой.
func (p *Publisher) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errPublisherClosed
	}
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.ch != nil && !p.ch.IsClosed() {
		if err := p.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// connection адаптирует *amqp.Connection к amqpConnection.
type connection struct {
	*amqp.Connection
}

func (c connection) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
