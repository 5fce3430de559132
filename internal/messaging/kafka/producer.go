package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// HeaderRoutingKey - заголовок Kafka-сообщения с routing key события.
const HeaderRoutingKey = "routing-key"

// partitionKeyer реализуют события, которые знают свой ключ партиционирования.
type partitionKeyer interface {
	PartitionKey() string
}

// metadataClient - часть sarama.Client, через которую проверяется связь с кластером.
type metadataClient interface {
	RefreshMetadata(topics ...string) error
	Brokers() []*sarama.Broker
	Closed() bool
	Close() error
}

// Producer публикует доменные события в Kafka: exchange соответствует topic.
type Producer struct {
	mu       sync.RWMutex
	producer sarama.SyncProducer
	client   metadataClient
	logger   *log.Entry
	closed   bool
}

// NewProducer создает новый Kafka producer
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1 // обязательное условие идемпотентного producer

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("%w: create kafka client: %w", domain.ErrPublish, err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: create kafka producer: %w", domain.ErrPublish, err)
	}

	p := newProducer(producer, logger)
	p.client = client
	return p, nil
}

func newProducer(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger}
}

// Ping обновляет метаданные кластера. sarama не принимает context,
// поэтому запрос выполняется в отдельной горутине и прерывается по ctx.
func (p *Producer) Ping(ctx context.Context) error {
	p.mu.RLock()
	client, closed := p.client, p.closed
	p.mu.RUnlock()

	if closed || client == nil || client.Closed() {
		return errors.New("kafka client is closed")
	}

	done := make(chan error, 1)
	go func() { done <- client.RefreshMetadata() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("refresh kafka metadata: %w", err)
		}
	}
	if len(client.Brokers()) == 0 {
		return sarama.ErrOutOfBrokers
	}
	return nil
}

// Publish сериализует payload в JSON и отправляет его в topic exchange.
// Ключ сообщения - PartitionKey() события, если он есть, иначе routing key.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	eventData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %w", domain.ErrPublish, err)
	}

	key := routingKey
	if keyer, ok := payload.(partitionKeyer); ok && keyer.PartitionKey() != "" {
		key = keyer.PartitionKey()
	}

	msg := &sarama.ProducerMessage{
		Topic: exchange,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(eventData),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderRoutingKey), Value: []byte(routingKey)},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
		Timestamp: time.Now(),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("%w: kafka producer is closed", domain.ErrPublish)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic":       exchange,
			"routing_key": routingKey,
			"key":         key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("%w: send message: %w", domain.ErrPublish, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":       exchange,
		"routing_key": routingKey,
		"key":         key,
		"partition":   partition,
		"offset":      offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer. Повторный вызов ничего не делает.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	// Producer, созданный из клиента, не закрывает его сам.
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("failed to close kafka client: %w", err)
		}
	}
	return nil
}

var _ domain.EventPublisher = (*Producer)(nil)
