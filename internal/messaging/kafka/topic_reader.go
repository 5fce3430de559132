package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultIdleTimeout = 2 * time.Second

// MessageHandler обрабатывает одно прочитанное сообщение. Ошибка прерывает чтение.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// offsetClient - часть sarama.Client, нужная для границ партиций.
type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Close() error
}

// ReadOptions ограничивает разовый проход по topic.
type ReadOptions struct {
	// Limit - максимум сообщений по всем партициям; 0 означает без ограничения.
	Limit int
	// FromNewest читает последние Limit сообщений каждой партиции вместо самых старых.
	FromNewest bool
	// IdleTimeout завершает партицию, если новых сообщений нет дольше этого времени.
	IdleTimeout time.Duration
}

// TopicReader читает topic без consumer group: каждая партиция проходится
// от начальной позиции до offset'а, который был последним на момент старта.
type TopicReader struct {
	client   offsetClient
	consumer sarama.Consumer
	logger   *log.Entry
}

// NewTopicReader подключается к кластеру для разового чтения.
func NewTopicReader(brokers []string, logger *log.Entry) (*TopicReader, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	return newTopicReader(client, consumer, logger), nil
}

func newTopicReader(client offsetClient, consumer sarama.Consumer, logger *log.Entry) *TopicReader {
	if logger == nil {
		logger = log.WithField("component", "kafka-topic-reader")
	}
	return &TopicReader{client: client, consumer: consumer, logger: logger}
}

// Read передаёт сообщения topic в handle и возвращает их количество.
func (r *TopicReader) Read(ctx context.Context, topic string, opts ReadOptions, handle MessageHandler) (int, error) {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}

	partitions, err := r.consumer.Partitions(topic)
	if err != nil {
		return 0, fmt.Errorf("get partitions for topic %s: %w", topic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", topic).Warn("topic has no partitions")
		return 0, nil
	}
	slices.Sort(partitions)

	total := 0
	for _, partition := range partitions {
		limit := 0
		if opts.Limit > 0 {
			limit = opts.Limit - total
			if limit <= 0 {
				break
			}
		}

		n, err := r.readPartition(ctx, topic, partition, limit, opts, handle)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *TopicReader) readPartition(
	ctx context.Context,
	topic string,
	partition int32,
	limit int,
	opts ReadOptions,
	handle MessageHandler,
) (int, error) {
	oldest, err := r.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return 0, nil
	}

	start := oldest
	if opts.FromNewest && limit > 0 {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(topic, partition, start)
	if err != nil {
		return 0, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()

	read := 0
	for limit == 0 || read < limit {
		select {
		case <-ctx.Done():
			return read, ctx.Err()
		case <-idle.C:
			r.logger.WithFields(log.Fields{"topic": topic, "partition": partition}).Debug("partition idle, stop reading")
			return read, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return read, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return read, nil
			}
			idle.Reset(opts.IdleTimeout)

			if err := handle(ctx, msg); err != nil {
				return read, err
			}
			read++

			if msg.Offset+1 >= newest {
				return read, nil
			}
		}
	}
	return read, nil
}

// Close закрывает consumer и клиент.
func (r *TopicReader) Close() error {
	return errors.Join(r.consumer.Close(), r.client.Close())
}
