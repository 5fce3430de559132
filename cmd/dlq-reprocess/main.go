package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/orders"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/outbox"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
	defaultTimeout     = 5 * time.Minute

	envKafkaBrokers = "OMS_KAFKA_BROKERS"
	envExchange     = "OMS_EXCHANGE"
)

// dlqReader покрывает операции kafka.TopicReader, нужные утилите.
type dlqReader interface {
	Read(ctx context.Context, topic string, opts kafka.ReadOptions, handle kafka.MessageHandler) (int, error)
	Close() error
}

// openFunc подключается к брокеру. publisher нужен только при execute.
type openFunc func(brokers []string, execute bool) (dlqReader, domain.EventPublisher, error)

func openKafka(brokers []string, execute bool) (dlqReader, domain.EventPublisher, error) {
	logger := log.WithField("component", "dlq-reprocess")

	reader, err := kafka.NewTopicReader(brokers, logger.WithField("layer", "reader"))
	if err != nil {
		return nil, nil, err
	}
	if !execute {
		return reader, nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("layer", "producer"))
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	return reader, producer, nil
}

// replayEvent отдаёт исходный payload без изменений и сохраняет ключ агрегата.
type replayEvent struct {
	payload json.RawMessage
	key     string
}

func (e replayEvent) MarshalJSON() ([]byte, error) { return e.payload, nil }

func (e replayEvent) PartitionKey() string { return e.key }

type replayStats struct {
	scanned    int
	replayable int
	replayed   int
	skipped    int
}

type options struct {
	brokers        []string
	exchange       string
	sourceTopic    string
	targetExchange string
	limit          int
	execute        bool
	fromNewest     bool
	idleTimeout    time.Duration
	timeout        time.Duration
}

func newRootCmd(open openFunc, lookup func(string) (string, bool)) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "dlq-reprocess",
		Short:         "Replay dead-lettered outbox messages back to their exchange",
		Long:          "Reads outbox dead letters from <exchange>.dlq and republishes their payload under the original routing key. Dry-run unless --execute is set.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, _ []string) error {
			if err := opts.resolve(lookup); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context(), opts.timeout)
			defer cancel()

			reader, publisher, err := open(opts.brokers, opts.execute)
			if err != nil {
				return fmt.Errorf("connect to kafka: %w", err)
			}
			defer func() {
				if publisher != nil {
					_ = publisher.Close()
				}
				_ = reader.Close()
			}()

			stats, err := replay(ctx, opts, reader, publisher)
			printStats(c.OutOrStdout(), opts, stats)
			if err != nil {
				return fmt.Errorf("dlq replay failed: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.brokers, "brokers", nil, "Kafka brokers (fallback: "+envKafkaBrokers+")")
	flags.StringVar(&opts.exchange, "exchange", "", "exchange whose DLQ is replayed (fallback: "+envExchange+", default "+orders.DefaultExchange+")")
	flags.StringVar(&opts.sourceTopic, "source-topic", "", "DLQ topic (default <exchange>"+outbox.DLQSuffix+")")
	flags.StringVar(&opts.targetExchange, "target-exchange", "", "override the exchange recorded in each dead letter")
	flags.IntVar(&opts.limit, "limit", defaultLimit, "max number of messages to scan")
	flags.BoolVar(&opts.execute, "execute", false, "republish messages; default is dry-run")
	flags.BoolVar(&opts.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop a partition after this long without messages")
	flags.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall operation timeout")

	return cmd
}

func (o *options) resolve(lookup func(string) (string, bool)) error {
	if len(o.brokers) == 0 {
		if v, ok := lookup(envKafkaBrokers); ok {
			o.brokers = strings.Split(v, ",")
		}
	}
	brokers := o.brokers[:0]
	for _, b := range o.brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	o.brokers = brokers
	if len(o.brokers) == 0 {
		return errors.New("kafka brokers are required (--brokers or " + envKafkaBrokers + ")")
	}

	if strings.TrimSpace(o.exchange) == "" {
		if v, ok := lookup(envExchange); ok && strings.TrimSpace(v) != "" {
			o.exchange = strings.TrimSpace(v)
		} else {
			o.exchange = orders.DefaultExchange
		}
	}
	if strings.TrimSpace(o.sourceTopic) == "" {
		o.sourceTopic = o.exchange + outbox.DLQSuffix
	}

	if o.limit <= 0 {
		return errors.New("limit must be > 0")
	}
	if o.idleTimeout <= 0 {
		return errors.New("idle-timeout must be > 0")
	}
	if o.timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

func replay(ctx context.Context, opts options, reader dlqReader, publisher domain.EventPublisher) (replayStats, error) {
	if opts.execute && publisher == nil {
		return replayStats{}, errors.New("publisher is required in execute mode")
	}

	logger := log.WithFields(log.Fields{
		"source_topic": opts.sourceTopic,
		"execute":      opts.execute,
	})
	logger.WithField("limit", opts.limit).Info("starting dlq replay")

	var stats replayStats
	handle := func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		stats.scanned++
		entry := logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

		letter, err := outbox.DecodeDeadLetter(msg.Value)
		if err != nil {
			stats.skipped++
			entry.WithError(err).Warn("skip unsupported dlq message")
			return nil
		}

		target := firstNonEmpty(opts.targetExchange, letter.Exchange, opts.exchange)
		entry = entry.WithFields(log.Fields{
			"outbox_id":   letter.OutboxID,
			"order_id":    letter.AggregateID,
			"exchange":    target,
			"routing_key": letter.RoutingKey,
		})
		stats.replayable++

		if !opts.execute {
			entry.Info("dlq replay candidate")
			return nil
		}

		event := replayEvent{payload: letter.Payload, key: letter.AggregateID}
		if err := publisher.Publish(ctx, target, letter.RoutingKey, event); err != nil {
			return fmt.Errorf("republish outbox message %s: %w", letter.OutboxID, err)
		}
		stats.replayed++
		entry.Info("dlq message replayed")
		return nil
	}

	_, err := reader.Read(ctx, opts.sourceTopic, kafka.ReadOptions{
		Limit:       opts.limit,
		FromNewest:  opts.fromNewest,
		IdleTimeout: opts.idleTimeout,
	}, handle)

	logger.WithFields(log.Fields{
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
	}).Info("dlq replay finished")
	return stats, err
}

func printStats(w io.Writer, opts options, stats replayStats) {
	mode := "dry-run"
	if opts.execute {
		mode = "execute"
	}
	_, _ = fmt.Fprintf(w, "%s %s: scanned=%d replayable=%d replayed=%d skipped=%d\n",
		mode, opts.sourceTopic, stats.scanned, stats.replayable, stats.replayed, stats.skipped)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)

	if err := newRootCmd(openKafka, os.LookupEnv).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
