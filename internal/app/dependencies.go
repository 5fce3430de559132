package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/health"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/postgres"
)

// Dependencies содержит инфраструктуру, которую собирает Run.
type Dependencies struct {
	Orders    domain.OrderRepository
	Outbox    domain.OutboxRepository
	Publisher domain.EventPublisher
	// Checkers регистрируются в health handler под своими именами.
	Checkers map[string]health.Checker

	closers []namedCloser
	logger  *log.Entry
}

type namedCloser struct {
	name  string
	close func() error
}

// NewDependencies открывает хранилище и соединение с брокером согласно cfg.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Checkers: make(map[string]health.Checker),
		logger:   logger,
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	if err := deps.initBroker(cfg); err != nil {
		deps.Close()
		return nil, err
	}

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		outbox := memory.NewOutboxRepository()
		d.Orders = memory.NewOrderRepository(outbox)
		d.Outbox = outbox
		d.logger.Info("using in-memory storage")
		return nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxOpenConns: cfg.PostgresMaxOpenConn})
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		d.addCloser("postgres", store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
			d.logger.Info("postgres schema is up to date")
		}

		d.Orders = postgres.NewOrderRepository(store)
		d.Outbox = postgres.NewOutboxRepository(store)
		d.Checkers["store"] = health.NewPingChecker("store", store.Ping)
		d.logger.Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *Dependencies) initBroker(cfg Config) error {
	switch cfg.Broker {
	case BrokerRabbitMQ:
		publisher, err := rabbitmq.Dial(cfg.RabbitMQURL, d.logger.WithField("layer", "rabbitmq"))
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		d.Publisher = publisher
		d.addCloser("rabbitmq", publisher.Close)
		// Брокер некритичен: заказы принимаются и при его недоступности.
		d.Checkers["broker"] = health.NewOptionalChecker("broker", publisher.Ping)
		d.logger.Info("rabbitmq publisher initialized")
		return nil

	case BrokerKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, d.logger.WithField("layer", "kafka"))
		if err != nil {
			return fmt.Errorf("connect to kafka: %w", err)
		}
		d.Publisher = producer
		d.addCloser("kafka", producer.Close)
		d.Checkers["broker"] = health.NewOptionalChecker("broker", producer.Ping)
		d.logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
		return nil

	default:
		return fmt.Errorf("unsupported broker %q", cfg.Broker)
	}
}

func (d *Dependencies) addCloser(name string, fn func() error) {
	d.closers = append(d.closers, namedCloser{name: name, close: fn})
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			d.logger.WithError(err).WithField("resource", c.name).Warn("failed to close resource")
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			continue
		}
		d.logger.WithField("resource", c.name).Info("resource closed")
	}
	d.closers = nil
	return errors.Join(errs...)
}
