package domain

import (
	"context"
	"time"
)

// EventPublisher публикует доменные события в durable topic exchange.
// Реализации должны быть безопасны для конкурентного использования.
type EventPublisher interface {
	// Publish сериализует payload и передаёт его брокеру с persistent delivery.
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
	// Close освобождает соединение с брокером.
	Close() error
}

// OutboxRepository хранит события для отложенной публикации (transactional outbox).
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// DeleteSentBefore удаляет до limit отправленных сообщений старше before.
	DeleteSentBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxStatus описывает состояние сообщения в outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	Exchange      string
	RoutingKey    string
	AggregateType string
	AggregateID   string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
