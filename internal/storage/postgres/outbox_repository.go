package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// Запись сообщений выполняет OrderRepository в транзакции заказа.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func insertOutboxTx(ctx context.Context, tx *sql.Tx, events []domain.OutboxMessage) error {
	now := time.Now().UTC()
	for _, msg := range events {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_messages (
				id, exchange, routing_key, aggregate_type, aggregate_id, payload,
				status, attempt_count, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,'pending',0,$7,$8)
		`,
			msg.ID, msg.Exchange, msg.RoutingKey, msg.AggregateType, msg.AggregateID,
			string(msg.Payload), msg.CreatedAt, now,
		); err != nil {
			return persistenceError("enqueue outbox message", err)
		}
	}
	return nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, exchange, routing_key, aggregate_type, aggregate_id, payload, created_at
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, persistenceError("pull pending outbox messages", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg     domain.OutboxMessage
			payload string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.Exchange,
			&msg.RoutingKey,
			&msg.AggregateType,
			&msg.AggregateID,
			&payload,
			&msg.CreatedAt,
		); err != nil {
			return nil, persistenceError("scan outbox message", err)
		}
		msg.Payload = []byte(payload)
		msg.CreatedAt = msg.CreatedAt.UTC()
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate outbox rows", err)
	}

	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, persistenceError("outbox stats query", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, domain.OutboxStatusSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, domain.OutboxStatusFailed)
}

func (r *outboxRepository) markStatus(ctx context.Context, id string, status domain.OutboxStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return persistenceError("mark outbox message as "+string(status), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistenceError("rows affected for outbox "+string(status), err)
	}
	if affected == 0 {
		return domain.ErrOutboxMessageNotFound
	}

	return nil
}

// DeleteSentBefore удаляет батч отправленных сообщений, обновлённых раньше before.
func (r *outboxRepository) DeleteSentBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_messages
		WHERE id IN (
			SELECT id
			FROM outbox_messages
			WHERE status = 'sent'
			  AND updated_at < $1
			ORDER BY updated_at
			LIMIT $2
		)
	`, before.UTC(), limit)
	if err != nil {
		return 0, persistenceError("delete sent outbox messages", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceError("rows affected for outbox cleanup", err)
	}

	return int(affected), nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
