// Package outbox доставляет события из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond

	// DLQSuffix добавляется к имени exchange для dead-letter публикаций.
	DLQSuffix = ".dlq"
)

// storedEvent публикует сохранённый JSON как есть и сохраняет ключ партиционирования заказа.
type storedEvent struct {
	payload json.RawMessage
	key     string
}

func (e storedEvent) MarshalJSON() ([]byte, error) {
	if len(e.payload) == 0 {
		return []byte("null"), nil
	}
	return e.payload, nil
}

func (e storedEvent) PartitionKey() string { return e.key }

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics задаёт метрики доставки и backlog.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher включает публикацию в `<exchange>.dlq` после исчерпания попыток.
func WithDLQPublisher(publisher domain.EventPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

// WithBatchSize задаёт число сообщений, забираемых за один цикл.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) { w.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации до MarkFailed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) { w.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу exponential backoff; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = delay }
}

// Worker публикует pending-сообщения из outbox в брокер.
// Каждое сообщение заканчивает цикл в состоянии sent или failed;
// при отмене ctx необработанные сообщения остаются pending.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.EventPublisher
	dlq       domain.EventPublisher
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics
	now       func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker. Некорректные значения опций заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.EventPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		now:            func() time.Time { return time.Now().UTC() },
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	w.retryBaseDelay = max(w.retryBaseDelay, 0)
	return w
}

// Run опрашивает outbox каждые pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain выполняет один цикл: забирает батч pending-сообщений и доставляет их.
// Возвращает число отправленных и помеченных failed сообщений.
func (w *Worker) Drain(ctx context.Context) (sent, failed int) {
	if ctx.Err() != nil {
		return 0, 0
	}
	defer w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0, 0
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}

		ok, err := w.deliver(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				// Сообщение остаётся pending и будет отправлено после рестарта.
				break
			}
			w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("failed to update outbox status")
		}
		if ok {
			sent++
		} else if err == nil {
			failed++
		}
	}
	return sent, failed
}

// deliver публикует одно сообщение и фиксирует итог в репозитории.
// ok=false и err=nil означают, что сообщение помечено failed.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) (ok bool, err error) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":   msg.ID,
		"exchange":    msg.Exchange,
		"routing_key": msg.RoutingKey,
	})

	publishErr := w.publishWithRetry(ctx, msg)
	if publishErr == nil {
		return true, w.repo.MarkSent(ctx, msg.ID)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	entry.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.RecordAttempt(metrics.OutboxResultFailed)

	if w.dlq != nil {
		if dlqErr := w.deadLetter(ctx, msg, publishErr); dlqErr != nil {
			entry.WithError(dlqErr).Warn("failed to publish to DLQ")
			w.metrics.RecordAttempt(metrics.OutboxResultDLQFailed)
		} else {
			w.metrics.RecordAttempt(metrics.OutboxResultDeadLetter)
		}
	}
	return false, w.repo.MarkFailed(ctx, msg.ID)
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	payload := storedEvent{payload: msg.Payload, key: msg.AggregateID}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if delay := w.retryBackoff(attempt - 1); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}

		lastErr = w.publisher.Publish(ctx, msg.Exchange, msg.RoutingKey, payload)
		if lastErr == nil {
			w.metrics.RecordAttempt(metrics.OutboxResultSent)
			return nil
		}
		w.metrics.RecordAttempt(metrics.OutboxResultRetry)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// retryBackoff возвращает паузу после attempt-й неудачной попытки: base * 2^(attempt-1).
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}

	const ceiling = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}

// DeadLetter - конверт сообщения в DLQ. Exchange хранит исходный exchange,
// чтобы сообщение можно было переотправить туда же.
type DeadLetter struct {
	OutboxID       string          `json:"outboxId"`
	AggregateType  string          `json:"aggregateType"`
	AggregateID    string          `json:"aggregateId"`
	Exchange       string          `json:"exchange"`
	RoutingKey     string          `json:"routingKey"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publishError"`
	DLQPublishedAt time.Time       `json:"dlqPublishedAt"`
}

func (d DeadLetter) PartitionKey() string { return d.AggregateID }

// DecodeDeadLetter разбирает сообщение из DLQ и проверяет, что его можно переотправить.
func DecodeDeadLetter(data []byte) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(data, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return DeadLetter{}, errors.New("dead letter has no payload")
	}
	if strings.TrimSpace(letter.RoutingKey) == "" {
		return DeadLetter{}, errors.New("dead letter has no routing key")
	}
	return letter, nil
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, publishErr error) error {
	letter := DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		Exchange:       msg.Exchange,
		RoutingKey:     msg.RoutingKey,
		Payload:        json.RawMessage(msg.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: w.now(),
	}
	if err := w.dlq.Publish(ctx, msg.Exchange+DLQSuffix, msg.RoutingKey, letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
