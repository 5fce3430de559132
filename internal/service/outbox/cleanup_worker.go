package outbox

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 7 * 24 * time.Hour
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithCleanupLogger задаёт logger для воркера.
func WithCleanupLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) { w.logger = logger }
}

// WithCleanupMetrics задаёт счётчик удалённых записей.
func WithCleanupMetrics(m *metrics.OutboxMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithCleanupInterval задаёт интервал между циклами очистки.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.interval = interval }
}

// WithCleanupBatchSize задаёт размер одного DELETE.
func WithCleanupBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) { w.batchSize = batchSize }
}

// WithRetention задаёт срок хранения отправленных сообщений.
func WithRetention(retention time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.retention = retention }
}

// CleanupWorker периодически удаляет отправленные outbox-сообщения старше retention.
// pending и failed сообщения не трогает.
type CleanupWorker struct {
	repo      domain.OutboxRepository
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewCleanupWorker создаёт воркер очистки outbox.
func NewCleanupWorker(repo domain.OutboxRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		retention: defaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-cleanup-worker")
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	if w.retention <= 0 {
		w.retention = defaultRetention
	}
	return w
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("outbox cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.DeleteSentBefore(ctx, w.now().Add(-w.retention))
	w.metrics.RecordCleaned(deleted)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.WithError(err).Warn("outbox cleanup run failed")
		}
		return
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("outbox cleanup completed")
	}
}

// DeleteSentBefore удаляет все отправленные сообщения старше before порциями batchSize.
// Нулевой before означает now - retention.
func (w *CleanupWorker) DeleteSentBefore(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().Add(-w.retention)
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteSentBefore(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted

		if deleted < w.batchSize {
			return total, nil
		}
	}
}
