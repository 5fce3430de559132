// Package orders реализует прикладной слой заказов: жизненный цикл, публикацию событий и отчёт продаж.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
)

// DeliveryMode определяет, как события попадают в брокер.
type DeliveryMode string

const (
	// DeliveryDirect публикует событие сразу после фиксации транзакции.
	DeliveryDirect DeliveryMode = "direct"
	// DeliveryOutbox записывает событие в outbox той же транзакцией; публикует outbox.Worker.
	DeliveryOutbox DeliveryMode = "outbox"

	// DefaultExchange используется, если exchange не задан.
	DefaultExchange = "orders.exchange"
)

const (
	opCreate  = "create"
	opConfirm = "confirm"
	opCancel  = "cancel"
	opGet     = "get"
	opList    = "list"
	opSales   = "sales_per_day"

	// maxCancelAttempts ограничивает перечитывания заказа, изменённого конкурентно во время отмены.
	maxCancelAttempts = 5
)

// Valid проверяет, что режим доставки поддерживается.
func (m DeliveryMode) Valid() bool {
	return m == DeliveryDirect || m == DeliveryOutbox
}

// Options задаёт зависимости и настройки сервиса.
type Options struct {
	Exchange     string
	DeliveryMode DeliveryMode
	Logger       *log.Entry
	Metrics      *metrics.OrderMetrics
	// Now возвращает текущее время; по умолчанию time.Now в UTC.
	Now func() time.Time
}

// CreateOrderInput - входные данные создания заказа.
type CreateOrderInput struct {
	CustomerID string
	Items      []domain.OrderLine
}

// Service управляет заказами поверх репозитория и брокера.
type Service struct {
	repo      domain.OrderRepository
	publisher domain.EventPublisher
	exchange  string
	mode      DeliveryMode
	logger    *log.Entry
	metrics   *metrics.OrderMetrics
	now       func() time.Time
}

// NewService конструирует сервис. publisher может быть nil в режиме outbox.
func NewService(repo domain.OrderRepository, publisher domain.EventPublisher, opts Options) (*Service, error) {
	if repo == nil {
		return nil, errors.New("order repository is required")
	}

	mode := opts.DeliveryMode
	if mode == "" {
		mode = DeliveryDirect
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unsupported delivery mode %q", mode)
	}
	if mode == DeliveryDirect && publisher == nil {
		return nil, errors.New("event publisher is required in direct delivery mode")
	}

	exchange := strings.TrimSpace(opts.Exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:      repo,
		publisher: publisher,
		exchange:  exchange,
		mode:      mode,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       func() time.Time { return now().UTC() },
	}, nil
}

// CreateOrder создаёт заказ, сохраняет его и публикует order.created.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	defer s.observe(opCreate, time.Now())

	order, err := domain.NewOrder(in.CustomerID, in.Items, s.now())
	if err != nil {
		s.recordError(opCreate, err)
		return domain.Order{}, err
	}

	event := domain.NewOrderCreated(order)
	outbox, err := s.outboxMessages(domain.RoutingKeyOrderCreated, order.ID, event)
	if err != nil {
		s.recordError(opCreate, err)
		return domain.Order{}, err
	}

	if err := s.repo.Create(ctx, order, outbox...); err != nil {
		s.recordError(opCreate, err)
		s.logger.WithError(err).WithField("customer_id", order.CustomerID).Error("failed to create order")
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"total":       order.TotalAmount.StringFixed(2),
	}).Info("order created")

	s.publish(ctx, domain.RoutingKeyOrderCreated, order.ID, event)
	return order, nil
}

// ConfirmOrder переводит заказ в confirmed и публикует order.confirmed.
func (s *Service) ConfirmOrder(ctx context.Context, id string) (domain.Order, error) {
	defer s.observe(opConfirm, time.Now())

	order, err := s.load(ctx, opConfirm, id)
	if err != nil {
		return domain.Order{}, err
	}

	if err := order.Confirm(s.now()); err != nil {
		s.recordError(opConfirm, err)
		return domain.Order{}, err
	}

	event := domain.NewOrderConfirmed(order, order.UpdatedAt)
	outbox, err := s.outboxMessages(domain.RoutingKeyOrderConfirmed, order.ID, event)
	if err != nil {
		s.recordError(opConfirm, err)
		return domain.Order{}, err
	}

	if err := s.save(ctx, opConfirm, &order, outbox...); err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordOrderConfirmed()
	s.logger.WithField("order_id", order.ID).Info("order confirmed")

	s.publish(ctx, domain.RoutingKeyOrderConfirmed, order.ID, event)
	return order, nil
}

// CancelOrder отменяет заказ. Событие не публикуется; повторная отмена ничего не сохраняет.
// При конфликте версий заказ перечитывается и отменяется заново.
func (s *Service) CancelOrder(ctx context.Context, id string) (domain.Order, error) {
	defer s.observe(opCancel, time.Now())

	for attempt := 1; ; attempt++ {
		order, err := s.load(ctx, opCancel, id)
		if err != nil {
			return domain.Order{}, err
		}

		if !order.Cancel(s.now()) {
			return order, nil
		}

		err = s.repo.Save(ctx, order)
		if err == nil {
			order.Version++
			s.metrics.RecordOrderCanceled()
			s.logger.WithField("order_id", order.ID).Info("order canceled")
			return order, nil
		}
		if errors.Is(err, domain.ErrOrderVersionConflict) && attempt < maxCancelAttempts {
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt,
			}).Debug("order changed concurrently, retrying cancel")
			continue
		}
		return domain.Order{}, s.saveFailed(opCancel, order, err)
	}
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	defer s.observe(opGet, time.Now())
	return s.load(ctx, opGet, id)
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	defer s.observe(opList, time.Now())

	if filter.Status != "" && !filter.Status.Valid() {
		err := fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidArgument, filter.Status)
		s.recordError(opList, err)
		return nil, err
	}

	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		s.recordError(opList, err)
		s.logger.WithError(err).Error("failed to list orders")
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// SalesPerDay возвращает продажи по календарным датам UTC в диапазоне [start, end] включительно.
func (s *Service) SalesPerDay(ctx context.Context, start, end time.Time) ([]domain.DailySales, error) {
	defer s.observe(opSales, time.Now())

	from, to, ok := domain.SalesWindow(start, end)
	if !ok {
		return []domain.DailySales{}, nil
	}

	rows, err := s.repo.SalesPerDay(ctx, from, to)
	if err != nil {
		s.recordError(opSales, err)
		s.logger.WithError(err).WithFields(log.Fields{
			"start": from.Format(domain.DateLayout),
			"end":   end.UTC().Format(domain.DateLayout),
		}).Error("failed to aggregate sales")
		return nil, fmt.Errorf("sales per day: %w", err)
	}
	if rows == nil {
		rows = []domain.DailySales{}
	}
	return rows, nil
}

func (s *Service) load(ctx context.Context, op, id string) (domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		err := fmt.Errorf("%w: order id is required", domain.ErrInvalidArgument)
		s.recordError(op, err)
		return domain.Order{}, err
	}

	order, err := s.repo.Get(ctx, id)
	if err == nil {
		return order, nil
	}

	s.recordError(op, err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": op,
		"order_id":  id,
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		entry.Debug("order not found")
		return domain.Order{}, err
	}
	entry.Error("failed to load order")
	return domain.Order{}, fmt.Errorf("load order %s: %w", id, err)
}

func (s *Service) save(ctx context.Context, op string, order *domain.Order, events ...domain.OutboxMessage) error {
	if err := s.repo.Save(ctx, *order, events...); err != nil {
		return s.saveFailed(op, *order, err)
	}
	order.Version++
	return nil
}

func (s *Service) saveFailed(op string, order domain.Order, err error) error {
	s.recordError(op, err)
	s.logger.WithError(err).WithFields(log.Fields{
		"operation": op,
		"order_id":  order.ID,
		"version":   order.Version,
	}).Error("failed to save order")
	return fmt.Errorf("save order %s: %w", order.ID, err)
}

// outboxMessages готовит сообщение для записи в outbox; в direct-режиме возвращает nil.
func (s *Service) outboxMessages(routingKey, orderID string, payload any) ([]domain.OutboxMessage, error) {
	if s.mode != DeliveryOutbox {
		return nil, nil
	}
	msg, err := domain.NewOutboxMessage(s.exchange, routingKey, orderID, payload)
	if err != nil {
		return nil, err
	}
	return []domain.OutboxMessage{msg}, nil
}

// publish вызывается только после успешного commit. Ошибка брокера не отменяет операцию.
func (s *Service) publish(ctx context.Context, routingKey, orderID string, payload any) {
	if s.mode != DeliveryDirect {
		return
	}

	err := s.publisher.Publish(ctx, s.exchange, routingKey, payload)
	s.metrics.RecordPublish(routingKey, err)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":    orderID,
			"exchange":    s.exchange,
			"routing_key": routingKey,
		}).Warn("failed to publish order event")
	}
}

func (s *Service) observe(op string, started time.Time) {
	s.metrics.RecordOperationDuration(op, time.Since(started))
}

func (s *Service) recordError(op string, err error) {
	s.metrics.RecordOperationError(op, ErrorKind(err))
}

// ErrorKind возвращает категорию ошибки для метрик и логов.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return "version_conflict"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, domain.ErrPublish):
		return "publish"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
