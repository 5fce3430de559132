package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// orderRepositoryInMemory - простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Order
	outbox *OutboxRepository
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
// outbox может быть nil, если outbox-доставка не используется.
func NewOrderRepository(outbox *OutboxRepository) domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:  make(map[string]domain.Order),
		outbox: outbox,
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order, events ...domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(events) > 0 && r.outbox == nil {
		return errOutboxNotConfigured
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = order.Clone()
	r.enqueue(events)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepositoryInMemory) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// Save перезаписывает статус заказа, проверяя версию (optimistic locking).
// Позиции и сумма заказа после создания не меняются.
func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order, events ...domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) > 0 && r.outbox == nil {
		return errOutboxNotConfigured
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	current.Status = order.Status
	current.UpdatedAt = order.UpdatedAt
	// Инкрементируем версию перед сохранением.
	current.Version++
	r.items[order.ID] = current
	r.enqueue(events)
	return nil
}

// SalesPerDay агрегирует заказы по календарным датам UTC в пределах [from, to).
func (r *orderRepositoryInMemory) SalesPerDay(ctx context.Context, from, to time.Time) ([]domain.DailySales, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	orders := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		orders = append(orders, order)
	}
	r.mu.RUnlock()

	return domain.AggregateDailySales(orders, from, to), nil
}

func (r *orderRepositoryInMemory) enqueue(events []domain.OutboxMessage) {
	for _, event := range events {
		r.outbox.enqueue(event)
	}
}

var errOutboxNotConfigured = errors.New("outbox repository is not configured")

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
