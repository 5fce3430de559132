package domain

import (
	"context"
	"time"
)

// OrderFilter ограничивает выборку заказов. Пустые поля не фильтруют.
type OrderFilter struct {
	CustomerID string
	Status     OrderStatus
}

// OrderRepository описывает требования к хранилищу заказов.
// Create и Save сохраняют заказ вместе с позициями одной транзакцией; переданные
// outbox-сообщения записываются в той же транзакции.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderVersionConflict, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order, events ...OutboxMessage) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save применяет изменение статуса с учётом optimistic locking и увеличивает Version.
	Save(ctx context.Context, order Order, events ...OutboxMessage) error
	// SalesPerDay агрегирует заказы с CreatedAt в [from, to) по календарным датам UTC.
	SalesPerDay(ctx context.Context, from, to time.Time) ([]DailySales, error)
}
