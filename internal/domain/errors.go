package domain

import (
	"errors"
	"fmt"
)

// Категории ошибок. Конкретные ошибки оборачивают одну из них, поэтому
// errors.Is работает как с категорией, так и с конкретной причиной.
var (
	// ErrInvalidArgument - некорректные входные данные при создании заказа.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState - недопустимый переход статуса заказа.
	ErrInvalidState = errors.New("invalid state")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPersistence - хранилище недоступно или нарушено ограничение.
	ErrPersistence = errors.New("persistence failure")
	// ErrPublish - брокер недоступен или конфликт объявления exchange.
	ErrPublish = errors.New("publish failure")
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = fmt.Errorf("%w: customer_id is required", ErrInvalidArgument)
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrInvalidArgument)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be greater than zero", ErrInvalidArgument)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item unit price must be non-negative", ErrInvalidArgument)
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = fmt.Errorf("%w: order total does not match items sum", ErrInvalidArgument)
	// ErrOrderNotCreated - подтвердить можно только заказ в статусе created.
	ErrOrderNotCreated = fmt.Errorf("%w: only created orders can be confirmed", ErrInvalidState)
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = fmt.Errorf("%w: order version conflict", ErrPersistence)
	// ErrOutboxMessageNotFound - сообщение outbox не найдено при смене статуса.
	ErrOutboxMessageNotFound = fmt.Errorf("%w: outbox message not found", ErrPersistence)
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsInvalidArgument проверяет, относится ли ошибка к некорректным входным данным.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsInvalidState проверяет, относится ли ошибка к недопустимому переходу статуса.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
