package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusCreated - заказ создан и ожидает подтверждения.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusConfirmed - заказ подтверждён; его всё ещё можно отменить.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCanceled - заказ отменён. Терминальный статус.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusConfirmed, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// OrderLine - входные данные одной позиции при создании заказа.
type OrderLine struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int32
}

// OrderItem представляет одну позицию заказа.
// ProductName и UnitPrice - снимок каталога на момент заказа, с каталогом не синхронизируются.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int32
	// Total = UnitPrice * Quantity, вычисляется один раз при создании.
	Total decimal.Decimal
}

// Order агрегирует состояние заказа и его позиции.
// Позиции принадлежат заказу и не существуют отдельно от него.
type Order struct {
	ID          string
	CustomerID  string
	Status      OrderStatus
	TotalAmount decimal.Decimal
	Items       []OrderItem
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOrder создаёт заказ в статусе created вместе со всеми позициями.
// Сумма заказа фиксируется при создании и дальше не пересчитывается.
func NewOrder(customerID string, lines []OrderLine, now time.Time) (Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return Order{}, ErrCustomerRequired
	}
	if len(lines) == 0 {
		return Order{}, ErrItemsRequired
	}

	now = now.UTC()
	orderID := uuid.NewString()
	items := make([]OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		item, err := newOrderItem(orderID, line)
		if err != nil {
			return Order{}, err
		}
		items = append(items, item)
		total = total.Add(item.Total)
	}

	return Order{
		ID:          orderID,
		CustomerID:  customerID,
		Status:      OrderStatusCreated,
		TotalAmount: total,
		Items:       items,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func newOrderItem(orderID string, line OrderLine) (OrderItem, error) {
	if line.Quantity <= 0 {
		return OrderItem{}, ErrItemQtyInvalid
	}
	if line.UnitPrice.IsNegative() {
		return OrderItem{}, ErrItemPriceInvalid
	}

	return OrderItem{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		ProductID:   line.ProductID,
		ProductName: line.ProductName,
		UnitPrice:   line.UnitPrice,
		Quantity:    line.Quantity,
		Total:       line.UnitPrice.Mul(decimal.NewFromInt32(line.Quantity)),
	}, nil
}

// Confirm переводит заказ из created в confirmed; at становится UpdatedAt.
func (o *Order) Confirm(at time.Time) error {
	if o.Status != OrderStatusCreated {
		return ErrOrderNotCreated
	}
	o.Status = OrderStatusConfirmed
	o.UpdatedAt = at.UTC()
	return nil
}

// Cancel отменяет заказ. Повторная отмена ничего не делает.
// Возвращает true, если статус действительно изменился.
func (o *Order) Cancel(at time.Time) bool {
	if o.Status == OrderStatusCanceled {
		return false
	}
	o.Status = OrderStatusCanceled
	o.UpdatedAt = at.UTC()
	return true
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
// Используется хранилищами перед записью агрегата, восстановленного не через NewOrder.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.CustomerID) == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.Total)
	}
	if !calc.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает копию заказа с собственным срезом позиций.
func (o Order) Clone() Order {
	items := make([]OrderItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}
