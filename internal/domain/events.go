package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys доменных событий заказа.
const (
	RoutingKeyOrderCreated   = "order.created"
	RoutingKeyOrderConfirmed = "order.confirmed"

	// AggregateTypeOrder - тип агрегата в outbox.
	AggregateTypeOrder = "order"
)

// OrderCreated публикуется после фиксации нового заказа.
type OrderCreated struct {
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// OrderConfirmed публикуется после фиксации подтверждения заказа.
type OrderConfirmed struct {
	OrderID     string          `json:"orderId"`
	CustomerID  string          `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ConfirmedAt time.Time       `json:"confirmedAt"`
}

// NewOrderCreated строит событие по только что созданному заказу.
func NewOrderCreated(order Order) OrderCreated {
	return OrderCreated{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
	}
}

// NewOrderConfirmed строит событие подтверждения с моментом confirmedAt.
func NewOrderConfirmed(order Order, confirmedAt time.Time) OrderConfirmed {
	return OrderConfirmed{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		ConfirmedAt: confirmedAt.UTC(),
	}
}

// PartitionKey возвращает ключ партиционирования для брокеров с партициями.
func (e OrderCreated) PartitionKey() string { return e.OrderID }

// PartitionKey возвращает ключ партиционирования для брокеров с партициями.
func (e OrderConfirmed) PartitionKey() string { return e.OrderID }

// NewOutboxMessage сериализует событие заказа в outbox-сообщение.
func NewOutboxMessage(exchange, routingKey, orderID string, payload any) (OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}
	return OutboxMessage{
		ID:            uuid.NewString(),
		Exchange:      exchange,
		RoutingKey:    routingKey,
		AggregateType: AggregateTypeOrder,
		AggregateID:   orderID,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
