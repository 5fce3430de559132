package httpapi

import (
	"reflect"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// createOrderItemRequest - позиция в теле POST /orders.
type createOrderItemRequest struct {
	ProductID   string          `json:"productId" validate:"required,max=64"`
	ProductName string          `json:"productName" validate:"required,max=200"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int32           `json:"quantity" validate:"gt=0"`
}

// createOrderRequest - тело POST /orders.
type createOrderRequest struct {
	CustomerID string                   `json:"customerId" validate:"required,max=64"`
	Items      []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r createOrderRequest) lines() []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(r.Items))
	for _, item := range r.Items {
		lines = append(lines, domain.OrderLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}
	return lines
}

type orderItemResponse struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int32           `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
}

type orderResponse struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customerId"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	Status      domain.OrderStatus  `json:"status"`
	TotalAmount decimal.Decimal     `json:"totalAmount"`
	Items       []orderItemResponse `json:"items"`
}

type salesPerDayResponse struct {
	Date        string          `json:"date"`
	OrdersCount int             `json:"ordersCount"`
	TotalSales  decimal.Decimal `json:"totalSales"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Total:       item.Total,
		})
	}

	return orderResponse{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Items:       items,
	}
}

func toSalesResponse(rows []domain.DailySales) []salesPerDayResponse {
	result := make([]salesPerDayResponse, 0, len(rows))
	for _, row := range rows {
		result = append(result, salesPerDayResponse{
			Date:        row.Date.UTC().Format(domain.DateLayout),
			OrdersCount: row.OrdersCount,
			TotalSales:  row.TotalSales,
		})
	}
	return result
}

// newValidator возвращает validator с правилами для тел запросов.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(createOrderItemStructValidation, createOrderItemRequest{})
	return v
}

// Цена хранится как decimal, теги validator к нему не применимы.
func createOrderItemStructValidation(sl validatorv10.StructLevel) {
	item := sl.Current().Interface().(createOrderItemRequest)
	if item.UnitPrice.IsNegative() {
		sl.ReportError(item.UnitPrice, "unitPrice", "UnitPrice", "non_negative", "")
	}
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	ve, ok := err.(validatorv10.ValidationErrors)
	if !ok {
		out["request"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}
