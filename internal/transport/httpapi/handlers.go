package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/orders"
)

// OrderService - операции прикладного слоя, которые обслуживает HTTP API.
type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (domain.Order, error)
	ConfirmOrder(ctx context.Context, id string) (domain.Order, error)
	CancelOrder(ctx context.Context, id string) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	SalesPerDay(ctx context.Context, start, end time.Time) ([]domain.DailySales, error)
}

type orderHandler struct {
	svc       OrderService
	validate  *validatorv10.Validate
	logger    *log.Entry
	routeBase string
}

func (h *orderHandler) create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, codeInvalidArgument, "invalid request body: "+err.Error(), nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeBadRequest(c, codeValidationFailed, "request validation failed", validationErrorsToMap(err))
		return
	}

	order, err := h.svc.CreateOrder(c.Request.Context(), orders.CreateOrderInput{
		CustomerID: req.CustomerID,
		Items:      req.lines(),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.Header("Location", fmt.Sprintf("%s/%s", h.routeBase, order.ID))
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

func (h *orderHandler) get(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *orderHandler) list(c *gin.Context) {
	filter := domain.OrderFilter{
		CustomerID: strings.TrimSpace(c.Query("customer_id")),
		Status:     domain.OrderStatus(strings.TrimSpace(c.Query("status"))),
	}

	list, err := h.svc.ListOrders(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	result := make([]orderResponse, 0, len(list))
	for _, order := range list {
		result = append(result, toOrderResponse(order))
	}
	c.JSON(http.StatusOK, result)
}

func (h *orderHandler) confirm(c *gin.Context) {
	if _, err := h.svc.ConfirmOrder(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *orderHandler) cancel(c *gin.Context) {
	if _, err := h.svc.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *orderHandler) salesPerDay(c *gin.Context) {
	start, err := parseDate(c, "start")
	if err != nil {
		writeBadRequest(c, codeInvalidArgument, err.Error(), nil)
		return
	}
	end, err := parseDate(c, "end")
	if err != nil {
		writeBadRequest(c, codeInvalidArgument, err.Error(), nil)
		return
	}

	rows, err := h.svc.SalesPerDay(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toSalesResponse(rows))
}

// parseDate читает обязательную дату YYYY-MM-DD из query-параметра.
func parseDate(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, fmt.Errorf("query parameter %q is required (format %s)", name, domain.DateLayout)
	}
	value, err := time.ParseInLocation(domain.DateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("query parameter %q must be a date in format %s", name, domain.DateLayout)
	}
	return value, nil
}
