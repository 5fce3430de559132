package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
)

// helper для создания набора позиций из сценария "Widget + Gadget".
func makeLines() []domain.OrderLine {
	return []domain.OrderLine{
		{ProductID: "P1", ProductName: "Widget", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
		{ProductID: "P2", ProductName: "Gadget", UnitPrice: decimal.RequireFromString("5.50"), Quantity: 1},
	}
}

func makeOrder(t *testing.T) domain.Order {
	t.Helper()
	order, err := domain.NewOrder("customer-1", makeLines(), time.Now())
	if err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}
	return order
}

func TestNewOrder_ComputesTotals(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	order, err := domain.NewOrder("customer-1", makeLines(), now)
	if err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}

	if order.Status != domain.OrderStatusCreated {
		t.Fatalf("expected status created, got %s", order.Status)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("expected total 25.50, got %s", order.TotalAmount)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	if order.ID == "" {
		t.Fatal("expected generated order id")
	}
	if order.CreatedAt.Location() != time.UTC || !order.CreatedAt.Equal(now) {
		t.Fatalf("expected createdAt %s in UTC, got %s", now.UTC(), order.CreatedAt)
	}

	seen := map[string]bool{}
	for i, item := range order.Items {
		if item.OrderID != order.ID {
			t.Fatalf("item[%d] order id mismatch: %s", i, item.OrderID)
		}
		if item.ID == "" || seen[item.ID] {
			t.Fatalf("item[%d] must have unique id, got %q", i, item.ID)
		}
		seen[item.ID] = true
	}
	if !order.Items[0].Total.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("unexpected first item total: %s", order.Items[0].Total)
	}
	if order.Items[1].ProductName != "Gadget" {
		t.Fatalf("items must keep input order, got %s", order.Items[1].ProductName)
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no invariant violations, got %v", errs)
	}
}

func TestNewOrder_ZeroPriceAllowed(t *testing.T) {
	order, err := domain.NewOrder("customer-1", []domain.OrderLine{
		{ProductID: "P1", ProductName: "Gift", UnitPrice: decimal.Zero, Quantity: 3},
	}, time.Now())
	if err != nil {
		t.Fatalf("zero price must be accepted, got %v", err)
	}
	if !order.TotalAmount.IsZero() {
		t.Fatalf("expected zero total, got %s", order.TotalAmount)
	}
}

func TestNewOrder_InvalidArguments(t *testing.T) {
	cases := []struct {
		name       string
		customerID string
		lines      []domain.OrderLine
		want       error
	}{
		{
			name:       "no customer",
			customerID: "",
			lines:      makeLines(),
			want:       domain.ErrCustomerRequired,
		},
		{
			name:       "blank customer",
			customerID: "   ",
			lines:      makeLines(),
			want:       domain.ErrCustomerRequired,
		},
		{
			name:       "no items",
			customerID: "customer-1",
			lines:      nil,
			want:       domain.ErrItemsRequired,
		},
		{
			name:       "zero quantity",
			customerID: "customer-1",
			lines: []domain.OrderLine{
				{ProductID: "P1", UnitPrice: decimal.NewFromInt(1), Quantity: 0},
			},
			want: domain.ErrItemQtyInvalid,
		},
		{
			name:       "negative quantity in second item",
			customerID: "customer-1",
			lines: []domain.OrderLine{
				{ProductID: "P1", UnitPrice: decimal.NewFromInt(1), Quantity: 1},
				{ProductID: "P2", UnitPrice: decimal.NewFromInt(1), Quantity: -2},
			},
			want: domain.ErrItemQtyInvalid,
		},
		{
			name:       "negative price",
			customerID: "customer-1",
			lines: []domain.OrderLine{
				{ProductID: "P1", UnitPrice: decimal.RequireFromString("-0.01"), Quantity: 1},
			},
			want: domain.ErrItemPriceInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.NewOrder(tc.customerID, tc.lines, time.Now())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected invalid argument category, got %v", err)
			}
		})
	}
}

func TestOrderConfirm(t *testing.T) {
	order := makeOrder(t)

	if err := order.Confirm(time.Now()); err != nil {
		t.Fatalf("confirm from created failed: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", order.Status)
	}

	err := order.Confirm(time.Now())
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second confirm must fail with invalid state, got %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("failed confirm must not change status, got %s", order.Status)
	}
}

func TestOrderConfirm_Canceled(t *testing.T) {
	order := makeOrder(t)
	order.Cancel(time.Now())

	if err := order.Confirm(time.Now()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("confirm of canceled order must fail, got %v", err)
	}
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", order.Status)
	}
}

func TestOrderCancel(t *testing.T) {
	cases := []struct {
		name        string
		prepare     func(t *testing.T, o *domain.Order)
		wantChanged bool
	}{
		{name: "from created", prepare: func(*testing.T, *domain.Order) {}, wantChanged: true},
		{
			name: "from confirmed",
			prepare: func(t *testing.T, o *domain.Order) {
				if err := o.Confirm(time.Now()); err != nil {
					t.Fatalf("confirm failed: %v", err)
				}
			},
			wantChanged: true,
		},
		{name: "already canceled", prepare: func(_ *testing.T, o *domain.Order) { o.Cancel(time.Now()) }, wantChanged: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(t)
			tc.prepare(t, &order)

			if changed := order.Cancel(time.Now()); changed != tc.wantChanged {
				t.Fatalf("expected changed=%v, got %v", tc.wantChanged, changed)
			}
			if order.Status != domain.OrderStatusCanceled {
				t.Fatalf("expected canceled, got %s", order.Status)
			}
		})
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{name: "no customer", mut: func(o *domain.Order) { o.CustomerID = "" }},
		{name: "no items", mut: func(o *domain.Order) { o.Items = nil }},
		{name: "qty invalid", mut: func(o *domain.Order) { o.Items[0].Quantity = 0 }},
		{name: "price invalid", mut: func(o *domain.Order) { o.Items[0].UnitPrice = decimal.NewFromInt(-5) }},
		{name: "amount mismatch", mut: func(o *domain.Order) { o.TotalAmount = decimal.NewFromInt(999) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(t).Clone()
			tc.mut(&order)

			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestOrderClone_DoesNotShareItems(t *testing.T) {
	order := makeOrder(t)
	clone := order.Clone()
	clone.Items[0].ProductName = "changed"

	if order.Items[0].ProductName == "changed" {
		t.Fatal("clone must not share items with the original")
	}
}

func TestOrderStatus_Valid(t *testing.T) {
	for _, s := range []domain.OrderStatus{domain.OrderStatusCreated, domain.OrderStatusConfirmed, domain.OrderStatusCanceled} {
		if !s.Valid() {
			t.Fatalf("status %s must be valid", s)
		}
	}
	if domain.OrderStatus("pending").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestOrderTransitionsUseGivenTime(t *testing.T) {
	confirmedAt := time.Date(2024, 3, 10, 12, 30, 0, 0, time.FixedZone("UTC+3", 3*3600))
	canceledAt := confirmedAt.Add(time.Hour)

	order := makeOrder(t)
	if err := order.Confirm(confirmedAt); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !order.UpdatedAt.Equal(confirmedAt) || order.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected UpdatedAt %v in UTC, got %v", confirmedAt.UTC(), order.UpdatedAt)
	}

	if !order.Cancel(canceledAt) {
		t.Fatal("cancel of confirmed order must change status")
	}
	if !order.UpdatedAt.Equal(canceledAt) {
		t.Fatalf("expected UpdatedAt %v, got %v", canceledAt.UTC(), order.UpdatedAt)
	}

	if order.Cancel(canceledAt.Add(time.Hour)) {
		t.Fatal("repeated cancel must not change status")
	}
	if !order.UpdatedAt.Equal(canceledAt) {
		t.Fatalf("repeated cancel must keep UpdatedAt, got %v", order.UpdatedAt)
	}
}
