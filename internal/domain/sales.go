package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout - формат календарной даты в отчётах и запросах.
const DateLayout = "2006-01-02"

// DailySales - строка отчёта продаж за одну календарную дату UTC.
type DailySales struct {
	Date        time.Time
	OrdersCount int
	TotalSales  decimal.Decimal
}

// DayStart возвращает полночь UTC календарной даты t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SalesWindow переводит включительный диапазон дат [start, end] в полуинтервал [from, to).
// ok=false, если диапазон пуст.
func SalesWindow(start, end time.Time) (from, to time.Time, ok bool) {
	from = DayStart(start)
	to = DayStart(end).AddDate(0, 0, 1)
	return from, to, from.Before(to)
}

// AggregateDailySales группирует заказы по дате создания (UTC) в пределах [from, to).
// Статус заказа не учитывается; даты без заказов не попадают в результат.
func AggregateDailySales(orders []Order, from, to time.Time) []DailySales {
	byDate := make(map[time.Time]*DailySales)
	for _, order := range orders {
		if order.CreatedAt.Before(from) || !order.CreatedAt.Before(to) {
			continue
		}
		day := DayStart(order.CreatedAt)
		row, ok := byDate[day]
		if !ok {
			row = &DailySales{Date: day, TotalSales: decimal.Zero}
			byDate[day] = row
		}
		row.OrdersCount++
		row.TotalSales = row.TotalSales.Add(order.TotalAmount)
	}

	result := make([]DailySales, 0, len(byDate))
	for _, row := range byDate {
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result
}
