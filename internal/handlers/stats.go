package handlers

import (
	"net/http"

	"subtrack/internal/models"
)

// StatsViewModel is the aggregate view of the subscription collection.
type StatsViewModel struct {
	Count              int                   `json:"count"`
	TotalMonthlyAmount float64               `json:"total_monthly_amount"`
	TotalAnnualAmount  float64               `json:"total_annual_amount"`
	ByCategory         []CategoryTotal       `json:"by_category"`
	UpcomingPayments   []models.Subscription `json:"upcoming_payments"`
}

// CategoryTotal is the monthly-equivalent spend for one category.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// Stats renders aggregate cost statistics for the current collection.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w); !ok {
		return
	}

	records := h.store.Records()

	totals := map[string]*CategoryTotal{}
	order := []string{}
	var monthly float64
	for _, sub := range records {
		cost := models.MonthlyCost(sub.Price, sub.BillingCycle)
		monthly += cost
		ct, ok := totals[sub.Category]
		if !ok {
			ct = &CategoryTotal{Category: sub.Category}
			totals[sub.Category] = ct
			order = append(order, sub.Category)
		}
		ct.Total += cost
		ct.Count++
	}

	byCategory := make([]CategoryTotal, 0, len(order))
	for _, cat := range order {
		byCategory = append(byCategory, *totals[cat])
	}

	h.writeJSON(w, http.StatusOK, StatsViewModel{
		Count:              len(records),
		TotalMonthlyAmount: monthly,
		TotalAnnualAmount:  monthly * 12,
		ByCategory:         byCategory,
		UpcomingPayments:   h.store.UpcomingPayments(),
	})
}
