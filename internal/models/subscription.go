package models

import "time"

// BillingCycle is the recurrence period of a subscription's charge.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleYearly    BillingCycle = "yearly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleWeekly    BillingCycle = "weekly"
)

// NormalizeCycle coerces unknown billing cycles to monthly instead of
// rejecting them. Lenient on purpose: imported records from older clients
// carry free-form cycle strings.
func NormalizeCycle(c BillingCycle) BillingCycle {
	switch c {
	case CycleMonthly, CycleYearly, CycleQuarterly, CycleWeekly:
		return c
	default:
		return CycleMonthly
	}
}

// MonthlyCost normalizes a price in its native billing cycle to a monthly
// equivalent.
func MonthlyCost(price float64, cycle BillingCycle) float64 {
	switch NormalizeCycle(cycle) {
	case CycleYearly:
		return price / 12
	case CycleQuarterly:
		return price / 3
	case CycleWeekly:
		return price * 4.33
	default:
		return price
	}
}

// DefaultName is used for subscriptions saved without a display name.
const DefaultName = "Unnamed subscription"

// Subscription represents one tracked service subscription.
type Subscription struct {
	// The id is assigned by the backend; it must be absent from insert
	// bodies or a uuid column rejects the empty string.
	ID              string       `json:"id,omitempty"`
	UserID          string       `json:"user_id"`
	Name            string       `json:"name"`
	Price           float64      `json:"price"`
	BillingCycle    BillingCycle `json:"billing_cycle"`
	Category        string       `json:"category"`
	NextPaymentDate string       `json:"next_payment_date,omitempty"` // YYYY-MM-DD
	Description     string       `json:"description,omitempty"`
	MonthlyCost     float64      `json:"monthly_cost"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	IsLocal         bool         `json:"is_local,omitempty"`
}

// Normalize fills in defaults for missing or invalid fields and recomputes
// the derived monthly cost when it was not explicitly supplied.
func (s *Subscription) Normalize() {
	if s.Name == "" {
		s.Name = DefaultName
	}
	if s.Price < 0 {
		s.Price = 0
	}
	s.BillingCycle = NormalizeCycle(s.BillingCycle)
	if s.Category == "" {
		s.Category = "other"
	}
	if s.MonthlyCost == 0 {
		s.MonthlyCost = MonthlyCost(s.Price, s.BillingCycle)
	}
}

// User represents an authenticated identity from the remote auth backend.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Session is an authenticated session issued by the remote auth backend.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}
