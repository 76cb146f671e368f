// Package domain defines the persisted entities the webhook processor
// reconciles: application users and their billing subscriptions.
package domain

import (
	"errors"
	"time"
)

// Plan identifies the feature tier a user is entitled to.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Period is the billing cycle of a recurring subscription.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup key.
	ErrUserNotFound = errors.New("user not found")

	// ErrSubscriptionNotFound is returned when a user has no subscription row.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// User is an application account. CustomerID is the Stripe-assigned payer
// identifier; it is set on the first completed checkout and never overwritten.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	CustomerID string    `json:"customer_id,omitempty"`
	Plan       Plan      `json:"plan"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Subscription is the one-per-user billing record. StartDate is refreshed on
// every completed checkout, including renewals of an existing row.
type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Plan      Plan      `json:"plan"`
	Period    Period    `json:"period"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Active reports whether the subscription covers the given instant.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil && now.Before(s.EndDate)
}
