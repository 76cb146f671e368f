// Package store is the data access layer for users and subscriptions.
package store

import (
	"context"

	"github.com/kmirel/planhook/internal/domain"
)

// Store abstracts the relational store so the webhook processor can be tested
// with a substitutable implementation. All mutations are single-row and keyed
// on a stable identifier, which is what makes webhook redelivery safe.
type Store interface {
	// UserByEmail returns the user with the given email, or
	// domain.ErrUserNotFound.
	UserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UserByCustomerID returns the user owning the given Stripe customer ID,
	// or domain.ErrUserNotFound.
	UserByCustomerID(ctx context.Context, customerID string) (*domain.User, error)

	// AttachCustomerID records the Stripe customer ID on a user that does not
	// have one yet. It never overwrites an existing customer ID.
	AttachCustomerID(ctx context.Context, userID, customerID string) error

	// SetUserPlan updates the user's plan flag.
	SetUserPlan(ctx context.Context, userID string, plan domain.Plan) error

	// UpsertSubscription creates the user's subscription row or overwrites
	// its plan, period and dates. At most one row exists per user.
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)

	// SubscriptionByUserID returns the user's subscription row, or
	// domain.ErrSubscriptionNotFound.
	SubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
}
