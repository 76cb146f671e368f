package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/kmirel/planhook/internal/billing"
	"github.com/kmirel/planhook/internal/domain"
)

// CheckoutURL creates a Stripe Checkout Session for the given user and
// billing period and returns its URL. The stored customer ID is attached when
// present so Stripe does not create a duplicate customer.
func (p *Provider) CheckoutURL(ctx context.Context, email string, period domain.Period) (string, error) {
	startTime := time.Now()

	priceID, err := p.priceForPeriod(period)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, period)
	}

	user, err := p.store.UserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to resolve checkout user: %w", err)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
	}

	if user.CustomerID != "" {
		params.Customer = stripe.String(user.CustomerID)
	} else {
		// The webhook handler links the new customer back to this user by
		// the session's customer email.
		params.CustomerEmail = stripe.String(user.Email)
		params.ClientReferenceID = stripe.String(user.ID)
	}

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("%w: creating checkout session: %v", billing.ErrProviderAPIError, err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal session for the given user and
// returns its URL. This lets users cancel or change their subscription and
// payment method without any local UI.
func (p *Provider) PortalURL(ctx context.Context, email, returnURL string) (string, error) {
	startTime := time.Now()

	user, err := p.store.UserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to resolve portal user: %w", err)
	}
	if user.CustomerID == "" {
		return "", fmt.Errorf("%w: user %s", billing.ErrCustomerNotFound, user.ID)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(user.CustomerID),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := p.api.CreatePortalSession(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))
		return "", fmt.Errorf("%w: creating portal session: %v", billing.ErrProviderAPIError, err)
	}

	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))

	return session.URL, nil
}
