package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/kmirel/planhook/internal/billing"
	"github.com/kmirel/planhook/internal/billing/httpx"
	"github.com/kmirel/planhook/internal/domain"
)

// handleWebhook processes incoming Stripe webhook events. Signature
// verification happens before anything else touches state; an unverified
// request produces no side effects. Handler failures collapse into a generic
// 400 so Stripe redelivers later; the cause is only logged server-side.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	// Read the raw body before parsing: the signature covers exact bytes.
	body, err := httpx.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		if errors.Is(err, httpx.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		err = fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
		p.log.Warn().Err(err).Msg("webhook signature verification failed")
		http.Error(w, "Webhook Error: invalid signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if p.alreadySeen(r.Context(), event.ID) {
		p.log.Info().
			Str("event_id", event.ID).
			Str("event_type", eventType).
			Msg("duplicate webhook event ignored")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Webhook received"))
		p.metrics.RecordWebhookEvent(providerName, eventType, "duplicate")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	if err := p.processEvent(r.Context(), &event); err != nil {
		p.log.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", eventType).
			Msg("failed to handle webhook event")
		http.Error(w, "Webhook Error", http.StatusBadRequest)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	// Marking only happens after the handler succeeded: a delivery answered
	// with 400 stays unmarked so Stripe's redelivery is processed.
	p.markSeen(r.Context(), event.ID)

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("Webhook received")); err != nil {
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// alreadySeen consults the optional deduper. A deduper failure is logged and
// treated as unseen: every mutation downstream is an idempotent upsert, so
// reprocessing is safe while dropping an event is not.
func (p *Provider) alreadySeen(ctx context.Context, eventID string) bool {
	if p.deduper == nil || eventID == "" {
		return false
	}
	seen, err := p.deduper.Seen(ctx, eventID)
	if err != nil {
		p.log.Warn().Err(err).Str("event_id", eventID).Msg("webhook dedup check failed")
		return false
	}
	return seen
}

func (p *Provider) markSeen(ctx context.Context, eventID string) {
	if p.deduper == nil || eventID == "" {
		return
	}
	if err := p.deduper.Mark(ctx, eventID); err != nil {
		p.log.Warn().Err(err).Str("event_id", eventID).Msg("failed to record webhook event id")
	}
}

// processEvent dispatches an authenticated event to its handler. Event types
// outside the recognized set are logged and acknowledged without mutation.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutSessionCompleted(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		p.log.Info().Str("event_type", string(event.Type)).Msg("unhandled webhook event type")
		return nil
	}
}

// handleCheckoutSessionCompleted processes checkout.session.completed events:
// it links the Stripe customer to the local user on first checkout, upserts
// the subscription row for each recurring line item and flips the user to
// premium.
func (p *Provider) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) error {
	var payload stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	session, err := p.api.CheckoutSession(ctx, payload.ID)
	if err != nil {
		return fmt.Errorf("%w: fetching checkout session %s: %v", billing.ErrProviderAPIError, payload.ID, err)
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	email := ""
	if session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		// Email-less sessions are ignored, not errors.
		p.log.Info().Str("session_id", session.ID).Msg("checkout session has no customer email, skipping")
		return nil
	}

	user, err := p.store.UserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to resolve checkout user: %w", err)
	}

	// First-subscription bookkeeping; an existing customer ID is never
	// overwritten.
	if user.CustomerID == "" && customerID != "" {
		if err := p.store.AttachCustomerID(ctx, user.ID, customerID); err != nil {
			return err
		}
	}

	var items []*stripe.LineItem
	if session.LineItems != nil {
		items = session.LineItems.Data
	}

	now := p.now()
	for _, item := range items {
		if item.Price == nil {
			continue
		}
		if item.Price.Type != stripe.PriceTypeRecurring {
			// One-time purchases do not affect the plan.
			continue
		}

		period, err := p.periodForPrice(item.Price.ID)
		if err != nil {
			return fmt.Errorf("%w: %s", err, item.Price.ID)
		}

		endDate := now.AddDate(0, 1, 0)
		if period == domain.PeriodYearly {
			endDate = now.AddDate(1, 0, 0)
		}

		// StartDate is refreshed on renewals too, not just on creation.
		if _, err := p.store.UpsertSubscription(ctx, &domain.Subscription{
			UserID:    user.ID,
			Plan:      domain.PlanPremium,
			Period:    period,
			StartDate: now,
			EndDate:   endDate,
		}); err != nil {
			return err
		}

		if err := p.store.SetUserPlan(ctx, user.ID, domain.PlanPremium); err != nil {
			return err
		}

		if user.Plan != domain.PlanPremium {
			p.metrics.RecordPlanChange(providerName, string(user.Plan), string(domain.PlanPremium))
		}

		p.log.Info().
			Str("user_id", user.ID).
			Str("period", string(period)).
			Time("end_date", endDate).
			Msg("subscription activated")
	}

	return nil
}

// handleSubscriptionDeleted processes customer.subscription.deleted events by
// downgrading the owning user to the free plan. The subscription row itself
// is left untouched; the next completed checkout overwrites it.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var payload stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	subscription, err := p.api.Subscription(ctx, payload.ID)
	if err != nil {
		return fmt.Errorf("%w: fetching subscription %s: %v", billing.ErrProviderAPIError, payload.ID, err)
	}

	if subscription.Customer == nil || subscription.Customer.ID == "" {
		return fmt.Errorf("%w: subscription %s has no customer", billing.ErrInvalidWebhookPayload, subscription.ID)
	}

	// Every provider-known customer must map to a local user.
	user, err := p.store.UserByCustomerID(ctx, subscription.Customer.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve user for deleted subscription: %w", err)
	}

	if err := p.store.SetUserPlan(ctx, user.ID, domain.PlanFree); err != nil {
		return err
	}

	if user.Plan != domain.PlanFree {
		p.metrics.RecordPlanChange(providerName, string(user.Plan), string(domain.PlanFree))
	}

	p.log.Info().Str("user_id", user.ID).Msg("subscription deleted, user downgraded to free")
	return nil
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
