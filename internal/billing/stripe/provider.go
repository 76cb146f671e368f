// Package stripe implements the webhook event processor that reconciles
// Stripe's subscription lifecycle with the local user and subscription
// records, plus the outbound checkout and portal session calls.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/kmirel/planhook/internal/billing"
	"github.com/kmirel/planhook/internal/billing/httpx"
	"github.com/kmirel/planhook/internal/domain"
	"github.com/kmirel/planhook/internal/store"
)

const (
	providerName             = "stripe"
	maxWebhookBody           = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Backend is the subset of the Stripe API the processor calls. The concrete
// implementation wraps stripe.Client; tests substitute a fake.
type Backend interface {
	// CheckoutSession re-fetches a checkout session by ID with its line
	// items expanded. The webhook payload is not trusted to carry complete
	// line-item data.
	CheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)

	// Subscription re-fetches a subscription by ID.
	Subscription(ctx context.Context, id string) (*stripe.Subscription, error)

	// CreateCheckoutSession creates a new checkout session.
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)

	// CreatePortalSession creates a customer portal session.
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
}

// Config configures the Stripe provider.
type Config struct {
	// Store is the user/subscription data store. Required.
	Store store.Store

	// StripeAPIKey authenticates outbound Stripe API calls. Required unless
	// a Backend is supplied.
	StripeAPIKey string

	// StripeWebhookSecret verifies inbound webhook signatures.
	StripeWebhookSecret string

	// YearlyPriceID and MonthlyPriceID are the two recurring prices of the
	// catalog. Any other recurring price on a checkout is rejected.
	YearlyPriceID  string
	MonthlyPriceID string

	// SuccessURL and CancelURL are the redirect targets for checkout sessions.
	SuccessURL string
	CancelURL  string

	// Metrics is optional; nil means no-op.
	Metrics billing.Metrics

	// Deduper is optional webhook event deduplication; nil disables it.
	Deduper billing.Deduper

	// Logger for structured logs.
	Logger zerolog.Logger

	// Backend overrides the Stripe API client, for tests.
	Backend Backend

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Provider processes Stripe webhook events and creates checkout/portal
// sessions.
type Provider struct {
	store          store.Store
	api            Backend
	webhookSecret  []byte
	yearlyPriceID  string
	monthlyPriceID string
	successURL     string
	cancelURL      string
	metrics        billing.Metrics
	deduper        billing.Deduper
	rateLimiter    *httpx.RateLimiter
	log            zerolog.Logger
	now            func() time.Time
}

// NewProvider creates a new Stripe billing provider.
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	if config.YearlyPriceID == "" || config.MonthlyPriceID == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	api := config.Backend
	if api == nil {
		apiKey := strings.TrimSpace(config.StripeAPIKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		api = &clientBackend{client: stripe.NewClient(apiKey)}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Provider{
		store:          config.Store,
		api:            api,
		webhookSecret:  []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		yearlyPriceID:  config.YearlyPriceID,
		monthlyPriceID: config.MonthlyPriceID,
		successURL:     config.SuccessURL,
		cancelURL:      config.CancelURL,
		metrics:        metrics,
		deduper:        config.Deduper,
		rateLimiter:    httpx.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		log:            config.Logger.With().Str("provider", providerName).Logger(),
		now:            now,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped with
// per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// periodForPrice maps a recurring price ID onto a billing period. The catalog
// is closed: exactly two recurring prices are valid.
func (p *Provider) periodForPrice(priceID string) (domain.Period, error) {
	switch priceID {
	case p.yearlyPriceID:
		return domain.PeriodYearly, nil
	case p.monthlyPriceID:
		return domain.PeriodMonthly, nil
	default:
		return "", billing.ErrUnknownPrice
	}
}

// priceForPeriod is the reverse of periodForPrice.
func (p *Provider) priceForPeriod(period domain.Period) (string, error) {
	switch period {
	case domain.PeriodYearly:
		return p.yearlyPriceID, nil
	case domain.PeriodMonthly:
		return p.monthlyPriceID, nil
	default:
		return "", billing.ErrUnknownPrice
	}
}

// clientBackend implements Backend on the official Stripe client.
type clientBackend struct {
	client *stripe.Client
}

func (c *clientBackend) CheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionRetrieveParams{}
	params.AddExpand("line_items")
	return c.client.V1CheckoutSessions.Retrieve(ctx, id, params)
}

func (c *clientBackend) Subscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return c.client.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (c *clientBackend) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return c.client.V1CheckoutSessions.Create(ctx, params)
}

func (c *clientBackend) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	return c.client.V1BillingPortalSessions.Create(ctx, params)
}
