package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/kmirel/planhook/internal/billing"
	"github.com/kmirel/planhook/internal/domain"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testYearlyPrice   = "price_yearly_test"
	testMonthlyPrice  = "price_monthly_test"
	testUserID        = "user-1"
	testUserEmail     = "jane@example.com"
	testCustomerID    = "cus_test_123"
	testSessionID     = "cs_test_123"
	testSubID         = "sub_test_123"
)

// fakeStore is an in-memory store.Store that records every mutation.
type fakeStore struct {
	users map[string]*domain.User         // keyed by user ID
	subs  map[string]*domain.Subscription // keyed by user ID

	attachCalls int
	planCalls   int
	upsertCalls int
}

func newFakeStore(users ...*domain.User) *fakeStore {
	fs := &fakeStore{
		users: make(map[string]*domain.User),
		subs:  make(map[string]*domain.Subscription),
	}
	for _, u := range users {
		copied := *u
		fs.users[u.ID] = &copied
	}
	return fs
}

func (f *fakeStore) mutations() int {
	return f.attachCalls + f.planCalls + f.upsertCalls
}

func (f *fakeStore) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (f *fakeStore) UserByCustomerID(_ context.Context, customerID string) (*domain.User, error) {
	for _, u := range f.users {
		if u.CustomerID == customerID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (f *fakeStore) AttachCustomerID(_ context.Context, userID, customerID string) error {
	f.attachCalls++
	if u, ok := f.users[userID]; ok && u.CustomerID == "" {
		u.CustomerID = customerID
	}
	return nil
}

func (f *fakeStore) SetUserPlan(_ context.Context, userID string, plan domain.Plan) error {
	f.planCalls++
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Plan = plan
	return nil
}

func (f *fakeStore) UpsertSubscription(_ context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	f.upsertCalls++
	copied := *sub
	if existing, ok := f.subs[sub.UserID]; ok {
		copied.ID = existing.ID
	} else {
		copied.ID = fmt.Sprintf("sub-row-%d", len(f.subs)+1)
	}
	f.subs[sub.UserID] = &copied
	out := copied
	return &out, nil
}

func (f *fakeStore) SubscriptionByUserID(_ context.Context, userID string) (*domain.Subscription, error) {
	if sub, ok := f.subs[userID]; ok {
		copied := *sub
		return &copied, nil
	}
	return nil, domain.ErrSubscriptionNotFound
}

// fakeBackend serves canned Stripe objects for the re-fetch calls.
type fakeBackend struct {
	session      *stripe.CheckoutSession
	subscription *stripe.Subscription

	sessionErr      error
	subscriptionErr error

	checkoutSession *stripe.CheckoutSession
	portalSession   *stripe.BillingPortalSession

	lastCheckoutParams *stripe.CheckoutSessionCreateParams
	lastPortalParams   *stripe.BillingPortalSessionCreateParams
}

func (f *fakeBackend) CheckoutSession(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	if f.session == nil || f.session.ID != id {
		return nil, fmt.Errorf("no such session: %s", id)
	}
	return f.session, nil
}

func (f *fakeBackend) Subscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if f.subscriptionErr != nil {
		return nil, f.subscriptionErr
	}
	if f.subscription == nil || f.subscription.ID != id {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return f.subscription, nil
}

func (f *fakeBackend) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.lastCheckoutParams = params
	if f.checkoutSession == nil {
		return nil, fmt.Errorf("checkout unavailable")
	}
	return f.checkoutSession, nil
}

func (f *fakeBackend) CreatePortalSession(_ context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	f.lastPortalParams = params
	if f.portalSession == nil {
		return nil, fmt.Errorf("portal unavailable")
	}
	return f.portalSession, nil
}

// spyMetrics counts RecordWebhookEvent calls per event type and status.
type spyMetrics struct {
	billing.NoopMetrics
	events map[string]int
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{events: make(map[string]int)}
}

func (m *spyMetrics) RecordWebhookEvent(_, eventType, status string) {
	m.events[eventType+"/"+status]++
}

func testProvider(t *testing.T, fs *fakeStore, api Backend, opts ...func(*Config)) *Provider {
	t.Helper()
	cfg := Config{
		Store:               fs,
		StripeWebhookSecret: testWebhookSecret,
		YearlyPriceID:       testYearlyPrice,
		MonthlyPriceID:      testMonthlyPrice,
		SuccessURL:          "https://app.example.com/success",
		CancelURL:           "https://app.example.com/cancel",
		Logger:              zerolog.Nop(),
		Backend:             api,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return p
}

func freeUser() *domain.User {
	return &domain.User{
		ID:    testUserID,
		Email: testUserEmail,
		Plan:  domain.PlanFree,
	}
}

func premiumUser() *domain.User {
	return &domain.User{
		ID:         testUserID,
		Email:      testUserEmail,
		CustomerID: testCustomerID,
		Plan:       domain.PlanPremium,
	}
}

func recurringSession(priceID string) *stripe.CheckoutSession {
	return &stripe.CheckoutSession{
		ID:              testSessionID,
		Customer:        &stripe.Customer{ID: testCustomerID},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: testUserEmail},
		LineItems: &stripe.LineItemList{
			Data: []*stripe.LineItem{
				{Price: &stripe.Price{ID: priceID, Type: stripe.PriceTypeRecurring}},
			},
		},
	}
}

// eventPayload builds the raw JSON body of a webhook event envelope.
func eventPayload(t *testing.T, eventID, eventType string, object interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal event object: %v", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"type":        eventType,
		"data":        map[string]json.RawMessage{"object": raw},
	})
	if err != nil {
		t.Fatalf("failed to marshal event payload: %v", err)
	}
	return payload
}

// signPayload computes a Stripe-Signature header over the exact body bytes.
func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
