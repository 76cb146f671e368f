// Package api wires the HTTP surface: the Stripe webhook endpoint and the
// small JSON API the web application calls for checkout, portal and plan
// status.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kmirel/planhook/internal/billing"
	"github.com/kmirel/planhook/internal/billing/httpx"
	stripeprovider "github.com/kmirel/planhook/internal/billing/stripe"
	"github.com/kmirel/planhook/internal/domain"
	"github.com/kmirel/planhook/internal/store"
)

// Handler serves the billing JSON endpoints.
type Handler struct {
	provider *stripeprovider.Provider
	store    store.Store
	log      zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(provider *stripeprovider.Provider, st store.Store, log zerolog.Logger) *Handler {
	return &Handler{provider: provider, store: st, log: log}
}

type checkoutRequest struct {
	Email  string        `json:"email"`
	Period domain.Period `json:"period"`
}

type portalRequest struct {
	Email     string `json:"email"`
	ReturnURL string `json:"return_url"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Plan         domain.Plan          `json:"plan"`
	Active       bool                 `json:"active"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
}

// HandleCheckout creates a Stripe checkout session for a known user.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	url, err := h.provider.CheckoutURL(r.Context(), req.Email, req.Period)
	if err != nil {
		h.handleError(w, err, "failed to create checkout session")
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, urlResponse{URL: url})
}

// HandlePortal creates a Stripe customer portal session for a known user.
func (h *Handler) HandlePortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	url, err := h.provider.PortalURL(r.Context(), req.Email, req.ReturnURL)
	if err != nil {
		h.handleError(w, err, "failed to create portal session")
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, urlResponse{URL: url})
}

// HandleStatus returns the user's plan and subscription row.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := h.store.UserByEmail(r.Context(), email)
	if err != nil {
		h.handleError(w, err, "failed to load plan status")
		return
	}

	resp := statusResponse{Plan: user.Plan}
	sub, err := h.store.SubscriptionByUserID(r.Context(), user.ID)
	switch {
	case err == nil:
		resp.Subscription = sub
		resp.Active = sub.Active(time.Now())
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		// No row yet; plan alone is the answer.
	default:
		h.handleError(w, err, "failed to load plan status")
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := httpx.ReadBodyStrict(w, r, 64*1024)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) handleError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, billing.ErrCustomerNotFound):
		h.writeError(w, http.StatusConflict, "user has no billing customer")
	case errors.Is(err, billing.ErrUnknownPrice):
		h.writeError(w, http.StatusBadRequest, "unknown billing period")
	case errors.Is(err, billing.ErrProviderAPIError):
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusBadGateway, "billing provider unavailable")
	default:
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, msg)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	_ = httpx.WriteJSON(w, code, errorResponse{Error: msg})
}
