package gateway

import (
	"context"
	"fmt"
	"sort"

	"tikiti/internal/status"

	"github.com/shopspring/decimal"
)

// Provider identifies a payment provider integration.
type Provider string

const (
	ProviderMpesa   Provider = "mpesa"
	ProviderPesapal Provider = "pesapal"
)

// InitiateRequest carries everything a provider needs to start a payment.
type InitiateRequest struct {
	BookingID   string          `json:"booking_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Phone       string          `json:"phone"`
	Email       string          `json:"email"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	Description string          `json:"description,omitempty"`

	// CallbackURL is where the provider should deliver its webhook for this
	// payment.
	CallbackURL string `json:"callback_url"`
}

// InitiateResult is the provider's answer to a successful initiation.
type InitiateResult struct {
	// Ref is the correlation id used for all later polling and webhook
	// matching.
	Ref string `json:"ref"`

	// RedirectURL is set by redirect providers only; the buyer must be sent
	// there to pay. Push providers leave it empty and prompt the buyer's
	// device directly.
	RedirectURL string `json:"redirect_url,omitempty"`

	// CustomerMessage is a provider-supplied hint shown to the buyer.
	CustomerMessage string `json:"customer_message,omitempty"`
}

// Gateway is the common contract both provider adapters implement.
//
// CheckTransaction returns status.ErrStillPending for every retryable
// condition (rate limiting, "still processing", transient auth failures) so
// that callers keep waiting instead of surfacing a premature failure.
type Gateway interface {
	Provider() Provider

	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error)

	CheckTransaction(ctx context.Context, ref string) (*status.Transaction, error)

	// ParseWebhook normalizes a provider's native callback payload. It may
	// need a network round trip (pesapal IPNs carry no outcome).
	ParseWebhook(ctx context.Context, payload []byte) (*status.Transaction, error)

	Close(ctx context.Context) error
}

// Registry holds the configured gateway instances.
type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[Provider]Gateway)}
}

func (r *Registry) Register(gw Gateway) {
	r.gateways[gw.Provider()] = gw
}

func (r *Registry) Get(provider Provider) (Gateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("gateway: provider %s not registered", provider)
	}
	return gw, nil
}

func (r *Registry) Providers() []Provider {
	providers := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

func (r *Registry) Close(ctx context.Context) error {
	var firstErr error
	for _, gw := range r.gateways {
		if err := gw.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
