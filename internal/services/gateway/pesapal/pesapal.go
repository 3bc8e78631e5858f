package pesapal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"tikiti/internal/services/gateway"
	"tikiti/internal/status"

	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL        string `json:"baseUrl"`
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
	Currency       string `json:"currency"`
}

// Pesapal is the redirect adapter: initiation registers the IPN endpoint
// (once), submits the order and hands back a hosted-checkout URL. The outcome
// is only ever resolved against the order tracking id, via IPN or polling.
type Pesapal struct {
	currency string

	// ipnID is the registered notification endpoint id, cached after the
	// first successful registration.
	ipnID string
	ipnMu sync.Mutex

	client *Client
}

// New builds the adapter and starts the token refresher. A failed first token
// fetch is not fatal; the refresher keeps retrying in the background.
func New(ctx context.Context, cfg *Config) (*Pesapal, error) {
	client := newClient(ctx, cfg)

	token, err := client.connect(ctx)
	if err != nil {
		slog.Warn("pesapal: initial token fetch failed, refresher will retry", "error", err)
		select {
		case client.toggleTokenRefresher <- struct{}{}:
		default:
		}
	} else {
		client.setAccessToken(token)
	}

	go client.notifyAccessTokenExpired(ctx)

	return &Pesapal{
		currency: cfg.Currency,
		client:   client,
	}, nil
}

func (p *Pesapal) Provider() gateway.Provider {
	return gateway.ProviderPesapal
}

// ensureIPN registers the notification endpoint on first use.
func (p *Pesapal) ensureIPN(ctx context.Context, ipnURL string) (string, error) {
	p.ipnMu.Lock()
	defer p.ipnMu.Unlock()

	if p.ipnID != "" {
		return p.ipnID, nil
	}

	ipnID, err := p.client.registerIPN(ctx, ipnURL)
	if err != nil {
		return "", err
	}
	p.ipnID = ipnID

	return ipnID, nil
}

// Initiate submits the order and returns the checkout URL the buyer must be
// redirected to. The initiation response never carries an outcome.
func (p *Pesapal) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	ipnID, err := p.ensureIPN(ctx, req.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("pesapal initiate: %w", err)
	}

	form := &orderForm{
		ID:             req.BookingID,
		Currency:       p.currency,
		Amount:         req.Amount.StringFixed(2),
		Description:    req.Description,
		CallbackURL:    req.CallbackURL,
		NotificationID: ipnID,
	}
	if form.Description == "" {
		form.Description = "ticket purchase"
	}
	form.BillingAddress.EmailAddress = req.Email
	form.BillingAddress.PhoneNumber = req.Phone
	form.BillingAddress.FirstName = req.FirstName
	form.BillingAddress.LastName = req.LastName

	reply, err := p.client.submitOrder(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("pesapal initiate: %w", err)
	}

	return &gateway.InitiateResult{
		Ref:         reply.OrderTrackingID,
		RedirectURL: reply.RedirectURL,
	}, nil
}

// CheckTransaction resolves the order state by tracking id. Pesapal's
// status_code: 0 invalid/not yet processed, 1 completed, 2 failed,
// 3 reversed.
func (p *Pesapal) CheckTransaction(ctx context.Context, ref string) (*status.Transaction, error) {
	httpStatus, reply, err := p.client.getTransactionStatus(ctx, ref)
	if err != nil {
		// Transport-level trouble: keep polling, the IPN may still win.
		return nil, status.ErrStillPending
	}

	if httpStatus != http.StatusOK {
		if httpStatus == http.StatusUnauthorized || httpStatus == http.StatusTooManyRequests || httpStatus >= 500 {
			return nil, status.ErrStillPending
		}
		return nil, fmt.Errorf("pesapal check: status %d, error: %+v", httpStatus, reply.Error)
	}
	if !reply.Error.empty() {
		if strings.Contains(reply.Error.Code, "not_found") {
			return nil, status.ErrRefNotFound
		}
		// Pesapal reports transient processing states through the error
		// object as well; keep waiting.
		return nil, status.ErrStillPending
	}

	tx := &status.Transaction{
		Ref:        ref,
		Receipt:    reply.ConfirmationCode,
		OccurredAt: time.Now(),
	}
	if amount, err := decimal.NewFromString(reply.Amount.String()); err == nil {
		tx.Amount = amount
	}

	switch reply.StatusCode {
	case 1:
		tx.State = status.StateCompleted
	case 2, 3:
		tx.State = status.StateFailed
		tx.Reason = reply.PaymentStatusDescription
		if tx.Reason == "" {
			tx.Reason = reply.Description
		}
	default:
		// 0 means the buyer has not finished checkout.
		tx.State = status.StatePending
	}

	return tx, nil
}

// ipnPayload is the provider's native IPN body. It names the order but never
// carries the outcome.
type ipnPayload struct {
	OrderTrackingID       string `json:"OrderTrackingId"`
	OrderMerchantRef      string `json:"OrderMerchantReference"`
	OrderNotificationType string `json:"OrderNotificationType"`
}

// ParseWebhook handles an IPN: it identifies the order, then fetches the
// actual state from the provider.
func (p *Pesapal) ParseWebhook(ctx context.Context, payload []byte) (*status.Transaction, error) {
	var ipn ipnPayload
	if err := json.Unmarshal(payload, &ipn); err != nil {
		return nil, fmt.Errorf("pesapal webhook: json.Unmarshal: %w", err)
	}
	if ipn.OrderTrackingID == "" {
		return nil, fmt.Errorf("pesapal webhook: missing OrderTrackingId")
	}

	tx, err := p.CheckTransaction(ctx, ipn.OrderTrackingID)
	if err != nil {
		if err == status.ErrStillPending {
			return &status.Transaction{
				Ref:        ipn.OrderTrackingID,
				State:      status.StatePending,
				OccurredAt: time.Now(),
			}, nil
		}
		return nil, fmt.Errorf("pesapal webhook: %w", err)
	}

	return tx, nil
}

func (p *Pesapal) Close(_ context.Context) error {
	return nil
}
