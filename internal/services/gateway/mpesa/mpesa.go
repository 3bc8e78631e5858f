package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tikiti/internal/services/gateway"
	"tikiti/internal/status"

	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL        string `json:"baseUrl"`
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
	ShortCode      string `json:"shortCode"`
	Passkey        string `json:"passkey"`

	// B2C payout credentials.
	InitiatorName      string `json:"initiatorName"`
	SecurityCredential string `json:"securityCredential"`
}

// Mpesa is the push-payment adapter: initiation triggers an STK prompt on the
// buyer's handset, the outcome arrives via callback or stkQuery polling.
type Mpesa struct {
	initiatorName      string
	securityCredential string

	client *Client
}

// New builds the adapter and starts the token refresher. A failed first token
// fetch is not fatal; the refresher keeps retrying in the background.
func New(ctx context.Context, cfg *Config) (*Mpesa, error) {
	client := newClient(ctx, cfg)

	token, err := client.connect(ctx)
	if err != nil {
		slog.Warn("mpesa: initial token fetch failed, refresher will retry", "error", err)
		select {
		case client.toggleTokenRefresher <- struct{}{}:
		default:
		}
	} else {
		client.setAccessToken(token)
	}

	go client.notifyAccessTokenExpired(ctx)

	return &Mpesa{
		initiatorName:      cfg.InitiatorName,
		securityCredential: cfg.SecurityCredential,
		client:             client,
	}, nil
}

func (m *Mpesa) Provider() gateway.Provider {
	return gateway.ProviderMpesa
}

// Initiate fires the STK push. A non-zero response code is a hard initiation
// failure; nothing was charged and nothing will call back.
func (m *Mpesa) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	phone, err := FormatPhone(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("mpesa initiate: %w", err)
	}

	desc := req.Description
	if desc == "" {
		desc = "ticket purchase"
	}

	// Daraja takes whole units only.
	amount := req.Amount.Ceil().String()

	reply, err := m.client.stkPush(ctx, phone, amount, req.BookingID, desc, req.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("mpesa initiate: %w", err)
	}
	if reply.ResponseCode != "0" {
		return nil, fmt.Errorf("mpesa initiate: response code %q: %s", reply.ResponseCode, reply.ResponseDescription)
	}

	return &gateway.InitiateResult{
		Ref:             reply.CheckoutRequestID,
		CustomerMessage: reply.CustomerMessage,
	}, nil
}

// CheckTransaction polls the STK query endpoint. Every retryable provider
// condition comes back as status.ErrStillPending.
func (m *Mpesa) CheckTransaction(ctx context.Context, ref string) (*status.Transaction, error) {
	httpStatus, reply, err := m.client.stkQuery(ctx, ref)
	if err != nil {
		// Transport-level trouble: keep polling, the webhook may still win.
		return nil, status.ErrStillPending
	}

	if reply.ErrorCode != "" || httpStatus != 200 {
		if retryableQueryError(httpStatus, reply.ErrorCode, reply.ErrorMessage) {
			return nil, status.ErrStillPending
		}
		return nil, fmt.Errorf("mpesa check: status %d, code %q: %s", httpStatus, reply.ErrorCode, reply.ErrorMessage)
	}
	if reply.ResultCode == "" {
		// Accepted but no result recorded yet.
		return nil, status.ErrStillPending
	}

	return resultToTransaction(ref, reply.ResultCode, reply.ResultDesc, decimal.Zero), nil
}

// stkCallback is the provider's native webhook payload.
type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (m *Mpesa) ParseWebhook(_ context.Context, payload []byte) (*status.Transaction, error) {
	var cb stkCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("mpesa webhook: json.Unmarshal: %w", err)
	}

	sc := cb.Body.StkCallback
	if sc.CheckoutRequestID == "" {
		return nil, fmt.Errorf("mpesa webhook: missing CheckoutRequestID")
	}

	amount := decimal.Zero
	receipt := ""
	for _, item := range sc.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			_ = json.Unmarshal(item.Value, &amount)
		case "MpesaReceiptNumber":
			_ = json.Unmarshal(item.Value, &receipt)
		}
	}

	tx := resultToTransaction(sc.CheckoutRequestID, sc.ResultCode.String(), sc.ResultDesc, amount)
	tx.Receipt = receipt
	return tx, nil
}

// resultToTransaction maps a Daraja result code to the normalized shape.
func resultToTransaction(ref, resultCode, resultDesc string, amount decimal.Decimal) *status.Transaction {
	tx := &status.Transaction{
		Ref:        ref,
		Amount:     amount,
		OccurredAt: time.Now(),
	}

	if resultCode == "0" {
		tx.State = status.StateCompleted
		return tx
	}

	tx.State = status.StateFailed
	tx.Reason = resultDesc
	if desc, ok := resultDescriptions[resultCode]; ok && tx.Reason == "" {
		tx.Reason = desc
	}
	return tx
}

type PayoutRequest struct {
	Phone     string
	Amount    decimal.Decimal
	Remarks   string
	ResultURL string
}

// Payout sends the organizer their share via B2C. The returned conversation
// id correlates the asynchronous result callback.
func (m *Mpesa) Payout(ctx context.Context, req *PayoutRequest) (string, error) {
	phone, err := FormatPhone(req.Phone)
	if err != nil {
		return "", fmt.Errorf("mpesa payout: %w", err)
	}

	return m.client.b2c(ctx, &b2cForm{
		InitiatorName:      m.initiatorName,
		SecurityCredential: m.securityCredential,
		CommandID:          "BusinessPayment",
		Amount:             req.Amount.Ceil().String(),
		PartyB:             phone,
		Remarks:            req.Remarks,
		QueueTimeOutURL:    req.ResultURL,
		ResultURL:          req.ResultURL,
		Occasion:           "organizer payout",
	})
}

// ParsePayoutResult normalizes the B2C result callback. Ref carries the
// conversation id returned at payout initiation.
func (m *Mpesa) ParsePayoutResult(payload []byte) (*status.Transaction, error) {
	var cb struct {
		Result struct {
			ResultCode     json.Number `json:"ResultCode"`
			ResultDesc     string      `json:"ResultDesc"`
			ConversationID string      `json:"ConversationID"`
			TransactionID  string      `json:"TransactionID"`
		} `json:"Result"`
	}
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("mpesa payout result: json.Unmarshal: %w", err)
	}
	if cb.Result.ConversationID == "" {
		return nil, fmt.Errorf("mpesa payout result: missing ConversationID")
	}

	tx := &status.Transaction{
		Ref:        cb.Result.ConversationID,
		Receipt:    cb.Result.TransactionID,
		OccurredAt: time.Now(),
	}
	if cb.Result.ResultCode.String() == "0" {
		tx.State = status.StateCompleted
	} else {
		tx.State = status.StateFailed
		tx.Reason = cb.Result.ResultDesc
	}
	return tx, nil
}

func (m *Mpesa) Close(_ context.Context) error {
	return nil
}
