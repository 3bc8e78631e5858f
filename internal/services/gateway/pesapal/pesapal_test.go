package pesapal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tikiti/internal/services/gateway"
	"tikiti/internal/status"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pesapalFake struct {
	t *testing.T

	ipnRegistrations atomic.Int64
	lastOrder        map[string]any

	statusHTTP  int
	statusReply map[string]any
}

func (f *pesapalFake) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(f.t, "ck", creds["consumer_key"])
		assert.Equal(f.t, "cs", creds["consumer_secret"])
		json.NewEncoder(w).Encode(map[string]any{"token": "ptok", "expiryDate": "2026-03-14T10:35:00Z"})
	})

	mux.HandleFunc("/api/URLSetup/RegisterIPN", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer ptok", r.Header.Get("Authorization"))
		var form map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&form))
		assert.Equal(f.t, "POST", form["ipn_notification_type"])

		f.ipnRegistrations.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"ipn_id": "ipn-123", "url": form["url"]})
	})

	mux.HandleFunc("/api/Transactions/SubmitOrderRequest", func(w http.ResponseWriter, r *http.Request) {
		var form map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&form))
		f.lastOrder = form

		json.NewEncoder(w).Encode(map[string]any{
			"order_tracking_id":  "track-42",
			"merchant_reference": form["id"],
			"redirect_url":       "https://pay.pesapal.test/iframe/track-42",
			"status":             "200",
		})
	})

	mux.HandleFunc("/api/Transactions/GetTransactionStatus", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "track-42", r.URL.Query().Get("orderTrackingId"))
		if f.statusHTTP != 0 {
			w.WriteHeader(f.statusHTTP)
		}
		json.NewEncoder(w).Encode(f.statusReply)
	})

	return httptest.NewServer(mux)
}

func setupPesapal(t *testing.T, fake *pesapalFake) *Pesapal {
	t.Helper()

	srv := fake.server()
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p, err := New(ctx, &Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Currency:       "KES",
	})
	require.NoError(t, err)
	return p
}

func TestPesapal_Initiate_ReturnsRedirect(t *testing.T) {
	fake := &pesapalFake{t: t}
	p := setupPesapal(t, fake)

	result, err := p.Initiate(context.Background(), &gateway.InitiateRequest{
		BookingID:   "bk1",
		Amount:      decimal.RequireFromString("1500.5"),
		Email:       "amina@example.com",
		Phone:       "0712345678",
		FirstName:   "Amina",
		LastName:    "Odhiambo",
		Description: "2 ticket(s) for Sauti Fest",
		CallbackURL: "https://example.com/api/v1/payments/pesapal/webhook",
	})

	require.NoError(t, err)
	assert.Equal(t, "track-42", result.Ref)
	assert.Equal(t, "https://pay.pesapal.test/iframe/track-42", result.RedirectURL)

	assert.Equal(t, "bk1", fake.lastOrder["id"])
	assert.Equal(t, "1500.50", fake.lastOrder["amount"], "two decimal places")
	assert.Equal(t, "KES", fake.lastOrder["currency"])
	assert.Equal(t, "ipn-123", fake.lastOrder["notification_id"])

	billing, ok := fake.lastOrder["billing_address"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "amina@example.com", billing["email_address"])
	assert.Equal(t, "Amina", billing["first_name"])
}

func TestPesapal_Initiate_RegistersIPNOnce(t *testing.T) {
	fake := &pesapalFake{t: t}
	p := setupPesapal(t, fake)

	req := &gateway.InitiateRequest{
		BookingID:   "bk1",
		Amount:      decimal.NewFromInt(100),
		CallbackURL: "https://example.com/api/v1/payments/pesapal/webhook",
	}

	for i := 0; i < 3; i++ {
		_, err := p.Initiate(context.Background(), req)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), fake.ipnRegistrations.Load(), "ipn_id is cached after first registration")
}

func TestPesapal_CheckTransaction(t *testing.T) {
	tests := []struct {
		name        string
		httpStatus  int
		reply       map[string]any
		wantPending bool
		wantState   status.State
		wantErr     error
	}{
		{
			name: "completed",
			reply: map[string]any{
				"status_code":       1,
				"amount":            1500.50,
				"confirmation_code": "PSP-CONF-9",
			},
			wantState: status.StateCompleted,
		},
		{
			name: "failed",
			reply: map[string]any{
				"status_code":                2,
				"payment_status_description": "Failed",
			},
			wantState: status.StateFailed,
		},
		{
			name: "reversed counts as failed",
			reply: map[string]any{
				"status_code": 3,
				"description": "Chargeback",
			},
			wantState: status.StateFailed,
		},
		{
			name:      "buyer has not finished checkout",
			reply:     map[string]any{"status_code": 0},
			wantState: status.StatePending,
		},
		{
			name:        "token expired is retryable",
			httpStatus:  401,
			reply:       map[string]any{},
			wantPending: true,
		},
		{
			name:        "server error is retryable",
			httpStatus:  503,
			reply:       map[string]any{},
			wantPending: true,
		},
		{
			name: "unknown tracking id",
			reply: map[string]any{
				"error": map[string]any{"code": "payment_details_not_found", "message": "no such order"},
			},
			wantErr: status.ErrRefNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &pesapalFake{t: t, statusHTTP: tt.httpStatus, statusReply: tt.reply}
			p := setupPesapal(t, fake)

			tx, err := p.CheckTransaction(context.Background(), "track-42")

			if tt.wantPending {
				assert.ErrorIs(t, err, status.ErrStillPending)
				return
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, tx.State)
			assert.Equal(t, "track-42", tx.Ref)
		})
	}
}

func TestPesapal_CheckTransaction_CompletedCarriesReceipt(t *testing.T) {
	fake := &pesapalFake{t: t, statusReply: map[string]any{
		"status_code":       1,
		"amount":            1500.50,
		"confirmation_code": "PSP-CONF-9",
	}}
	p := setupPesapal(t, fake)

	tx, err := p.CheckTransaction(context.Background(), "track-42")

	require.NoError(t, err)
	assert.Equal(t, "PSP-CONF-9", tx.Receipt)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("1500.5")))
	assert.True(t, tx.Terminal())
}

func TestPesapal_ParseWebhook_FetchesOutcome(t *testing.T) {
	fake := &pesapalFake{t: t, statusReply: map[string]any{
		"status_code":       1,
		"confirmation_code": "PSP-CONF-9",
	}}
	p := setupPesapal(t, fake)

	payload := []byte(`{
		"OrderTrackingId": "track-42",
		"OrderMerchantReference": "bk1",
		"OrderNotificationType": "IPNCHANGE"
	}`)

	tx, err := p.ParseWebhook(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, status.StateCompleted, tx.State, "the IPN itself carries no outcome; it is fetched")
	assert.Equal(t, "track-42", tx.Ref)
}

func TestPesapal_ParseWebhook_StatusFetchPendingFallsBack(t *testing.T) {
	fake := &pesapalFake{t: t, statusHTTP: 503, statusReply: map[string]any{}}
	p := setupPesapal(t, fake)

	tx, err := p.ParseWebhook(context.Background(), []byte(`{"OrderTrackingId":"track-42"}`))

	require.NoError(t, err)
	assert.Equal(t, status.StatePending, tx.State, "unresolvable IPN degrades to a non-terminal signal")
}

func TestPesapal_ParseWebhook_MissingTrackingID(t *testing.T) {
	p := &Pesapal{}
	_, err := p.ParseWebhook(context.Background(), []byte(`{"OrderNotificationType":"IPNCHANGE"}`))
	assert.Error(t, err)
}
