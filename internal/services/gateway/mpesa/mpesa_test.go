package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tikiti/internal/services/gateway"
	"tikiti/internal/status"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "254712345678", want: "254712345678"},
		{in: "0712345678", want: "254712345678"},
		{in: "712345678", want: "254712345678"},
		{in: "112345678", want: "254112345678"},
		{in: "+254 712 345 678", want: "254712345678"},
		{in: "0712-345-678", want: "254712345678"},
		{in: "12345", wantErr: true},
		{in: "07123456789012", wantErr: true},
		{in: "07abc45678", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := FormatPhone(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestDarajaPassword(t *testing.T) {
	ts := darajaTimestamp(time.Date(2026, 3, 14, 10, 30, 45, 0, time.UTC))
	assert.Equal(t, "20260314103045", ts)

	password := darajaPassword("174379", "passkey", ts)
	decoded, err := base64.StdEncoding.DecodeString(password)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey20260314103045", string(decoded))
}

func TestRetryableQueryError(t *testing.T) {
	assert.True(t, retryableQueryError(429, "", ""))
	assert.True(t, retryableQueryError(401, "", ""))
	assert.True(t, retryableQueryError(500, "500.001.1001", ""))
	assert.True(t, retryableQueryError(500, "", "The transaction is being processed"))
	assert.True(t, retryableQueryError(403, "", "Spike arrest violation"))
	assert.False(t, retryableQueryError(400, "400.002.02", "Invalid CheckoutRequestID"))
	assert.False(t, retryableQueryError(500, "500.003", "Internal failure"))
}

type darajaFake struct {
	t *testing.T

	stkPushStatus int
	stkPushReply  map[string]any
	lastStkPush   map[string]any

	queryStatus int
	queryReply  map[string]any
}

func (f *darajaFake) server() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(f.t, ok)
		assert.Equal(f.t, "ck", user)
		assert.Equal(f.t, "cs", pass)
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok123", "expires_in": "3599"})
	})

	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer tok123", r.Header.Get("Authorization"))
		var form map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&form))
		f.lastStkPush = form

		if f.stkPushStatus != 0 {
			w.WriteHeader(f.stkPushStatus)
		}
		json.NewEncoder(w).Encode(f.stkPushReply)
	})

	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		if f.queryStatus != 0 {
			w.WriteHeader(f.queryStatus)
		}
		json.NewEncoder(w).Encode(f.queryReply)
	})

	return httptest.NewServer(mux)
}

func setupMpesa(t *testing.T, fake *darajaFake) *Mpesa {
	t.Helper()

	srv := fake.server()
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m, err := New(ctx, &Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		ShortCode:      "174379",
		Passkey:        "passkey",
	})
	require.NoError(t, err)
	return m
}

func TestMpesa_Initiate_Success(t *testing.T) {
	fake := &darajaFake{
		t: t,
		stkPushReply: map[string]any{
			"MerchantRequestID":   "mr-1",
			"CheckoutRequestID":   "ws_CO_191220251030",
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage":     "Confirm on your phone",
		},
	}
	m := setupMpesa(t, fake)

	result, err := m.Initiate(context.Background(), &gateway.InitiateRequest{
		BookingID:   "bk1",
		Amount:      decimal.RequireFromString("1500.50"),
		Phone:       "0712345678",
		Description: "2 ticket(s) for Sauti Fest",
		CallbackURL: "https://example.com/api/v1/payments/mpesa/webhook",
	})

	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220251030", result.Ref)
	assert.Equal(t, "Confirm on your phone", result.CustomerMessage)
	assert.Empty(t, result.RedirectURL, "push provider never redirects")

	assert.Equal(t, "254712345678", fake.lastStkPush["PhoneNumber"])
	assert.Equal(t, "1501", fake.lastStkPush["Amount"], "whole units, rounded up")
	assert.Equal(t, "bk1", fake.lastStkPush["AccountReference"])
	assert.Equal(t, "CustomerPayBillOnline", fake.lastStkPush["TransactionType"])
}

func TestMpesa_Initiate_NonZeroResponseCode(t *testing.T) {
	fake := &darajaFake{
		t: t,
		stkPushReply: map[string]any{
			"ResponseCode":        "1",
			"ResponseDescription": "Invalid shortcode",
		},
	}
	m := setupMpesa(t, fake)

	_, err := m.Initiate(context.Background(), &gateway.InitiateRequest{
		Amount: decimal.NewFromInt(100),
		Phone:  "0712345678",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid shortcode")
}

func TestMpesa_Initiate_BadPhone(t *testing.T) {
	fake := &darajaFake{t: t, stkPushReply: map[string]any{}}
	m := setupMpesa(t, fake)

	_, err := m.Initiate(context.Background(), &gateway.InitiateRequest{
		Amount: decimal.NewFromInt(100),
		Phone:  "not-a-phone",
	})
	assert.Error(t, err)
}

func TestMpesa_CheckTransaction(t *testing.T) {
	tests := []struct {
		name        string
		queryStatus int
		queryReply  map[string]any
		wantPending bool
		wantState   status.State
		wantErr     bool
	}{
		{
			name:       "completed",
			queryReply: map[string]any{"ResultCode": "0", "ResultDesc": "processed successfully"},
			wantState:  status.StateCompleted,
		},
		{
			name:       "cancelled by user",
			queryReply: map[string]any{"ResultCode": "1032", "ResultDesc": "Request cancelled by user"},
			wantState:  status.StateFailed,
		},
		{
			name:       "insufficient balance",
			queryReply: map[string]any{"ResultCode": "1", "ResultDesc": ""},
			wantState:  status.StateFailed,
		},
		{
			name:        "still being processed",
			queryStatus: 500,
			queryReply:  map[string]any{"errorCode": "500.001.1001", "errorMessage": "The transaction is being processed"},
			wantPending: true,
		},
		{
			name:        "rate limited",
			queryStatus: 429,
			queryReply:  map[string]any{"errorCode": "429", "errorMessage": "Spike arrest"},
			wantPending: true,
		},
		{
			name:        "no result recorded yet",
			queryReply:  map[string]any{"ResponseCode": "0", "ResultCode": ""},
			wantPending: true,
		},
		{
			name:        "terminal query error",
			queryStatus: 400,
			queryReply:  map[string]any{"errorCode": "400.002.02", "errorMessage": "Invalid CheckoutRequestID"},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &darajaFake{t: t, queryStatus: tt.queryStatus, queryReply: tt.queryReply}
			m := setupMpesa(t, fake)

			tx, err := m.CheckTransaction(context.Background(), "ws_CO_1")

			if tt.wantPending {
				assert.ErrorIs(t, err, status.ErrStillPending)
				return
			}
			if tt.wantErr {
				require.Error(t, err)
				assert.NotErrorIs(t, err, status.ErrStillPending)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, tx.State)
			assert.Equal(t, "ws_CO_1", tx.Ref)
		})
	}
}

func TestMpesa_CheckTransaction_TransportErrorIsPending(t *testing.T) {
	fake := &darajaFake{t: t, queryReply: map[string]any{}}
	srv := fake.server()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m, err := New(ctx, &Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		ShortCode:      "174379",
		Passkey:        "passkey",
	})
	require.NoError(t, err)

	srv.Close()

	_, err = m.CheckTransaction(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, status.ErrStillPending, "an unreachable provider is not a declined payment")
}

func TestMpesa_ParseWebhook_Completed(t *testing.T) {
	payload := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": "ws_CO_191220251030",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1501.00},
						{"Name": "MpesaReceiptNumber", "Value": "QHX7YTRF2K"},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`)

	m := &Mpesa{}
	tx, err := m.ParseWebhook(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220251030", tx.Ref)
	assert.Equal(t, status.StateCompleted, tx.State)
	assert.Equal(t, "QHX7YTRF2K", tx.Receipt)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("1501")))
	assert.True(t, tx.Terminal())
}

func TestMpesa_ParseWebhook_Declined(t *testing.T) {
	payload := []byte(`{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "ws_CO_2",
				"ResultCode": 1032,
				"ResultDesc": ""
			}
		}
	}`)

	m := &Mpesa{}
	tx, err := m.ParseWebhook(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, status.StateFailed, tx.State)
	assert.Equal(t, "cancelled by user", tx.Reason, "known codes get a readable reason")
}

func TestMpesa_ParseWebhook_MissingRef(t *testing.T) {
	m := &Mpesa{}
	_, err := m.ParseWebhook(context.Background(), []byte(`{"Body":{"stkCallback":{}}}`))
	assert.Error(t, err)
}

func TestMpesa_ParsePayoutResult(t *testing.T) {
	m := &Mpesa{}

	tx, err := m.ParsePayoutResult([]byte(`{
		"Result": {
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"ConversationID": "AG_20260314_0001",
			"TransactionID": "QHX8ZZTOP1"
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "AG_20260314_0001", tx.Ref)
	assert.Equal(t, status.StateCompleted, tx.State)
	assert.Equal(t, "QHX8ZZTOP1", tx.Receipt)

	tx, err = m.ParsePayoutResult([]byte(`{
		"Result": {
			"ResultCode": 2001,
			"ResultDesc": "The initiator information is invalid.",
			"ConversationID": "AG_20260314_0002"
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, status.StateFailed, tx.State)
	assert.Equal(t, "The initiator information is invalid.", tx.Reason)

	_, err = m.ParsePayoutResult([]byte(`{"Result":{}}`))
	assert.Error(t, err)
}

func TestMpesa_Payout(t *testing.T) {
	var gotForm map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok123", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/b2c/v1/paymentrequest", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotForm))
		json.NewEncoder(w).Encode(map[string]any{
			"ConversationID": "AG_20260314_0042",
			"ResponseCode":   "0",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m, err := New(ctx, &Config{
		BaseURL:            srv.URL,
		ConsumerKey:        "ck",
		ConsumerSecret:     "cs",
		ShortCode:          "174379",
		Passkey:            "passkey",
		InitiatorName:      "disburse",
		SecurityCredential: "sec-cred",
	})
	require.NoError(t, err)

	ref, err := m.Payout(context.Background(), &PayoutRequest{
		Phone:     "0712345678",
		Amount:    decimal.RequireFromString("1350.25"),
		Remarks:   "ticket sales Sauti Fest",
		ResultURL: "https://example.com/api/v1/payments/mpesa/payout-result",
	})

	require.NoError(t, err)
	assert.Equal(t, "AG_20260314_0042", ref)
	assert.Equal(t, "disburse", gotForm["InitiatorName"])
	assert.Equal(t, "BusinessPayment", gotForm["CommandID"])
	assert.Equal(t, "1351", gotForm["Amount"])
	assert.Equal(t, "254712345678", gotForm["PartyB"])
	assert.Equal(t, "174379", gotForm["PartyA"], "shortcode is the paying party")
}
