package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tikiti/utils"
)

type Client struct {
	// baseURL is the base url of the Pesapal v3 API.
	baseURL string

	// consumerKey and consumerSecret authenticate the token request.
	consumerKey    string
	consumerSecret string

	// accessToken is the cached bearer token. Pesapal tokens live ~5 minutes.
	accessToken string

	// mu guards accessToken.
	mu sync.Mutex

	// toggleTokenRefresher notifies the refresher loop to renew the token now.
	toggleTokenRefresher chan struct{}

	// breaker trips when Pesapal keeps failing outright.
	breaker *utils.CircuitBreaker

	hc *http.Client
}

func newClient(_ context.Context, cfg *Config) *Client {
	return &Client{
		baseURL:        cfg.BaseURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,

		// buffered so a 401 never blocks the request path.
		toggleTokenRefresher: make(chan struct{}, 1),

		breaker: utils.NewCircuitBreaker("pesapal"),

		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// notifyAccessTokenExpired renews the short-lived token ahead of its expiry
// and on every 401 kick, retrying with exponential backoff.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(4 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			slog.Info("pesapal: toggleTokenRefresher => renewing token")
		}

		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				slog.Error("pesapal: notifyAccessTokenExpired", "error", err)

				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

func (c *Client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// replyError is the error object Pesapal embeds in every reply.
type replyError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *replyError) empty() bool {
	return e == nil || (e.Code == "" && e.Message == "")
}

// connect exchanges the consumer credentials for a bearer token.
func (c *Client) connect(ctx context.Context) (string, error) {
	body := fmt.Sprintf(`{"consumer_key":%q,"consumer_secret":%q}`, c.consumerKey, c.consumerSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/Auth/RequestToken", bytes.NewReader([]byte(body)))
	if err != nil {
		return "", fmt.Errorf("connectPesapal: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("connectPesapal: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("connectPesapal: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply struct {
		Token      string      `json:"token"`
		ExpiryDate string      `json:"expiryDate"`
		Error      *replyError `json:"error"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("connectPesapal: json.Decode: %w", err)
	}
	if !reply.Error.empty() || reply.Token == "" {
		return "", fmt.Errorf("connectPesapal: reply.Error: %+v", reply.Error)
	}

	return "Bearer " + reply.Token, nil
}

// call performs an authenticated JSON round trip. A 401 kicks the token
// refresher before the response is handed back.
func (c *Client) call(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("pesapal call: json.Marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("pesapal call: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.getAccessToken())

	var resp *http.Response
	err = c.breaker.Do(func() error {
		r, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("pesapal call: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		select {
		case c.toggleTokenRefresher <- struct{}{}:
		default:
		}
	}

	rbody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("pesapal call: io.ReadAll: %w", err)
	}

	return resp.StatusCode, rbody, nil
}

// registerIPN registers the notification endpoint and returns its ipn_id,
// required on every submitted order.
func (c *Client) registerIPN(ctx context.Context, ipnURL string) (string, error) {
	form := map[string]string{
		"url":                   ipnURL,
		"ipn_notification_type": "POST",
	}

	code, rbody, err := c.call(ctx, http.MethodPost, "/api/URLSetup/RegisterIPN", form)
	if err != nil {
		return "", fmt.Errorf("registerIPN: %w", err)
	}

	var reply struct {
		IpnID string      `json:"ipn_id"`
		URL   string      `json:"url"`
		Error *replyError `json:"error"`
	}
	if err := json.Unmarshal(rbody, &reply); err != nil {
		return "", fmt.Errorf("registerIPN: json.Unmarshal: %w", err)
	}
	if code != http.StatusOK || !reply.Error.empty() || reply.IpnID == "" {
		return "", fmt.Errorf("registerIPN: status %d, error: %+v", code, reply.Error)
	}

	return reply.IpnID, nil
}

type orderForm struct {
	ID             string `json:"id"`
	Currency       string `json:"currency"`
	Amount         string `json:"amount"`
	Description    string `json:"description"`
	CallbackURL    string `json:"callback_url"`
	NotificationID string `json:"notification_id"`
	BillingAddress struct {
		EmailAddress string `json:"email_address"`
		PhoneNumber  string `json:"phone_number"`
		FirstName    string `json:"first_name"`
		LastName     string `json:"last_name"`
	} `json:"billing_address"`
}

type orderReply struct {
	OrderTrackingID   string      `json:"order_tracking_id"`
	MerchantReference string      `json:"merchant_reference"`
	RedirectURL       string      `json:"redirect_url"`
	Error             *replyError `json:"error"`
	Status            string      `json:"status"`
}

// submitOrder creates the hosted-checkout order.
func (c *Client) submitOrder(ctx context.Context, form *orderForm) (*orderReply, error) {
	code, rbody, err := c.call(ctx, http.MethodPost, "/api/Transactions/SubmitOrderRequest", form)
	if err != nil {
		return nil, fmt.Errorf("submitOrder: %w", err)
	}

	var reply orderReply
	if err := json.Unmarshal(rbody, &reply); err != nil {
		return nil, fmt.Errorf("submitOrder: json.Unmarshal: %w", err)
	}
	if code != http.StatusOK || !reply.Error.empty() || reply.OrderTrackingID == "" {
		return nil, fmt.Errorf("submitOrder: status %d, error: %+v", code, reply.Error)
	}

	return &reply, nil
}

type statusReply struct {
	PaymentStatusDescription string      `json:"payment_status_description"`
	StatusCode               int         `json:"status_code"`
	Amount                   json.Number `json:"amount"`
	ConfirmationCode         string      `json:"confirmation_code"`
	MerchantReference        string      `json:"merchant_reference"`
	PaymentMethod            string      `json:"payment_method"`
	Description              string      `json:"description"`
	Error                    *replyError `json:"error"`
}

// getTransactionStatus fetches the order's current state by tracking id.
func (c *Client) getTransactionStatus(ctx context.Context, orderTrackingID string) (int, *statusReply, error) {
	path := "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(orderTrackingID)

	code, rbody, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("getTransactionStatus: %w", err)
	}

	var reply statusReply
	if err := json.Unmarshal(rbody, &reply); err != nil {
		return code, nil, fmt.Errorf("getTransactionStatus: json.Unmarshal: %w", err)
	}

	return code, &reply, nil
}
