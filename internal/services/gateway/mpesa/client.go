package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tikiti/utils"
)

type Client struct {
	// baseURL is the base url of the Daraja API.
	baseURL string

	// consumerKey and consumerSecret authenticate the OAuth token request.
	consumerKey    string
	consumerSecret string

	// shortCode and passkey sign STK push and query requests.
	shortCode string
	passkey   string

	// accessToken is the cached bearer token, "Bearer xxx" form.
	accessToken string

	// mu guards accessToken.
	mu sync.Mutex

	// toggleTokenRefresher notifies the refresher loop to renew the token now.
	toggleTokenRefresher chan struct{}

	// breaker trips when Daraja keeps failing outright.
	breaker *utils.CircuitBreaker

	hc *http.Client
}

func newClient(_ context.Context, cfg *Config) *Client {
	return &Client{
		baseURL:        cfg.BaseURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortCode:      cfg.ShortCode,
		passkey:        cfg.Passkey,

		// buffered so a 401 never blocks the request path.
		toggleTokenRefresher: make(chan struct{}, 1),

		breaker: utils.NewCircuitBreaker("mpesa"),

		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// notifyAccessTokenExpired renews the token shortly before its hour runs out
// and whenever a 401 kicks the toggle channel, retrying with exponential
// backoff.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(45 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			slog.Info("mpesa: toggleTokenRefresher => renewing token")
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
				slog.Error("mpesa: notifyAccessTokenExpired", "error", err)

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

// connect performs the OAuth client-credentials exchange.
func (c *Client) connect(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("connectMpesa: http.NewReq: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("connectMpesa: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("connectMpesa: resp.StatusCode: %d, resp.Body: %s", resp.StatusCode, rbody)
	}

	var reply struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("connectMpesa: json.Decode: %w", err)
	}
	if reply.AccessToken == "" {
		return "", errors.New("connectMpesa: empty access_token in reply")
	}

	return "Bearer " + reply.AccessToken, nil
}

// call posts a JSON payload to path with the cached bearer token. A 401 kicks
// the token refresher before the response is handed back to the caller.
func (c *Client) call(ctx context.Context, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa call: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("mpesa call: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
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
		return 0, nil, fmt.Errorf("mpesa call: http.Do: %w", err)
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
		return resp.StatusCode, nil, fmt.Errorf("mpesa call: io.ReadAll: %w", err)
	}

	return resp.StatusCode, rbody, nil
}

type stkPushForm struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushReply struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// stkPush submits the push prompt to the buyer's handset.
func (c *Client) stkPush(ctx context.Context, phone, amount, reference, desc, callbackURL string) (*stkPushReply, error) {
	ts := darajaTimestamp(time.Now())
	form := &stkPushForm{
		BusinessShortCode: c.shortCode,
		Password:          darajaPassword(c.shortCode, c.passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.shortCode,
		PhoneNumber:       phone,
		CallBackURL:       callbackURL,
		AccountReference:  reference,
		TransactionDesc:   desc,
	}

	code, rbody, err := c.call(ctx, "/mpesa/stkpush/v1/processrequest", form)
	if err != nil {
		return nil, fmt.Errorf("stkPush: %w", err)
	}

	var reply stkPushReply
	if err := json.Unmarshal(rbody, &reply); err != nil {
		return nil, fmt.Errorf("stkPush: json.Unmarshal: %w", err)
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("stkPush: status %d: %s %s", code, reply.ErrorCode, reply.ErrorMessage)
	}

	return &reply, nil
}

type stkQueryReply struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`

	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// stkQuery asks Daraja for the outcome of an earlier push.
func (c *Client) stkQuery(ctx context.Context, checkoutRequestID string) (int, *stkQueryReply, error) {
	ts := darajaTimestamp(time.Now())
	form := map[string]string{
		"BusinessShortCode": c.shortCode,
		"Password":          darajaPassword(c.shortCode, c.passkey, ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}

	code, rbody, err := c.call(ctx, "/mpesa/stkpushquery/v1/query", form)
	if err != nil {
		return 0, nil, fmt.Errorf("stkQuery: %w", err)
	}

	var reply stkQueryReply
	if err := json.Unmarshal(rbody, &reply); err != nil {
		return code, nil, fmt.Errorf("stkQuery: json.Unmarshal: %w", err)
	}

	return code, &reply, nil
}

type b2cForm struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             string `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

// b2c sends an organizer payout. The outcome arrives on the ResultURL.
func (c *Client) b2c(ctx context.Context, form *b2cForm) (string, error) {
	form.PartyA = c.shortCode

	code, rbody, err := c.call(ctx, "/mpesa/b2c/v1/paymentrequest", form)
	if err != nil {
		return "", fmt.Errorf("b2c: %w", err)
	}

	var reply struct {
		ConversationID           string `json:"ConversationID"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ResponseCode             string `json:"ResponseCode"`
		ResponseDescription      string `json:"ResponseDescription"`
		ErrorCode                string `json:"errorCode"`
		ErrorMessage             string `json:"errorMessage"`
	}
	if err := json.Unmarshal(rbody, &reply); err != nil {
		return "", fmt.Errorf("b2c: json.Unmarshal: %w", err)
	}
	if code != http.StatusOK || reply.ResponseCode != "0" {
		return "", fmt.Errorf("b2c: status %d, code %q: %s%s",
			code, reply.ResponseCode, reply.ResponseDescription, reply.ErrorMessage)
	}

	return reply.ConversationID, nil
}
