package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/env"
)

const (
	defaultBaseURL = "https://api.tosspayments.com"
	defaultTimeout = 10 * time.Second

	// StatusDone is the gateway status of an approved payment.
	StatusDone = "DONE"
)

// Config holds gateway credentials and call tuning.
type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	Retry     Policy
	Breaker   BreakerSettings
}

// Client talks to the card payment gateway. Every call runs outside any
// database transaction, carries the order id as idempotency key and is
// retried through Retry behind a circuit breaker.
type Client struct {
	baseURL    string
	secretKey  string
	timeout    time.Duration
	policy     Policy
	breaker    *Breaker
	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return NewClient(Config{
		BaseURL:   strings.TrimSpace(env.GetEnv("GATEWAY_BASE_URL", defaultBaseURL)),
		SecretKey: strings.TrimSpace(env.GetEnv("GATEWAY_SECRET_KEY", "")),
		Timeout:   env.GetEnvSeconds("GATEWAY_TIMEOUT_SECONDS", defaultTimeout),
		Retry:     DefaultPolicy(),
		Breaker:   DefaultBreakerSettings(),
	})
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultPolicy()
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = DefaultBreakerSettings()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		timeout:    cfg.Timeout,
		policy:     cfg.Retry,
		breaker:    NewBreaker(cfg.Breaker),
		HTTPClient: &http.Client{},
	}
}

// ConfirmRequest approves a hosted checkout payment.
type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// ChargeRequest charges a stored billing key.
type ChargeRequest struct {
	BillingKey  string `json:"-"`
	CustomerKey string `json:"customerKey"`
	OrderID     string `json:"orderId"`
	OrderName   string `json:"orderName"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
}

// Outcome is the gateway's answer for an approved payment.
type Outcome struct {
	Status     string
	PaymentKey string
	OrderID    string
	Amount     int64
	ApprovedAt *time.Time
	ReceiptURL string
	BillingKey string
}

// Approved reports whether the gateway captured the payment.
func (o *Outcome) Approved() bool {
	return o != nil && o.Status == StatusDone
}

type paymentResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	ApprovedAt  string `json:"approvedAt"`
	Receipt     *struct {
		URL string `json:"url"`
	} `json:"receipt"`
	Failure *errorResponse `json:"failure"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Outcome, error) {
	if strings.TrimSpace(req.PaymentKey) == "" || strings.TrimSpace(req.OrderID) == "" {
		return nil, fmt.Errorf("paymentKey and orderId are required")
	}
	var out paymentResponse
	if err := c.call(ctx, "/v1/payments/confirm", req.OrderID, req, &out); err != nil {
		return nil, err
	}
	return toOutcome(&out, "")
}

func (c *Client) ChargeBillingKey(ctx context.Context, req ChargeRequest) (*Outcome, error) {
	if strings.TrimSpace(req.BillingKey) == "" || strings.TrimSpace(req.OrderID) == "" {
		return nil, fmt.Errorf("billingKey and orderId are required")
	}
	var out paymentResponse
	path := "/v1/billing/" + url.PathEscape(req.BillingKey)
	if err := c.call(ctx, path, req.OrderID, req, &out); err != nil {
		return nil, err
	}
	return toOutcome(&out, req.BillingKey)
}

// IssueBillingKey exchanges a card authorization key for a reusable billing key.
func (c *Client) IssueBillingKey(ctx context.Context, authKey, customerKey string) (string, error) {
	if strings.TrimSpace(authKey) == "" || strings.TrimSpace(customerKey) == "" {
		return "", fmt.Errorf("authKey and customerKey are required")
	}
	body := map[string]string{"authKey": authKey, "customerKey": customerKey}
	var out struct {
		BillingKey string `json:"billingKey"`
	}
	if err := c.call(ctx, "/v1/billing/authorizations/issue", "issue:"+customerKey+":"+authKey, body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.BillingKey) == "" {
		return "", fmt.Errorf("gateway returned empty billingKey")
	}
	return out.BillingKey, nil
}

// BreakerState exposes the circuit state for health output.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

func (c *Client) call(ctx context.Context, path, idempotencyKey string, in, out interface{}) error {
	if database.InTransaction(ctx) {
		return ErrCalledInsideTransaction
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return Retry(ctx, c.policy, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			return c.post(ctx, path, idempotencyKey, payload, out)
		})
	})
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.secretKey + ":"))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(body, out); err != nil {
			return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusConflict:
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("body=%s", truncate(body, 256))}
	default:
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		if e.Code == "" {
			e.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return &DeclinedError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Message}
	}
}

func toOutcome(r *paymentResponse, billingKey string) (*Outcome, error) {
	if r.Status != StatusDone {
		code, msg := "PAYMENT_NOT_APPROVED", "payment status "+r.Status
		if r.Failure != nil && r.Failure.Code != "" {
			code, msg = r.Failure.Code, r.Failure.Message
		}
		return nil, &DeclinedError{StatusCode: http.StatusOK, Code: code, Message: msg}
	}
	out := &Outcome{
		Status:     r.Status,
		PaymentKey: r.PaymentKey,
		OrderID:    r.OrderID,
		Amount:     r.TotalAmount,
		BillingKey: billingKey,
	}
	if r.Receipt != nil {
		out.ReceiptURL = r.Receipt.URL
	}
	if r.ApprovedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.ApprovedAt); err == nil {
			utc := t.UTC()
			out.ApprovedAt = &utc
		}
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]) + "..."
}
