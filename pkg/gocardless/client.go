package gocardless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL             = "https://api.gocardless.com"
	apiVersion                 = "2015-07-06"
	defaultTimeout             = 30 * time.Second
	responseBodyReadLimit      = 4096
	currencyGBP                = "GBP"
	intervalUnitMonthly        = "monthly"
	lastDayOfMonth             = -1
	dayOfMonthLastCalendarWire = -1
)

var (
	errAccessTokenRequired = errors.New("gocardless access token is required")

	minorUnitFactor = decimal.NewFromInt(100)
)

// Client wraps the payment processor's billing request and subscription APIs.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	accessToken   string
	webhookSecret string
	environment   string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the processor client from configuration.
func NewClient(cfg config.GoCardlessConfig, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		accessToken:   token,
		webhookSecret: cfg.WebhookSecret,
		environment:   cfg.Environment(),
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
	if cfg.BaseURL != "" {
		client.baseURL = strings.TrimSpace(cfg.BaseURL)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// SigningSecret returns the shared webhook signing secret. Empty means
// signature verification is disabled (development only).
func (c *Client) SigningSecret() string {
	return c.webhookSecret
}

// Environment returns the processor environment the client talks to.
func (c *Client) Environment() string {
	return c.environment
}

// BillingRequestParams describes the combined one-off charge and mandate
// authorization flow opened for one registration.
type BillingRequestParams struct {
	Amount      decimal.Decimal
	Description string
	Metadata    map[string]string
}

// BillingRequest is the created processor object.
type BillingRequest struct {
	ID               string
	AuthorisationURL string
}

// SubscriptionParams describes an ongoing or interim subscription creation.
// Count zero means open-ended; DayOfMonth -1 charges on the last calendar
// day of each month.
type SubscriptionParams struct {
	Amount     decimal.Decimal
	Name       string
	StartDate  time.Time
	DayOfMonth int
	Count      int
	MandateID  string
	Metadata   map[string]string
}

// Subscription is the created processor object.
type Subscription struct {
	ID        string
	StartDate string
}

// CreateBillingRequest opens a billing request for the signing-on fee plus a
// recurring-payment mandate.
func (c *Client) CreateBillingRequest(ctx context.Context, params BillingRequestParams) (*BillingRequest, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gocardless client not configured")
	}
	if params.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing request amount must be positive")
	}

	body := map[string]any{
		"billing_requests": map[string]any{
			"payment_request": map[string]any{
				"amount":      minorUnits(params.Amount),
				"currency":    currencyGBP,
				"description": params.Description,
			},
			"mandate_request": map[string]any{
				"currency": currencyGBP,
			},
			"metadata": params.Metadata,
		},
	}

	var apiResp struct {
		BillingRequests struct {
			ID    string `json:"id"`
			Links struct {
				AuthorisationURL string `json:"authorisation_url"`
			} `json:"links"`
		} `json:"billing_requests"`
	}
	if err := c.post(ctx, "billing_requests", body, &apiResp); err != nil {
		return nil, err
	}

	return &BillingRequest{
		ID:               apiResp.BillingRequests.ID,
		AuthorisationURL: apiResp.BillingRequests.Links.AuthorisationURL,
	}, nil
}

// CreateSubscription creates an ongoing or interim subscription against the
// payer's mandate.
func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gocardless client not configured")
	}
	if params.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription amount must be positive")
	}
	if params.StartDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription start date is required")
	}

	sub := map[string]any{
		"amount":        minorUnits(params.Amount),
		"currency":      currencyGBP,
		"name":          params.Name,
		"interval_unit": intervalUnitMonthly,
		"start_date":    params.StartDate.Format("2006-01-02"),
		"metadata":      params.Metadata,
	}
	if params.DayOfMonth == lastDayOfMonth {
		sub["day_of_month"] = dayOfMonthLastCalendarWire
	} else if params.DayOfMonth > 0 {
		sub["day_of_month"] = params.DayOfMonth
	}
	if params.Count > 0 {
		sub["count"] = params.Count
	}
	if params.MandateID != "" {
		sub["links"] = map[string]string{"mandate": params.MandateID}
	}

	var apiResp struct {
		Subscriptions struct {
			ID        string `json:"id"`
			StartDate string `json:"start_date"`
		} `json:"subscriptions"`
	}
	if err := c.post(ctx, "subscriptions", map[string]any{"subscriptions": sub}, &apiResp); err != nil {
		return nil, err
	}

	return &Subscription{
		ID:        apiResp.Subscriptions.ID,
		StartDate: apiResp.Subscriptions.StartDate,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("GoCardless-Version", apiVersion)
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("execute %s request", path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("%s request failed", path))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}
