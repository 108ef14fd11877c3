// Package prodamus creates payment links through the Prodamus invoice API.
package prodamus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultInvoiceURL is the Prodamus invoice endpoint.
const DefaultInvoiceURL = "https://payform.ru/api/v1/invoice"

const maxResponseBytes = 64 * 1024

// InvoiceRequest describes a payment link to create.
type InvoiceRequest struct {
	OrderNum    string
	Sum         int64
	Currency    string
	Type        string
	Name        string
	Description string
	SuccessURL  string
	FailURL     string
}

// Client is a Prodamus invoice API client.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an invoice client. An empty endpoint uses DefaultInvoiceURL.
func NewClient(endpoint, apiKey string, httpClient *http.Client) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultInvoiceURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type invoicePayload struct {
	Sum         int64  `json:"sum"`
	Currency    string `json:"currency"`
	OrderNum    string `json:"order_num"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	SuccessURL  string `json:"success_url,omitempty"`
	FailURL     string `json:"fail_url,omitempty"`
	Do          string `json:"do"`
}

type invoiceResponse struct {
	PaymentURL string `json:"payment_url"`
	URL        string `json:"url"`
	Link       string `json:"link"`
}

// CreateInvoice creates a payment link whose order_num is req.OrderNum, so
// the provider's notification can be routed back to the payer.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (string, error) {
	if strings.TrimSpace(req.OrderNum) == "" {
		return "", fmt.Errorf("prodamus invoice: order number is required")
	}
	if req.Sum <= 0 {
		return "", fmt.Errorf("prodamus invoice: sum must be positive, got %d", req.Sum)
	}
	invoiceType := req.Type
	if invoiceType == "" {
		invoiceType = "course"
	}
	currency := req.Currency
	if currency == "" {
		currency = "rub"
	}

	body, err := json.Marshal(invoicePayload{
		Sum:         req.Sum,
		Currency:    currency,
		OrderNum:    req.OrderNum,
		Type:        invoiceType,
		Name:        req.Name,
		Description: req.Description,
		SuccessURL:  req.SuccessURL,
		FailURL:     req.FailURL,
		Do:          "pay",
	})
	if err != nil {
		return "", fmt.Errorf("marshal prodamus invoice: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create prodamus request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("prodamus request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("prodamus error (HTTP %d): %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 256))
	}

	payURL, err := parsePaymentURL(respBody)
	if err != nil {
		return "", fmt.Errorf("parse prodamus response: %w", err)
	}
	return payURL, nil
}

// parsePaymentURL accepts either a JSON object carrying the link or a bare
// URL in the body.
func parsePaymentURL(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", fmt.Errorf("empty response body")
	}

	var candidate string
	if strings.HasPrefix(trimmed, "{") {
		var parsed invoiceResponse
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return "", err
		}
		for _, v := range []string{parsed.PaymentURL, parsed.URL, parsed.Link} {
			if v = strings.TrimSpace(v); v != "" {
				candidate = v
				break
			}
		}
	} else {
		candidate = trimmed
	}

	u, err := url.Parse(candidate)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("no payment URL in response")
	}
	return candidate, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
