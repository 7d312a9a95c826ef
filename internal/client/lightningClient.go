package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brenda-cereals/internal/config"
	"brenda-cereals/internal/model"
)

var ErrLightningNotConfigured = errors.New("lightning node not configured")

// LightningClient talks to an LNbits wallet.
type LightningClient interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (*model.LightningInvoiceResponse, error)
	IsPaid(ctx context.Context, paymentHash string) (bool, error)
}

type lightningClientImpl struct {
	httpClient *http.Client
	baseApiURL string
	apiKey     string
}

func NewLightningClient(cfg *config.Lightning) LightningClient {
	return &lightningClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (c *lightningClientImpl) CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (*model.LightningInvoiceResponse, error) {
	if c.baseApiURL == "" {
		return nil, ErrLightningNotConfigured
	}

	body, err := json.Marshal(&model.LightningInvoiceRequest{
		Out:    false,
		Amount: amountSats,
		Memo:   memo,
		Expiry: int64(expiry.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal req payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/api/v1/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lightning create invoice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("lightning error %d: %s", resp.StatusCode, string(b))
	}

	var invoice model.LightningInvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("decode lightning invoice: %w", err)
	}
	if invoice.PaymentRequest == "" {
		return nil, errors.New("lightning node returned empty payment request")
	}

	return &invoice, nil
}

func (c *lightningClientImpl) IsPaid(ctx context.Context, paymentHash string) (bool, error) {
	if c.baseApiURL == "" {
		return false, ErrLightningNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseApiURL+"/api/v1/payments/"+url.PathEscape(paymentHash), nil)
	if err != nil {
		return false, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("lightning payment status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("lightning error %d: %s", resp.StatusCode, string(b))
	}

	var status model.LightningPaymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("decode lightning status: %w", err)
	}
	return status.Paid, nil
}
