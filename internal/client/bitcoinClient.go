package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brenda-cereals/internal/config"
	"brenda-cereals/internal/model"
)

type PriceClient interface {
	// BTCPrice returns the price of one bitcoin in the given fiat currency.
	BTCPrice(ctx context.Context, currency string) (float64, error)
}

type ExplorerClient interface {
	AddressTxs(ctx context.Context, address string) ([]model.ExplorerTx, error)
	TipHeight(ctx context.Context) (int64, error)
}

type priceClientImpl struct {
	httpClient *http.Client
	baseApiURL string
}

func NewPriceClient(cfg *config.Bitcoin) PriceClient {
	return &priceClientImpl{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseApiURL: strings.TrimRight(cfg.PriceAPIURL, "/"),
	}
}

func (c *priceClientImpl) BTCPrice(ctx context.Context, currency string) (float64, error) {
	cur := strings.ToLower(currency)
	u := fmt.Sprintf("%s/simple/price?ids=bitcoin&vs_currencies=%s", c.baseApiURL, url.QueryEscape(cur))

	var res map[string]map[string]float64
	if err := getJSON(ctx, c.httpClient, u, &res); err != nil {
		return 0, fmt.Errorf("fetch btc price: %w", err)
	}

	price := res["bitcoin"][cur]
	if price <= 0 {
		return 0, fmt.Errorf("no btc price for %s", currency)
	}
	return price, nil
}

type explorerClientImpl struct {
	httpClient *http.Client
	baseApiURL string
}

func NewExplorerClient(cfg *config.Bitcoin) ExplorerClient {
	return &explorerClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL: strings.TrimRight(cfg.ExplorerURL, "/"),
	}
}

func (c *explorerClientImpl) AddressTxs(ctx context.Context, address string) ([]model.ExplorerTx, error) {
	var txs []model.ExplorerTx
	u := fmt.Sprintf("%s/address/%s/txs", c.baseApiURL, url.PathEscape(address))
	if err := getJSON(ctx, c.httpClient, u, &txs); err != nil {
		return nil, fmt.Errorf("fetch address txs: %w", err)
	}
	return txs, nil
}

func (c *explorerClientImpl) TipHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseApiURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, fmt.Errorf("http new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("explorer error %d: %s", resp.StatusCode, string(b))
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}
	return height, nil
}

func getJSON(ctx context.Context, httpClient *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
