package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeguard/internal/crypto"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

const (
	ordersPath  = "/v1/orders"
	accountPath = "/v1/account"
)

// HTTP routes orders to a remote order router over JSON. Requests are signed
// with HMAC when a secret is configured. SubmitOrder is never retried here:
// a lost response leaves the order status unknown and the caller decides.
type HTTP struct {
	baseURL string
	auth    *crypto.HMACAuth
	client  *http.Client
}

// NewHTTP creates an HTTP broker. An empty secret disables signing.
func NewHTTP(baseURL, apiKey, secret string, timeout time.Duration) *HTTP {
	var auth *crypto.HMACAuth
	if apiKey != "" || secret != "" {
		auth = &crypto.HMACAuth{Key: apiKey, Secret: secret}
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Name() string { return "http" }

type routerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SubmitOrder posts req. A 4xx answer is a rejection; transport failures and
// 5xx answers are errors.
func (h *HTTP) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("broker: encode order: %w", err)
	}

	resp, err := h.do(ctx, http.MethodPost, ordersPath, body)
	if err != nil {
		return domain.OrderResult{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("broker: read order response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return domain.OrderResult{}, fmt.Errorf("broker: submit order: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 400:
		var re routerError
		_ = json.Unmarshal(data, &re)
		msg := re.Message
		if msg == "" {
			msg = re.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return domain.OrderResult{
			Success: false,
			Status:  domain.OrderStatusRejected,
			Message: msg,
		}, nil
	}

	var result domain.OrderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.OrderResult{}, fmt.Errorf("broker: decode order response: %w", err)
	}
	return result, nil
}

// Equity implements domain.AccountProvider.
func (h *HTTP) Equity(ctx context.Context) (decimal.Decimal, error) {
	resp, err := h.do(ctx, http.MethodGet, accountPath, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("broker: account: status %d", resp.StatusCode)
	}

	var acct struct {
		Equity decimal.Decimal `json:"equity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return decimal.Zero, fmt.Errorf("broker: decode account: %w", err)
	}
	return acct.Equity, nil
}

func (h *HTTP) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("broker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.auth != nil {
		for k, v := range h.auth.Headers(method, path, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: %s %s: %w", method, path, err)
	}
	return resp, nil
}

var (
	_ domain.BrokerAdapter   = (*HTTP)(nil)
	_ domain.AccountProvider = (*HTTP)(nil)
)
