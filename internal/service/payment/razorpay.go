package payment

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

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultBaseURL - публичный API Razorpay.
	DefaultBaseURL = "https://api.razorpay.com"

	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 64 << 10
)

// RazorpayClient создаёт hosted-заказы через REST API шлюза.
type RazorpayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// ClientOption настраивает RazorpayClient.
type ClientOption func(*RazorpayClient)

// WithBaseURL переопределяет адрес API (тесты, sandbox-прокси).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *RazorpayClient) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient подставляет собственный http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *RazorpayClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewRazorpayClient создаёт клиента с ключами из конфигурации.
func NewRazorpayClient(keyID, keySecret string, opts ...ClientOption) *RazorpayClient {
	client := &RazorpayClient{
		baseURL:    DefaultBaseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder вызывает POST /v1/orders. Любой ответ не из 2xx превращается в GatewayError.
func (c *RazorpayClient) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	if req.AmountMinor <= 0 {
		return domain.GatewayOrder{}, fmt.Errorf("%w: gateway amount must be positive", domain.ErrValidation)
	}

	body, err := json.Marshal(createOrderRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("encode gateway order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.GatewayOrder{}, &domain.GatewayError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.GatewayOrder{}, decodeGatewayError(resp)
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.GatewayOrder{}, &domain.GatewayError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode gateway order: %w", err),
		}
	}
	if out.ID == "" {
		return domain.GatewayOrder{}, &domain.GatewayError{
			StatusCode: resp.StatusCode,
			Err:        errors.New("gateway returned order without id"),
		}
	}

	return domain.GatewayOrder{
		ID:          out.ID,
		AmountMinor: out.Amount,
		Currency:    out.Currency,
		Receipt:     out.Receipt,
		Status:      out.Status,
	}, nil
}

// KeyID возвращает публичный ключ для виджета оплаты.
func (c *RazorpayClient) KeyID() string {
	return c.keyID
}

func decodeGatewayError(resp *http.Response) error {
	gatewayErr := &domain.GatewayError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		gatewayErr.Err = fmt.Errorf("read gateway error body: %w", err)
		return gatewayErr
	}

	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil {
		gatewayErr.Code = payload.Error.Code
		gatewayErr.Description = payload.Error.Description
	}
	if gatewayErr.Description == "" {
		gatewayErr.Err = fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	return gatewayErr
}

var _ domain.PaymentGateway = (*RazorpayClient)(nil)
