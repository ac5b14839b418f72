package main

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

	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

const (
	stepCreateOrder   = "create-order"
	stepVerifyPayment = "verify-payment"
	stepWebhook       = "webhook"
)

// checkoutClient проходит сценарий покупателя через HTTP API витрины.
type checkoutClient struct {
	baseURL string
	http    *http.Client
	signer  *payment.Signer
	col     *collector
}

type scenarioError struct {
	step   string
	status int
	err    error
}

func (e *scenarioError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.step, e.err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.step, e.status)
}

func (e *scenarioError) Unwrap() error { return e.err }

func (c *checkoutClient) runScenario(ctx context.Context, cfg config, index int) (err error) {
	started := time.Now()
	defer func() {
		status := http.StatusOK
		if err != nil {
			status = 0
			var se *scenarioError
			if errors.As(err, &se) {
				status = se.status
			}
		}
		c.col.record(scenarioStep, time.Since(started), status, err == nil)
	}()

	created, err := c.createOrder(ctx, cfg, index)
	if err != nil {
		return err
	}

	paymentID := fmt.Sprintf("pay_load_%d_%s", index, uuid.NewString()[:8])
	switch cfg.mode {
	case modeCreateVerify:
		return c.verifyPayment(ctx, created, paymentID)
	case modeCreateFail:
		return c.failPayment(ctx, created, paymentID)
	default:
		return nil
	}
}

func (c *checkoutClient) createOrder(ctx context.Context, cfg config, index int) (httpsvc.CreateOrderResponse, error) {
	body := map[string]any{
		"items": []map[string]any{{"productId": cfg.productID, "quantity": cfg.quantity}},
		"customerInfo": map[string]string{
			"name":  "Load Test",
			"email": fmt.Sprintf("%s+%d@example.com", cfg.customerTag, index),
			"phone": "+910000000000",
		},
		"shippingAddress": map[string]string{
			"line1":      "1 Test Street",
			"city":       "Mumbai",
			"state":      "MH",
			"postalCode": "400001",
			"country":    "IN",
		},
	}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}

	var created httpsvc.CreateOrderResponse
	if err := c.post(ctx, stepCreateOrder, "/checkout/create-order", body, headers, http.StatusCreated, &created); err != nil {
		return created, err
	}
	return created, nil
}

func (c *checkoutClient) verifyPayment(ctx context.Context, created httpsvc.CreateOrderResponse, paymentID string) error {
	body := map[string]string{
		"orderId":             created.OrderID,
		"razorpay_order_id":   created.GatewayOrderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  c.signer.Sign(created.GatewayOrderID, paymentID),
	}
	return c.post(ctx, stepVerifyPayment, "/checkout/verify-payment", body, nil, http.StatusOK, nil)
}

func (c *checkoutClient) failPayment(ctx context.Context, created httpsvc.CreateOrderResponse, paymentID string) error {
	event := map[string]any{
		"event": "payment.failed",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]string{
					"id":                paymentID,
					"order_id":          created.GatewayOrderID,
					"status":            "failed",
					"error_description": "load test decline",
				},
			},
		},
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return &scenarioError{step: stepWebhook, err: err}
	}
	headers := map[string]string{
		"X-Razorpay-Signature": c.signer.SignWebhook(raw),
		"X-Razorpay-Event-Id":  "evt_" + uuid.NewString(),
	}
	return c.post(ctx, stepWebhook, "/checkout/webhook", raw, headers, http.StatusOK, nil)
}

// post отправляет JSON и учитывает шаг в collector. body типа []byte уходит как есть.
func (c *checkoutClient) post(ctx context.Context, step, path string, body any, headers map[string]string, want int, out any) error {
	raw, ok := body.([]byte)
	if !ok {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &scenarioError{step: step, err: err}
		}
		raw = encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return &scenarioError{step: step, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(step, time.Since(started), 0, false)
		return &scenarioError{step: step, err: err}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	c.col.record(step, time.Since(started), resp.StatusCode, resp.StatusCode == want && readErr == nil)
	if readErr != nil {
		return &scenarioError{step: step, status: resp.StatusCode, err: readErr}
	}
	if resp.StatusCode != want {
		return &scenarioError{step: step, status: resp.StatusCode}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &scenarioError{step: step, status: resp.StatusCode, err: err}
		}
	}
	return nil
}
