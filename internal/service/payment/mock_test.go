package payment

import (
	"context"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestMockGateway(t *testing.T) {
	mock := NewMockGateway("")
	if mock.KeyID() != "rzp_test_mock" {
		t.Fatalf("unexpected default key id: %s", mock.KeyID())
	}

	order, err := mock.CreateOrder(context.Background(), domain.GatewayOrderRequest{AmountMinor: 599, Currency: "INR", Receipt: "ORD-1"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if !strings.HasPrefix(order.ID, "order_") || order.AmountMinor != 599 || order.Receipt != "ORD-1" {
		t.Fatalf("unexpected gateway order: %+v", order)
	}

	mock.SetError(&domain.GatewayError{Description: "gateway down"})
	if _, err := mock.CreateOrder(context.Background(), domain.GatewayOrderRequest{AmountMinor: 1}); err == nil {
		t.Fatal("expected configured error")
	}

	if mock.CallCount() != 2 || len(mock.Requests) != 2 {
		t.Fatalf("unexpected call counters: calls=%d requests=%d", mock.CallCount(), len(mock.Requests))
	}
}
