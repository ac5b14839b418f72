package checkout_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
)

func TestUpdateStatus_FulfillmentFlow(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, inventory.Line{ProductID: "p-lamp", Quantity: 1})
	ctx := context.Background()

	// Неоплаченный заказ нельзя отгрузить.
	_, err := f.svc.UpdateStatus(ctx, created.OrderID, domain.OrderStatusShipped, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	_, err = f.svc.VerifyPayment(ctx, f.verifyInput(created, "pay_1"))
	require.NoError(t, err)

	shipped, err := f.svc.UpdateStatus(ctx, created.OrderID, domain.OrderStatusShipped, "handed to courier")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, shipped.Status)
	assert.Equal(t, domain.PaymentStatusPaid, shipped.PaymentStatus)

	// Повтор того же статуса ничего не пишет.
	again, err := f.svc.UpdateStatus(ctx, created.OrderID, domain.OrderStatusShipped, "")
	require.NoError(t, err)
	assert.Equal(t, shipped.Version, again.Version)

	delivered, err := f.svc.UpdateStatus(ctx, created.OrderID, domain.OrderStatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, delivered.Status)

	_, err = f.svc.UpdateStatus(ctx, created.OrderID, domain.OrderStatusCancelled, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	_, err = f.svc.UpdateStatus(ctx, created.OrderID, domain.OrderStatus("lost"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	details, err := f.svc.GetOrderDetails(ctx, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		domain.TimelineOrderCreated,
		domain.TimelinePaymentVerified,
		domain.TimelineOrderStatusChanged,
		domain.TimelineOrderStatusChanged,
	}, f.timelineTypes(t, created.OrderID))
	assert.Len(t, details.Timeline, 4)
	assert.Equal(t, "handed to courier", details.Timeline[2].Reason)
}

func TestUpdateStatus_CancelUnpaidReleasesStock(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, inventory.Line{ProductID: "p-lamp", Quantity: 2})
	require.Equal(t, int32(1), f.stock(t, "p-lamp"))

	cancelled, err := f.svc.UpdateStatus(context.Background(), created.OrderID, domain.OrderStatusCancelled, "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.PaymentStatusPending, cancelled.PaymentStatus)
	assert.Equal(t, int32(3), f.stock(t, "p-lamp"))
	assert.Contains(t, f.outboxTypes(), domain.EventOrderStatusChanged)
}

func TestUpdateStatus_MissingOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateStatus(context.Background(), "missing", domain.OrderStatusCancelled, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.svc.GetOrderDetails(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createOrder(t, inventory.Line{ProductID: "p-lamp", Quantity: 1})
	f.createOrder(t, inventory.Line{ProductID: "p-sofa", Quantity: 1})

	_, err := f.svc.VerifyPayment(ctx, f.verifyInput(first, "pay_1"))
	require.NoError(t, err)

	all, err := f.svc.ListOrders(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	paid, err := f.svc.ListOrders(ctx, domain.OrderFilter{PaymentStatus: domain.PaymentStatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, first.OrderID, paid[0].ID)

	limited, err := f.svc.ListOrders(ctx, domain.OrderFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = f.svc.ListOrders(ctx, domain.OrderFilter{Status: "unknown"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.ListOrders(ctx, domain.OrderFilter{PaymentStatus: "captured"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.svc.UpsertProduct(ctx, domain.Product{ID: "p-rug", Name: "Jute Rug", PriceMinor: 420000, StockQuantity: 2, Active: true})
	require.NoError(t, err)
	assert.Equal(t, "INR", saved.Currency)

	got, err := f.svc.GetProduct(ctx, "p-rug")
	require.NoError(t, err)
	assert.Equal(t, "Jute Rug", got.Name)

	_, err = f.svc.UpsertProduct(ctx, domain.Product{ID: "p-bad", StockQuantity: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.GetProduct(ctx, "p-none")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}
