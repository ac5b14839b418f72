package inventory_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newCatalog() *memory.ProductRepository {
	return memory.NewProductRepository(
		domain.Product{ID: "p-lamp", Name: "Brass Lamp", PriceMinor: 50000, Currency: "INR", StockQuantity: 3, Active: true},
		domain.Product{ID: "p-mug", Name: "Stone Mug", PriceMinor: 25000, Currency: "INR", StockQuantity: 0, Active: true},
		domain.Product{ID: "p-old", Name: "Old Vase", PriceMinor: 10000, Currency: "INR", StockQuantity: 9, Active: false},
		domain.Product{ID: "p-usd", Name: "Import Rug", PriceMinor: 9900, Currency: "USD", StockQuantity: 2, Active: true},
	)
}

func TestService_QuoteFreezesPrices(t *testing.T) {
	catalog := newCatalog()
	svc := inventory.NewService(catalog, nil)

	items, err := svc.Quote(context.Background(), "INR", []inventory.Line{{ProductID: "p-lamp", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Brass Lamp", items[0].Name)
	assert.Equal(t, int64(50000), items[0].PriceMinor)

	// Позже цена меняется, но снимок остаётся прежним.
	require.NoError(t, catalog.Upsert(context.Background(), domain.Product{ID: "p-lamp", Name: "Brass Lamp", PriceMinor: 70000, Currency: "INR", StockQuantity: 3, Active: true}))
	assert.Equal(t, int64(50000), items[0].PriceMinor)
}

func TestService_QuoteRejectsUnavailable(t *testing.T) {
	svc := inventory.NewService(newCatalog(), nil)

	tests := []struct {
		name    string
		lines   []inventory.Line
		reason  error
		message string
	}{
		{name: "out of stock", lines: []inventory.Line{{ProductID: "p-mug", Quantity: 1}}, reason: domain.ErrInsufficientStock, message: "Stone Mug"},
		{name: "inactive", lines: []inventory.Line{{ProductID: "p-old", Quantity: 1}}, reason: domain.ErrProductInactive, message: "Old Vase"},
		{name: "missing", lines: []inventory.Line{{ProductID: "p-ghost", Quantity: 1}}, reason: domain.ErrProductNotFound, message: "p-ghost"},
		{name: "duplicate lines exceed stock", lines: []inventory.Line{{ProductID: "p-lamp", Quantity: 2}, {ProductID: "p-lamp", Quantity: 2}}, reason: domain.ErrInsufficientStock, message: "requested 4, available 3"},
		{name: "one bad line rejects cart", lines: []inventory.Line{{ProductID: "p-lamp", Quantity: 1}, {ProductID: "p-mug", Quantity: 1}}, reason: domain.ErrInsufficientStock, message: "Stone Mug"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items, err := svc.Quote(context.Background(), "INR", tc.lines)
			require.Error(t, err)
			assert.Nil(t, items)
			assert.True(t, errors.Is(err, tc.reason))
			assert.True(t, domain.IsProductUnavailable(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestService_QuoteValidation(t *testing.T) {
	svc := inventory.NewService(newCatalog(), nil)
	ctx := context.Background()

	_, err := svc.Quote(ctx, "INR", nil)
	assert.ErrorIs(t, err, domain.ErrItemsRequired)

	_, err = svc.Quote(ctx, "INR", []inventory.Line{{ProductID: "p-lamp", Quantity: 0}})
	assert.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	_, err = svc.Quote(ctx, "INR", []inventory.Line{{ProductID: " ", Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrProductIDRequired)

	_, err = svc.Quote(ctx, "INR", []inventory.Line{{ProductID: "p-usd", Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Quote(ctx, "INR", []inventory.Line{{ProductID: "p-lamp", Quantity: math.MaxInt32}, {ProductID: "p-lamp", Quantity: 2}})
	assert.ErrorIs(t, err, domain.ErrItemQtyInvalid)
	assert.False(t, domain.IsProductUnavailable(err))
}

func TestService_QuoteTrimsProductIDs(t *testing.T) {
	svc := inventory.NewService(newCatalog(), nil)

	items, err := svc.Quote(context.Background(), "INR", []inventory.Line{{ProductID: " p-lamp ", Quantity: 1}, {ProductID: "p-lamp", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "p-lamp", items[0].ProductID)

	_, err = svc.Quote(context.Background(), "INR", []inventory.Line{{ProductID: " p-lamp", Quantity: 2}, {ProductID: "p-lamp ", Quantity: 2}})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestService_ReleaseAndUpsert(t *testing.T) {
	catalog := newCatalog()
	svc := inventory.NewService(catalog, nil)
	ctx := context.Background()

	require.NoError(t, svc.Release(ctx, "o-1", []domain.OrderItem{{ProductID: "p-mug", Quantity: 2}}))
	mug, err := svc.Get(ctx, "p-mug")
	require.NoError(t, err)
	assert.Equal(t, int32(2), mug.StockQuantity)
	require.NoError(t, svc.Release(ctx, "o-2", nil))

	saved, err := svc.Upsert(ctx, domain.Product{ID: " p-new ", Name: "Cushion", PriceMinor: 1200, Currency: "inr", StockQuantity: 4, Active: true})
	require.NoError(t, err)
	assert.Equal(t, "p-new", saved.ID)
	assert.Equal(t, "INR", saved.Currency)
	assert.False(t, saved.UpdatedAt.IsZero())

	_, err = svc.Upsert(ctx, domain.Product{ID: "p-bad", PriceMinor: -1, Currency: "INR"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrProductNameRequired)
	assert.ErrorIs(t, err, domain.ErrItemPriceInvalid)

	products, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}
