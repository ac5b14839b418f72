package memory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func seedProducts() *memory.ProductRepository {
	return memory.NewProductRepository(
		domain.Product{ID: "p-lamp", Name: "Brass Lamp", PriceMinor: 25000, Currency: "INR", StockQuantity: 5, Active: true},
		domain.Product{ID: "p-throw", Name: "Cotton Throw", PriceMinor: 10000, Currency: "INR", StockQuantity: 1, Active: true},
		domain.Product{ID: "p-old", Name: "Retired Vase", PriceMinor: 5000, Currency: "INR", StockQuantity: 10, Active: false},
	)
}

func newOrder(id, number string, items ...domain.OrderItem) domain.Order {
	now := time.Now().UTC()
	order := domain.Order{
		ID:            id,
		Number:        number,
		Customer:      domain.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "+91-9800000000"},
		Currency:      "INR",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	domain.CalculateTotals(order.Items, domain.DefaultShippingPolicy()).Apply(&order)
	return order
}

func lampLine(qty int32) domain.OrderItem {
	return domain.OrderItem{ProductID: "p-lamp", Name: "Brass Lamp", PriceMinor: 25000, Quantity: qty}
}

func TestOrderRepository_CreateDecrementsStock(t *testing.T) {
	ctx := context.Background()
	products := seedProducts()
	repo := memory.NewOrderRepository(products)

	order := newOrder("order-1", "ORD-1", lampLine(2))
	order.GatewayOrderID = "order_gw_1"
	require.NoError(t, repo.Create(ctx, order))

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Number, stored.Number)
	assert.Equal(t, order.TotalMinor, stored.TotalMinor)

	byNumber, err := repo.GetByNumber(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byNumber.ID)

	byGateway, err := repo.GetByGatewayOrderID(ctx, "order_gw_1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byGateway.ID)

	lamp, err := products.Get(ctx, "p-lamp")
	require.NoError(t, err)
	assert.Equal(t, int32(3), lamp.StockQuantity)
}

func TestOrderRepository_CreateRejectsUnavailableWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	products := seedProducts()
	repo := memory.NewOrderRepository(products)

	throw := domain.OrderItem{ProductID: "p-throw", Name: "Cotton Throw", PriceMinor: 10000, Quantity: 2}
	err := repo.Create(ctx, newOrder("order-1", "ORD-1", lampLine(1), throw))

	var unavailable *domain.ProductUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "Cotton Throw", unavailable.Name)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = repo.Get(ctx, "order-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	// Ни одна позиция не должна быть списана частично.
	lamp, _ := products.Get(ctx, "p-lamp")
	assert.Equal(t, int32(5), lamp.StockQuantity)

	inactive := domain.OrderItem{ProductID: "p-old", Name: "Retired Vase", PriceMinor: 5000, Quantity: 1}
	err = repo.Create(ctx, newOrder("order-2", "ORD-2", inactive))
	assert.ErrorIs(t, err, domain.ErrProductInactive)

	missing := domain.OrderItem{ProductID: "p-missing", Name: "Ghost", Quantity: 1}
	err = repo.Create(ctx, newOrder("order-3", "ORD-3", missing))
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestOrderRepository_DuplicateLinesAreSummed(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(seedProducts())

	err := repo.Create(ctx, newOrder("order-1", "ORD-1", lampLine(3), lampLine(3)))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestOrderRepository_OverflowingLinesLeaveStock(t *testing.T) {
	ctx := context.Background()
	products := seedProducts()
	repo := memory.NewOrderRepository(products)

	err := repo.Create(ctx, newOrder("order-1", "ORD-1", lampLine(math.MaxInt32), lampLine(2)))
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	lamp, err := products.Get(ctx, "p-lamp")
	require.NoError(t, err)
	assert.Equal(t, int32(5), lamp.StockQuantity)
	_, err = repo.Get(ctx, "order-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_DuplicateIDOrNumber(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(seedProducts())

	require.NoError(t, repo.Create(ctx, newOrder("order-1", "ORD-1", lampLine(1))))
	assert.ErrorIs(t, repo.Create(ctx, newOrder("order-1", "ORD-2", lampLine(1))), domain.ErrOrderAlreadyExists)
	assert.ErrorIs(t, repo.Create(ctx, newOrder("order-2", "ORD-1", lampLine(1))), domain.ErrOrderAlreadyExists)
}

func TestOrderRepository_LastUnitRace(t *testing.T) {
	ctx := context.Background()
	products := seedProducts()
	repo := memory.NewOrderRepository(products)

	throw := domain.OrderItem{ProductID: "p-throw", Name: "Cotton Throw", PriceMinor: 10000, Quantity: 1}

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "order-" + string(rune('a'+i))
			if err := repo.Create(ctx, newOrder(id, "ORD-"+id, throw)); err == nil {
				created.Add(1)
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	product, _ := products.Get(ctx, "p-throw")
	assert.Equal(t, int32(0), product.StockQuantity)
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(seedProducts())
	order := newOrder("order-1", "ORD-1", lampLine(1))
	require.NoError(t, repo.Create(ctx, order))

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NoError(t, stored.MarkPaid("pay_1", "sig", time.Now().UTC()))
	require.NoError(t, repo.Save(ctx, stored))

	updated, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, domain.PaymentStatusPaid, updated.PaymentStatus)

	// Сохранение устаревшей версии отклоняется.
	stale := stored
	stale.Status = domain.OrderStatusCancelled
	assert.True(t, domain.IsVersionConflict(repo.Save(ctx, stale)))

	missing := newOrder("order-x", "ORD-X")
	assert.ErrorIs(t, repo.Save(ctx, missing), domain.ErrOrderNotFound)
}

func TestOrderRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository(seedProducts())

	base := time.Now().UTC()
	for i, id := range []string{"order-1", "order-2", "order-3"} {
		order := newOrder(id, "ORD-"+id, lampLine(1))
		order.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, order))
	}
	paid, _ := repo.Get(ctx, "order-2")
	require.NoError(t, paid.MarkPaid("pay_2", "sig", base))
	require.NoError(t, repo.Save(ctx, paid))

	all, err := repo.List(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "order-3", all[0].ID)

	confirmed, err := repo.List(ctx, domain.OrderFilter{Status: domain.OrderStatusConfirmed})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "order-2", confirmed[0].ID)

	pending, err := repo.List(ctx, domain.OrderFilter{PaymentStatus: domain.PaymentStatusPending, Limit: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "order-3", pending[0].ID)
}

func TestProductRepository_Restock(t *testing.T) {
	ctx := context.Background()
	products := seedProducts()

	require.NoError(t, products.Restock(ctx, []domain.OrderItem{lampLine(2), {ProductID: "p-missing", Quantity: 3}}))
	lamp, err := products.Get(ctx, "p-lamp")
	require.NoError(t, err)
	assert.Equal(t, int32(7), lamp.StockQuantity)

	_, err = products.Get(ctx, "p-missing")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	list, err := products.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p-lamp", list[0].ID)
}
