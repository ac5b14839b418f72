package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ProductRepository - in-memory каталог. Заказной репозиторий списывает
// остатки через него под одним локом.
type ProductRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает пустой каталог для локальной разработки и тестов.
func NewProductRepository(seed ...domain.Product) *ProductRepository {
	repo := &ProductRepository{items: make(map[string]domain.Product)}
	for _, product := range seed {
		repo.items[product.ID] = product
	}
	return repo
}

// Get возвращает товар или ErrProductNotFound.
func (r *ProductRepository) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// List возвращает товары по возрастанию ID.
func (r *ProductRepository) List(_ context.Context, limit int) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		result = append(result, product)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Upsert создаёт или перезаписывает товар.
func (r *ProductRepository) Upsert(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	r.items[product.ID] = product
	return nil
}

// Restock возвращает количество позиций на склад. Удалённые товары пропускаются.
func (r *ProductRepository) Restock(_ context.Context, items []domain.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, item := range items {
		product, ok := r.items[item.ProductID]
		if !ok {
			continue
		}
		product.StockQuantity += item.Quantity
		product.UpdatedAt = now
		r.items[item.ProductID] = product
	}
	return nil
}

// decrement списывает остатки по всем позициям или не меняет ничего.
func (r *ProductRepository) decrement(items []domain.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Сначала проверяем все позиции, потом списываем.
	need, err := domain.SumQuantities(items)
	if err != nil {
		return err
	}
	for _, item := range items {
		product, ok := r.items[item.ProductID]
		if !ok {
			return &domain.ProductUnavailableError{ProductID: item.ProductID, Name: item.Name, Requested: need[item.ProductID], Reason: domain.ErrProductNotFound}
		}
		if err := product.CheckAvailable(need[item.ProductID]); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	for id, qty := range need {
		product := r.items[id]
		product.StockQuantity -= qty
		product.UpdatedAt = now
		r.items[id] = product
	}
	return nil
}

var _ domain.ProductRepository = (*ProductRepository)(nil)
