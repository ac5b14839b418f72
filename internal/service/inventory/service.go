package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Line - запрошенная покупателем позиция корзины.
type Line struct {
	ProductID string
	Quantity  int32
}

// Service проверяет корзину по живому каталогу и возвращает остатки на склад.
type Service struct {
	products domain.ProductRepository
	logger   *log.Entry
}

// NewService создаёт сервис каталога поверх репозитория товаров.
func NewService(products domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Service{
		products: products,
		logger:   logger.WithField("component", "inventory"),
	}
}

// Quote загружает текущие товары для каждой строки и фиксирует цену в снимке позиции.
// Любая недоступная позиция отклоняет корзину целиком с *ProductUnavailableError.
// Повторяющиеся строки одного товара проверяются по суммарному количеству.
func (s *Service) Quote(ctx context.Context, currency string, lines []Line) ([]domain.OrderItem, error) {
	if len(lines) == 0 {
		return nil, domain.ErrItemsRequired
	}

	lines = normalizeLines(lines)
	requested := make(map[string]int32, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, domain.ErrProductIDRequired
		}
		total, err := domain.AddQuantity(line.ProductID, requested[line.ProductID], line.Quantity)
		if err != nil {
			return nil, err
		}
		requested[line.ProductID] = total
	}

	products := make(map[string]domain.Product, len(requested))
	for _, id := range sortedKeys(requested) {
		product, err := s.products.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, &domain.ProductUnavailableError{ProductID: id, Requested: requested[id], Reason: domain.ErrProductNotFound}
			}
			return nil, fmt.Errorf("load product %s: %w", id, err)
		}
		if err := product.CheckAvailable(requested[id]); err != nil {
			return nil, err
		}
		if currency != "" && !strings.EqualFold(product.Currency, currency) {
			return nil, fmt.Errorf("%w: product %s is priced in %s, checkout currency is %s",
				domain.ErrValidation, product.Name, product.Currency, currency)
		}
		products[id] = product
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, products[line.ProductID].Snapshot(line.Quantity))
	}
	return items, nil
}

// Release возвращает на склад позиции заказа, который не будет оплачен.
func (s *Service) Release(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.products.Restock(ctx, items); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("failed to release stock")
		return fmt.Errorf("release stock for order %s: %w", orderID, err)
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "lines": len(items)}).Info("stock released")
	return nil
}

// Get возвращает товар каталога.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	return s.products.Get(ctx, strings.TrimSpace(id))
}

// List возвращает товары каталога по возрастанию ID.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Product, error) {
	return s.products.List(ctx, limit)
}

// Upsert валидирует и сохраняет товар.
func (s *Service) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	product.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}

	product.UpdatedAt = time.Now().UTC()
	if err := s.products.Upsert(ctx, product); err != nil {
		return domain.Product{}, fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return product, nil
}

// normalizeLines возвращает копию строк с обрезанными ID товаров.
func normalizeLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, line := range lines {
		out[i] = Line{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity}
	}
	return out
}

func sortedKeys(m map[string]int32) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
