package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// OrderDetails - заказ вместе с его timeline для back-office.
type OrderDetails struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrValidation, filter.Status)
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", domain.ErrValidation, filter.PaymentStatus)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return s.orders.List(ctx, filter)
}

// GetOrderDetails возвращает заказ и историю его событий.
func (s *Service) GetOrderDetails(ctx context.Context, orderID string) (OrderDetails, error) {
	order, err := s.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return OrderDetails{}, err
	}

	details := OrderDetails{Order: order}
	if s.timeline != nil {
		events, err := s.timeline.List(ctx, order.ID)
		if err != nil {
			return OrderDetails{}, fmt.Errorf("load timeline: %w", err)
		}
		details.Timeline = events
	}
	return details, nil
}

// UpdateStatus меняет статус исполнения заказа. Платёжные поля здесь не меняются.
// Отмена не отгруженного заказа возвращает позиции на склад, если этого ещё
// не сделал неуспешный платёж.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus, reason string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if !next.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", domain.ErrValidation, next)
	}

	var previous domain.OrderStatus
	updated, changed, err := s.updateOrder(ctx, orderID, func(current *domain.Order) error {
		previous = current.Status
		if current.Status == next {
			return errNoChange
		}
		return current.TransitionStatus(next, s.now())
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return updated, nil
	}

	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"from":     previous,
		"to":       updated.Status,
	}).Info("order status changed")

	if next == domain.OrderStatusCancelled && releasesStock(previous, updated.PaymentStatus) {
		if err := s.inventory.Release(ctx, updated.ID, updated.Items); err != nil {
			s.logger.WithError(err).WithField("order_id", updated.ID).Error("stock not released after cancellation")
		}
	}

	s.emitEvent(ctx, updated, domain.EventOrderStatusChanged, domain.TimelineOrderStatusChanged, strings.TrimSpace(reason), eventDetails{PreviousStatus: previous})
	return updated, nil
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.inventory.Get(ctx, id)
}

// ListProducts возвращает товары каталога по ID.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	return s.inventory.List(ctx, limit)
}

// UpsertProduct сохраняет товар каталога (цена, остаток, активность).
func (s *Service) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.Currency == "" {
		product.Currency = s.currency
	}
	saved, err := s.inventory.Upsert(ctx, product)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return domain.Product{}, err
		}
		s.logger.WithError(err).WithField("product_id", product.ID).Error("failed to save product")
		return domain.Product{}, err
	}
	return saved, nil
}

func releasesStock(previous domain.OrderStatus, payment domain.PaymentStatus) bool {
	if previous == domain.OrderStatusShipped || previous == domain.OrderStatusDelivered {
		return false
	}
	return payment != domain.PaymentStatusFailed
}
