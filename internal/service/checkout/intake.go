package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
)

// CreateOrderInput - корзина и контактные данные покупателя.
type CreateOrderInput struct {
	Items           []inventory.Line
	Customer        domain.Customer
	ShippingAddress domain.Address
	BillingAddress  domain.Address
}

// CreateOrderResult - данные, нужные клиенту для открытия виджета оплаты.
type CreateOrderResult struct {
	OrderID        string
	OrderNumber    string
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	KeyID          string
}

// CreateOrder проверяет корзину по живому каталогу, считает суммы, создаёт заказ
// в платёжном шлюзе и только после этого сохраняет заказ со списанием остатков.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (CreateOrderResult, error) {
	if err := validateCreateInput(input); err != nil {
		s.recordRejected("validation")
		return CreateOrderResult{}, err
	}

	items, err := s.inventory.Quote(ctx, s.currency, input.Items)
	if err != nil {
		if domain.IsProductUnavailable(err) {
			s.recordRejected("product_unavailable")
			return CreateOrderResult{}, err
		}
		if errors.Is(err, domain.ErrValidation) {
			s.recordRejected("validation")
			return CreateOrderResult{}, err
		}
		return CreateOrderResult{}, fmt.Errorf("quote cart: %w", err)
	}

	now := s.now()
	number, err := s.nextNumber(now)
	if err != nil {
		return CreateOrderResult{}, err
	}

	order := domain.Order{
		ID:              uuid.NewString(),
		Number:          number,
		Customer:        trimCustomer(input.Customer),
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Currency:        s.currency,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.BillingAddress == (domain.Address{}) {
		order.BillingAddress = order.ShippingAddress
	}
	domain.CalculateTotals(items, s.shipping).Apply(&order)

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}

	gatewayOrder, err := s.createGatewayOrder(ctx, order)
	if err != nil {
		s.recordRejected("gateway")
		return CreateOrderResult{}, err
	}
	order.GatewayOrderID = gatewayOrder.ID

	logger := s.logger.WithFields(log.Fields{
		"order_id":         order.ID,
		"order_number":     order.Number,
		"gateway_order_id": order.GatewayOrderID,
	})

	if err := s.orders.Create(ctx, order); err != nil {
		// Заказ в шлюзе уже создан, а у нас его нет: оплатить его клиент не сможет.
		if s.metrics != nil {
			s.metrics.RecordOrphanedGatewayOrder()
		}
		logger.WithError(err).Warn("order not persisted, gateway order orphaned")

		if domain.IsProductUnavailable(err) {
			s.recordRejected("product_unavailable")
			return CreateOrderResult{}, err
		}
		return CreateOrderResult{}, fmt.Errorf("persist order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}
	logger.WithField("total_minor", order.TotalMinor).Info("order created")

	s.emitEvent(ctx, order, domain.EventOrderCreated, domain.TimelineOrderCreated, "", eventDetails{})

	return CreateOrderResult{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		GatewayOrderID: order.GatewayOrderID,
		AmountMinor:    order.TotalMinor,
		Currency:       order.Currency,
		KeyID:          s.gateway.KeyID(),
	}, nil
}

func (s *Service) createGatewayOrder(ctx context.Context, order domain.Order) (domain.GatewayOrder, error) {
	start := s.now()
	gatewayOrder, err := s.gateway.CreateOrder(ctx, domain.GatewayOrderRequest{
		AmountMinor: order.TotalMinor,
		Currency:    order.Currency,
		Receipt:     order.Number,
		Notes: map[string]string{
			"order_id":     order.ID,
			"order_number": order.Number,
		},
	})
	if s.metrics != nil {
		s.metrics.RecordGatewayCall("create_order", s.now().Sub(start), err)
	}
	if err != nil {
		s.logger.WithError(err).WithField("order_number", order.Number).Warn("gateway order creation failed")
		if errors.Is(err, domain.ErrPaymentGateway) {
			return domain.GatewayOrder{}, err
		}
		return domain.GatewayOrder{}, &domain.GatewayError{Err: err}
	}
	if gatewayOrder.ID == "" {
		return domain.GatewayOrder{}, &domain.GatewayError{Err: errors.New("gateway returned empty order id")}
	}
	return gatewayOrder, nil
}

func (s *Service) recordRejected(reason string) {
	if s.metrics != nil {
		s.metrics.RecordOrderRejected(reason)
	}
}

func validateCreateInput(input CreateOrderInput) error {
	var errs []error
	if len(input.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	totals := make(map[string]int32, len(input.Items))
	for _, line := range input.Items {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			errs = append(errs, domain.ErrProductIDRequired)
		}
		total, err := domain.AddQuantity(id, totals[id], line.Quantity)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		totals[id] = total
	}
	errs = append(errs, input.Customer.Validate()...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
}

func trimCustomer(c domain.Customer) domain.Customer {
	return domain.Customer{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.TrimSpace(c.Email),
		Phone: strings.TrimSpace(c.Phone),
	}
}
