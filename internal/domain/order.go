package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает состояние исполнения заказа.
type OrderStatus string

const (
	// OrderStatusPending - заказ создан и ждёт подтверждения оплаты.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed - оплата подтверждена, заказ готов к сборке.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped - заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered - заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled - заказ отменён до завершения цикла.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusCancelled},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo сообщает, разрешён ли переход из s в next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem - снимок позиции на момент оформления. После создания заказа
// не пересчитывается из каталога.
type OrderItem struct {
	ProductID  string
	Name       string
	PriceMinor int64
	Quantity   int32
	Image      string
}

// LineTotalMinor возвращает price * quantity в минимальных единицах.
func (i OrderItem) LineTotalMinor() int64 {
	return i.PriceMinor * int64(i.Quantity)
}

// Customer - контактные данные покупателя.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Address - адрес доставки или плательщика в свободной структурированной форме.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Order агрегирует состояние заказа, суммы и привязку к платёжному шлюзу.
type Order struct {
	ID     string
	Number string

	Customer        Customer
	ShippingAddress Address
	BillingAddress  Address

	Currency      string
	SubtotalMinor int64
	ShippingMinor int64
	TaxMinor      int64
	DiscountMinor int64
	TotalMinor    int64

	Status        OrderStatus
	PaymentStatus PaymentStatus

	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string

	Items []OrderItem

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    time.Time
}

// ItemsSubtotalMinor суммирует price * quantity по снимку позиций.
func (o *Order) ItemsSubtotalMinor() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.LineTotalMinor()
	}
	return sum
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
// Хранилище их не проверяет: это ответственность того, кто собирает заказ.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.Number) == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	errs = append(errs, o.Customer.Validate()...)
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 || item.Quantity > MaxItemQuantity {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if o.ItemsSubtotalMinor() != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if o.SubtotalMinor+o.ShippingMinor+o.TaxMinor-o.DiscountMinor != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Validate проверяет обязательные контактные поля.
func (c Customer) Validate() []error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if strings.TrimSpace(c.Email) == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if strings.TrimSpace(c.Phone) == "" {
		errs = append(errs, ErrCustomerPhoneRequired)
	}
	return errs
}

// TransitionStatus меняет статус исполнения. Платёжные поля не трогает.
func (o *Order) TransitionStatus(next OrderStatus, now time.Time) error {
	if !next.Valid() || !o.Status.CanTransitionTo(next) {
		return ErrInvalidStatusTransition
	}
	// Отгружать можно только оплаченный заказ.
	if (next == OrderStatusShipped || next == OrderStatusDelivered) && o.PaymentStatus != PaymentStatusPaid {
		return ErrInvalidStatusTransition
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}
