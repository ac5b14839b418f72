package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation - общая ошибка валидации входных данных checkout.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара: <= 0 или больше MaxItemQuantity.
	ErrItemQtyInvalid = errors.New("item quantity is out of range")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrProductIDRequired = errors.New("product id is required")
	// Ошибки незаполненных контактных данных покупателя.
	ErrCustomerNameRequired  = errors.New("customer name is required")
	ErrCustomerEmailRequired = errors.New("customer email is required")
	ErrCustomerPhoneRequired = errors.New("customer phone is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка несоответствия итоговой суммы и её составляющих.
	ErrAmountMismatch = errors.New("order total does not match subtotal + shipping + tax - discount")
	// Ошибка несоответствия подытога и суммы позиций.
	ErrSubtotalMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order number is required")

	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInactive - товар снят с продажи.
	ErrProductInactive = errors.New("product is not active")
	// ErrInsufficientStock - на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductNameRequired - товар без названия нельзя сохранить.
	ErrProductNameRequired = errors.New("product name is required")
	// ErrStockNegative - остаток не может быть отрицательным.
	ErrStockNegative = errors.New("stock quantity must be non-negative")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists - заказ с таким ID или номером уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidStatusTransition - недопустимый переход статуса исполнения.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrInvalidPaymentTransition - недопустимый переход статуса оплаты.
	ErrInvalidPaymentTransition = errors.New("invalid payment status transition")
	// ErrPaymentAlreadyRecorded - по заказу уже записан другой платёж.
	ErrPaymentAlreadyRecorded = errors.New("payment already recorded for order")

	// ErrSignatureMismatch - подпись платежа не совпала с ожидаемой.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrGatewayOrderMismatch - gateway order id из callback не принадлежит заказу.
	ErrGatewayOrderMismatch = errors.New("gateway order id does not match order")
	// ErrPaymentGateway - ошибка платёжного шлюза при создании заказа.
	ErrPaymentGateway = errors.New("payment gateway error")

	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-key.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// ProductUnavailableError описывает позицию корзины, из-за которой отклонён весь заказ.
type ProductUnavailableError struct {
	ProductID string
	Name      string
	Requested int32
	Available int32
	Reason    error
}

func (e *ProductUnavailableError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	switch {
	case errors.Is(e.Reason, ErrProductNotFound):
		return fmt.Sprintf("product %s not found", name)
	case errors.Is(e.Reason, ErrProductInactive):
		return fmt.Sprintf("product %s is not available", name)
	case errors.Is(e.Reason, ErrInsufficientStock):
		return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
	default:
		return fmt.Sprintf("product %s is unavailable", name)
	}
}

func (e *ProductUnavailableError) Unwrap() error {
	return e.Reason
}

// GatewayError переносит описание ошибки от платёжного шлюза до клиента.
type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *GatewayError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Err != nil {
		return fmt.Sprintf("payment gateway error: %v", e.Err)
	}
	return "payment gateway error"
}

// Unwrap позволяет сопоставлять ошибку и с ErrPaymentGateway, и с транспортной причиной.
func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPaymentGateway}
	}
	return []error{ErrPaymentGateway, e.Err}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsProductUnavailable сообщает, что заказ отклонён из-за товара в корзине.
func IsProductUnavailable(err error) bool {
	var target *ProductUnavailableError
	return errors.As(err, &target)
}
