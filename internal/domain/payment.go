package domain

import "time"

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending - платёж ещё не подтверждён.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid - подпись шлюза проверена, деньги получены.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed - шлюз сообщил о неуспешном платеже.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded - деньги возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid проверяет, что статус оплаты известен.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// CanTransitionTo: pending → paid | failed, paid → refunded.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusPaid || next == PaymentStatusFailed
	case PaymentStatusPaid:
		return next == PaymentStatusRefunded
	default:
		return false
	}
}

// MarkPaid фиксирует проверенный платёж. Вызывается только после успешной
// проверки подписи. paymentID и signature записываются один раз.
func (o *Order) MarkPaid(paymentID, signature string, now time.Time) error {
	if o.GatewayPaymentID != "" {
		return ErrPaymentAlreadyRecorded
	}
	if !o.PaymentStatus.CanTransitionTo(PaymentStatusPaid) {
		return ErrInvalidPaymentTransition
	}
	if !o.Status.CanTransitionTo(OrderStatusConfirmed) {
		return ErrInvalidStatusTransition
	}

	o.PaymentStatus = PaymentStatusPaid
	o.Status = OrderStatusConfirmed
	o.GatewayPaymentID = paymentID
	o.GatewaySignature = signature
	o.PaidAt = now
	o.UpdatedAt = now
	return nil
}

// MarkPaymentFailed переводит оплату в failed по событию шлюза.
func (o *Order) MarkPaymentFailed(now time.Time) error {
	if !o.PaymentStatus.CanTransitionTo(PaymentStatusFailed) {
		return ErrInvalidPaymentTransition
	}
	o.PaymentStatus = PaymentStatusFailed
	o.UpdatedAt = now
	return nil
}

// MarkRefunded переводит оплаченный заказ в refunded.
func (o *Order) MarkRefunded(now time.Time) error {
	if !o.PaymentStatus.CanTransitionTo(PaymentStatusRefunded) {
		return ErrInvalidPaymentTransition
	}
	o.PaymentStatus = PaymentStatusRefunded
	o.UpdatedAt = now
	return nil
}
