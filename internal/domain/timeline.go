package domain

import (
	"fmt"
	"strings"
	"time"
)

// Типы событий в журнале заказа.
const (
	TimelineOrderCreated       = "OrderCreated"
	TimelinePaymentVerified    = "PaymentVerified"
	TimelinePaymentRejected    = "PaymentVerificationRejected"
	TimelinePaymentFailed      = "PaymentFailed"
	TimelinePaymentRefunded    = "PaymentRefunded"
	TimelineOrderStatusChanged = "OrderStatusChanged"
)

// TimelineEvent - запись журнала заказа. Reason заполняется для отказов и
// ручных переходов статуса.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Validate требует заказ и тип события.
func (e TimelineEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.OrderID) == "":
		return fmt.Errorf("%w: timeline event without order id", ErrValidation)
	case strings.TrimSpace(e.Type) == "":
		return fmt.Errorf("%w: timeline event for %s without type", ErrValidation, e.OrderID)
	}
	return nil
}
