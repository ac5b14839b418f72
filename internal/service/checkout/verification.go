package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// VerifyPaymentInput - данные, которые виджет шлюза возвращает клиенту после оплаты.
type VerifyPaymentInput struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyPaymentResult - итог проверки.
type VerifyPaymentResult struct {
	OrderID     string
	OrderNumber string
	// Replayed - платёж уже был записан этим же запросом ранее.
	Replayed bool
}

// VerifyPayment проверяет подпись платежа и переводит заказ в paid/confirmed.
// При несовпадении подписи заказ не меняется, а в timeline пишется отказ.
func (s *Service) VerifyPayment(ctx context.Context, input VerifyPaymentInput) (VerifyPaymentResult, error) {
	input = trimVerifyInput(input)
	if err := validateVerifyInput(input); err != nil {
		return VerifyPaymentResult{}, err
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return VerifyPaymentResult{}, err
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":           order.ID,
		"gateway_order_id":   input.GatewayOrderID,
		"gateway_payment_id": input.GatewayPaymentID,
	})

	if order.GatewayOrderID != input.GatewayOrderID {
		s.rejectVerification(ctx, order, "gateway order id does not match order")
		logger.Warn("payment verification rejected: gateway order mismatch")
		return VerifyPaymentResult{}, domain.ErrGatewayOrderMismatch
	}

	// Подпись считается по сохранённому gateway order id, а не по присланному.
	if err := s.signer.Verify(order.GatewayOrderID, input.GatewayPaymentID, input.Signature); err != nil {
		s.rejectVerification(ctx, order, "signature mismatch")
		logger.Warn("payment verification rejected: signature mismatch")
		return VerifyPaymentResult{}, err
	}

	updated, changed, err := s.updateOrder(ctx, order.ID, func(current *domain.Order) error {
		if current.PaymentStatus == domain.PaymentStatusPaid || current.GatewayPaymentID != "" {
			if current.GatewayPaymentID == input.GatewayPaymentID {
				return errNoChange
			}
			return domain.ErrPaymentAlreadyRecorded
		}
		return current.MarkPaid(input.GatewayPaymentID, input.Signature, s.now())
	})
	if err != nil {
		if errors.Is(err, domain.ErrPaymentAlreadyRecorded) {
			s.recordVerification(metrics.VerificationConflict)
			logger.Warn("payment verification conflict: order already paid by another payment")
			return VerifyPaymentResult{}, err
		}
		if errors.Is(err, domain.ErrInvalidPaymentTransition) || errors.Is(err, domain.ErrInvalidStatusTransition) {
			s.recordVerification(metrics.VerificationConflict)
			if updated.PaymentStatus == domain.PaymentStatusFailed {
				s.paymentOnFailedOrder(ctx, updated, input.GatewayPaymentID, logger)
				return VerifyPaymentResult{}, err
			}
			logger.WithField("payment_status", updated.PaymentStatus).Warn("payment verification for order that cannot be paid")
			return VerifyPaymentResult{}, err
		}
		logger.WithError(err).Error("failed to persist verified payment")
		return VerifyPaymentResult{}, fmt.Errorf("persist payment: %w", err)
	}

	result := VerifyPaymentResult{OrderID: updated.ID, OrderNumber: updated.Number, Replayed: !changed}
	if !changed {
		s.recordVerification(metrics.VerificationReplayed)
		logger.Info("payment verification replayed")
		return result, nil
	}

	s.recordVerification(metrics.VerificationAccepted)
	logger.Info("payment verified")
	s.emitEvent(ctx, updated, domain.EventOrderPaid, domain.TimelinePaymentVerified, "", eventDetails{})

	return result, nil
}

// paymentOnFailedOrder фиксирует списанный платёж по заказу, уже закрытому событием
// payment.failed. Деньги возвращаются вручную по gateway_payment_id.
func (s *Service) paymentOnFailedOrder(ctx context.Context, order domain.Order, paymentID string, logger *log.Entry) {
	if s.metrics != nil {
		s.metrics.RecordPaymentOnFailedOrder()
	}
	logger.WithFields(log.Fields{
		"order_number": order.Number,
		"order_status": order.Status,
	}).Error("valid payment for failed order, refund required")
	s.appendTimeline(ctx, order.ID, domain.TimelinePaymentRejected, "payment "+paymentID+" captured after failure, refund required", s.now())
}

func (s *Service) rejectVerification(ctx context.Context, order domain.Order, reason string) {
	s.recordVerification(metrics.VerificationRejected)
	s.appendTimeline(ctx, order.ID, domain.TimelinePaymentRejected, reason, s.now())
}

func (s *Service) recordVerification(result string) {
	if s.metrics != nil {
		s.metrics.RecordVerification(result)
	}
}

func trimVerifyInput(input VerifyPaymentInput) VerifyPaymentInput {
	return VerifyPaymentInput{
		OrderID:          strings.TrimSpace(input.OrderID),
		GatewayOrderID:   strings.TrimSpace(input.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(input.GatewayPaymentID),
		Signature:        strings.TrimSpace(input.Signature),
	}
}

func validateVerifyInput(input VerifyPaymentInput) error {
	var missing []string
	if input.OrderID == "" {
		missing = append(missing, "orderId")
	}
	if input.GatewayOrderID == "" {
		missing = append(missing, "gateway_order_id")
	}
	if input.GatewayPaymentID == "" {
		missing = append(missing, "gateway_payment_id")
	}
	if input.Signature == "" {
		missing = append(missing, "gateway_signature")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
