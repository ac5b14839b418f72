package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Signer считает и проверяет HMAC-SHA256 подписи платёжного шлюза.
type Signer struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewSigner создаёт Signer. webhookSecret может быть пустым, тогда webhooks отклоняются.
func NewSigner(keySecret, webhookSecret string) *Signer {
	return &Signer{
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
	}
}

// Sign возвращает hex(HMAC_SHA256(secret, "<gateway_order_id>|<gateway_payment_id>")).
func (s *Signer) Sign(gatewayOrderID, gatewayPaymentID string) string {
	return sign(s.keySecret, []byte(gatewayOrderID+"|"+gatewayPaymentID))
}

// Verify сравнивает подпись за постоянное время.
func (s *Signer) Verify(gatewayOrderID, gatewayPaymentID, signature string) error {
	if len(s.keySecret) == 0 {
		return domain.ErrSignatureMismatch
	}
	return compare(s.Sign(gatewayOrderID, gatewayPaymentID), signature)
}

// SignWebhook возвращает подпись тела webhook.
func (s *Signer) SignWebhook(body []byte) string {
	return sign(s.webhookSecret, body)
}

// VerifyWebhook проверяет заголовок X-Razorpay-Signature.
func (s *Signer) VerifyWebhook(body []byte, signature string) error {
	if len(s.webhookSecret) == 0 {
		return domain.ErrSignatureMismatch
	}
	return compare(s.SignWebhook(body), signature)
}

func sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func compare(expected, provided string) error {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return domain.ErrSignatureMismatch
	}
	return nil
}
