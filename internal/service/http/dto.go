package httpsvc

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
)

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func addressFromDomain(a domain.Address) addressRequest {
	return addressRequest{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// CreateOrderRequest - тело POST /checkout/create-order.
type CreateOrderRequest struct {
	Items           []cartItemRequest `json:"items"`
	CustomerInfo    customerRequest   `json:"customerInfo"`
	ShippingAddress addressRequest    `json:"shippingAddress"`
	BillingAddress  *addressRequest   `json:"billingAddress,omitempty"`
}

func (r CreateOrderRequest) toInput() checkout.CreateOrderInput {
	lines := make([]inventory.Line, 0, len(r.Items))
	for _, item := range r.Items {
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	input := checkout.CreateOrderInput{
		Items: lines,
		Customer: domain.Customer{
			Name:  r.CustomerInfo.Name,
			Email: r.CustomerInfo.Email,
			Phone: r.CustomerInfo.Phone,
		},
		ShippingAddress: r.ShippingAddress.toDomain(),
	}
	if r.BillingAddress != nil {
		input.BillingAddress = r.BillingAddress.toDomain()
	}
	return input
}

// CreateOrderResponse - данные для открытия виджета оплаты.
type CreateOrderResponse struct {
	OrderID        string `json:"orderId"`
	OrderNumber    string `json:"orderNumber"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId"`
}

// VerifyPaymentRequest принимает поля как в нейтральном, так и в razorpay_* виде.
type VerifyPaymentRequest struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewaySignature string `json:"gateway_signature"`

	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (r VerifyPaymentRequest) toInput() checkout.VerifyPaymentInput {
	return checkout.VerifyPaymentInput{
		OrderID:          r.OrderID,
		GatewayOrderID:   firstNonEmpty(r.GatewayOrderID, r.RazorpayOrderID),
		GatewayPaymentID: firstNonEmpty(r.GatewayPaymentID, r.RazorpayPaymentID),
		Signature:        firstNonEmpty(r.GatewaySignature, r.RazorpaySignature),
	}
}

// VerifyPaymentResponse - ответ успешной проверки.
type VerifyPaymentResponse struct {
	Success     bool   `json:"success"`
	OrderNumber string `json:"orderNumber"`
}

type orderItemResponse struct {
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price"`
	Quantity   int32  `json:"quantity"`
	Image      string `json:"image,omitempty"`
}

type customerResponse struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// OrderResponse - представление заказа. Публичная страница подтверждения
// получает его без контактов покупателя и платёжных идентификаторов.
type OrderResponse struct {
	ID              string              `json:"id,omitempty"`
	Number          string              `json:"orderNumber"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"paymentStatus"`
	Currency        string              `json:"currency"`
	Subtotal        int64               `json:"subtotal"`
	Shipping        int64               `json:"shipping"`
	Tax             int64               `json:"tax"`
	Discount        int64               `json:"discount"`
	Total           int64               `json:"total"`
	Items           []orderItemResponse `json:"items"`
	Customer        customerResponse    `json:"customer"`
	ShippingAddress addressRequest      `json:"shippingAddress"`
	BillingAddress  *addressRequest     `json:"billingAddress,omitempty"`

	GatewayOrderID   string `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string `json:"gatewayPaymentId,omitempty"`
	Version          int64  `json:"version,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
}

func toOrderResponse(order domain.Order, full bool) OrderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:  item.ProductID,
			Name:       item.Name,
			PriceMinor: item.PriceMinor,
			Quantity:   item.Quantity,
			Image:      item.Image,
		})
	}

	resp := OrderResponse{
		Number:          order.Number,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		Currency:        order.Currency,
		Subtotal:        order.SubtotalMinor,
		Shipping:        order.ShippingMinor,
		Tax:             order.TaxMinor,
		Discount:        order.DiscountMinor,
		Total:           order.TotalMinor,
		Items:           items,
		Customer:        customerResponse{Name: order.Customer.Name},
		ShippingAddress: addressFromDomain(order.ShippingAddress),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	if !order.PaidAt.IsZero() {
		paidAt := order.PaidAt
		resp.PaidAt = &paidAt
	}

	if full {
		resp.ID = order.ID
		resp.Customer.Email = order.Customer.Email
		resp.Customer.Phone = order.Customer.Phone
		billing := addressFromDomain(order.BillingAddress)
		resp.BillingAddress = &billing
		resp.GatewayOrderID = order.GatewayOrderID
		resp.GatewayPaymentID = order.GatewayPaymentID
		resp.Version = order.Version
	}
	return resp
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// OrderDetailsResponse - заказ с историей для back-office.
type OrderDetailsResponse struct {
	Order    OrderResponse           `json:"order"`
	Timeline []timelineEventResponse `json:"timeline"`
}

// UpdateStatusRequest - тело PATCH /admin/orders/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ProductRequest - тело PUT /admin/products/:id. Цена в основных единицах ("1499.00").
type ProductRequest struct {
	Name          string `json:"name"`
	Price         string `json:"price"`
	Currency      string `json:"currency"`
	StockQuantity int32  `json:"stockQuantity"`
	Active        *bool  `json:"active"`
	Image         string `json:"image"`
}

// ProductResponse - товар каталога для back-office.
type ProductResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Price         string    `json:"price"`
	PriceMinor    int64     `json:"priceMinor"`
	Currency      string    `json:"currency"`
	StockQuantity int32     `json:"stockQuantity"`
	Active        bool      `json:"active"`
	Image         string    `json:"image,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		Price:         domain.FormatMinor(p.PriceMinor),
		PriceMinor:    p.PriceMinor,
		Currency:      p.Currency,
		StockQuantity: p.StockQuantity,
		Active:        p.Active,
		Image:         p.Image,
		UpdatedAt:     p.UpdatedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
