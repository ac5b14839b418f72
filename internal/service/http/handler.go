package httpsvc

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const (
	headerWebhookSignature = "X-Razorpay-Signature"
	headerWebhookEventID   = "X-Razorpay-Event-Id"
	maxWebhookBody         = 1 << 20
)

// Options - необязательные зависимости HTTP API.
type Options struct {
	// Idempotency включает кэш ответов create-order по заголовку Idempotency-Key.
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	// AdminSecret - HS256 ключ для токенов back-office. Пустой ключ отключает /admin.
	AdminSecret []byte
	Metrics     *metrics.HTTPMetrics
	Logger      *log.Entry
}

// Handler реализует JSON API витрины поверх checkout.Service.
type Handler struct {
	checkout *checkout.Service
	idem     domain.IdempotencyRepository
	idemTTL  time.Duration
	secret   []byte
	metrics  *metrics.HTTPMetrics
	logger   *log.Entry
}

// NewHandler создаёт обработчики HTTP API.
func NewHandler(svc *checkout.Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return &Handler{
		checkout: svc,
		idem:     opts.Idempotency,
		idemTTL:  ttl,
		secret:   opts.AdminSecret,
		metrics:  opts.Metrics,
		logger:   logger.WithField("component", "http"),
	}
}

// Router собирает gin.Engine со всеми маршрутами и middleware.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(h.recovery(), h.requestLogger())
	if h.metrics != nil {
		r.Use(PrometheusMiddleware(h.metrics))
	}
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes регистрирует публичные и административные маршруты.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	checkoutGroup := r.Group("/checkout")
	checkoutGroup.POST("/create-order", h.idempotent(), h.CreateOrder)
	checkoutGroup.POST("/verify-payment", h.VerifyPayment)
	checkoutGroup.POST("/webhook", h.Webhook)

	r.GET("/orders/:number", h.GetOrder)

	if len(h.secret) == 0 {
		h.logger.Warn("admin secret is empty, /admin routes disabled")
		return
	}

	admin := r.Group("/admin", AdminAuth(h.secret))
	admin.GET("/orders", h.ListOrders)
	admin.GET("/orders/:id", h.GetOrderDetails)
	admin.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	admin.GET("/products", h.ListProducts)
	admin.GET("/products/:id", h.GetProduct)
	admin.PUT("/products/:id", h.UpsertProduct)
}

// CreateOrder - POST /checkout/create-order.
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := h.checkout.CreateOrder(c.Request.Context(), req.toInput())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateOrderResponse{
		OrderID:        result.OrderID,
		OrderNumber:    result.OrderNumber,
		GatewayOrderID: result.GatewayOrderID,
		Amount:         result.AmountMinor,
		Currency:       result.Currency,
		KeyID:          result.KeyID,
	})
}

// VerifyPayment - POST /checkout/verify-payment.
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := h.checkout.VerifyPayment(c.Request.Context(), req.toInput())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, VerifyPaymentResponse{Success: true, OrderNumber: result.OrderNumber})
}

// Webhook - POST /checkout/webhook. Подпись проверяется по сырому телу.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "invalid request body")
		return
	}

	outcome, err := h.checkout.HandleWebhook(
		c.Request.Context(),
		strings.TrimSpace(c.GetHeader(headerWebhookEventID)),
		body,
		c.GetHeader(headerWebhookSignature),
	)
	if err != nil {
		if status, _ := statusForError(err); status == http.StatusBadRequest {
			h.logger.WithError(err).Debug("webhook rejected")
			badRequest(c, "invalid webhook")
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome})
}

// GetOrder - GET /orders/:number, данные для страницы подтверждения.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.checkout.GetOrderByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, false))
}

// ListOrders - GET /admin/orders?status=&payment_status=&limit=.
func (h *Handler) ListOrders(c *gin.Context) {
	filter := domain.OrderFilter{
		Status:        domain.OrderStatus(strings.TrimSpace(c.Query("status"))),
		PaymentStatus: domain.PaymentStatus(strings.TrimSpace(c.Query("payment_status"))),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	orders, err := h.checkout.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order, true))
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp})
}

// GetOrderDetails - GET /admin/orders/:id.
func (h *Handler) GetOrderDetails(c *gin.Context) {
	details, err := h.checkout.GetOrderDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	timeline := make([]timelineEventResponse, 0, len(details.Timeline))
	for _, event := range details.Timeline {
		timeline = append(timeline, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	c.JSON(http.StatusOK, OrderDetailsResponse{
		Order:    toOrderResponse(details.Order, true),
		Timeline: timeline,
	})
}

// UpdateOrderStatus - PATCH /admin/orders/:id/status.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	order, err := h.checkout.UpdateStatus(
		c.Request.Context(),
		c.Param("id"),
		domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		req.Reason,
	)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order, true))
}

// ListProducts - GET /admin/products?limit=.
func (h *Handler) ListProducts(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	products, err := h.checkout.ListProducts(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": resp})
}

// GetProduct - GET /admin/products/:id.
func (h *Handler) GetProduct(c *gin.Context) {
	product, err := h.checkout.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

// UpsertProduct - PUT /admin/products/:id.
func (h *Handler) UpsertProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	price, err := domain.ParseMajor(strings.TrimSpace(req.Price))
	if err != nil {
		badRequest(c, "price must be a decimal amount with at most two fraction digits")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	saved, err := h.checkout.UpsertProduct(c.Request.Context(), domain.Product{
		ID:            c.Param("id"),
		Name:          req.Name,
		PriceMinor:    price,
		Currency:      req.Currency,
		StockQuantity: req.StockQuantity,
		Active:        active,
		Image:         req.Image,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(saved))
}
