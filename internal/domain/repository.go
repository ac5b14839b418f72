package domain

import (
	"context"
	"time"
)

// ProductRepository - доступ к каталогу товаров.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// List возвращает товары, отсортированные по ID.
	List(ctx context.Context, limit int) ([]Product, error)
	// Upsert создаёт или обновляет товар.
	Upsert(ctx context.Context, product Product) error
	// Restock возвращает на склад количество из позиций отменённого или неоплаченного заказа.
	Restock(ctx context.Context, items []OrderItem) error
}

// OrderFilter ограничивает выборку заказов для back-office.
type OrderFilter struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Limit         int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и в той же операции списывает остатки
	// условным обновлением (stock >= qty). Если остатка уже нет, возвращает
	// *ProductUnavailableError и ничего не сохраняет.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByNumber ищет заказ по человекочитаемому номеру.
	GetByNumber(ctx context.Context, number string) (Order, error)
	// GetByGatewayOrderID ищет заказ по идентификатору заказа в шлюзе.
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error)
	// List возвращает заказы, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
