package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockRepository хранит складские счётчики. Update — compare-and-set по Version.
type StockRepository interface {
	// Create заводит запись; ErrStockAlreadyExists, если товар уже есть.
	Create(ctx context.Context, rec StockRecord) error
	// Get возвращает запись или ErrStockNotFound.
	Get(ctx context.Context, productID string) (StockRecord, error)
	// Update сохраняет rec, если версия в хранилище равна rec.Version, и увеличивает её.
	// Иначе возвращает ErrVersionConflict.
	Update(ctx context.Context, rec StockRecord) (StockRecord, error)
	// ListLowStock возвращает товары с доступным остатком меньше threshold одним запросом.
	ListLowStock(ctx context.Context, threshold int64) ([]StockRecord, error)
}

// CouponRepository хранит купоны. Update — compare-and-set по Version.
type CouponRepository interface {
	Create(ctx context.Context, c Coupon) error
	Get(ctx context.Context, code string) (Coupon, error)
	Update(ctx context.Context, c Coupon) (Coupon, error)
}

// OrderRepository хранит заказы вместе с позициями. Save — compare-and-set по Version.
type OrderRepository interface {
	// Create пишет новый заказ; повторный ID даёт ErrVersionConflict.
	Create(ctx context.Context, order Order) error
	// Get отдаёт заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми; limit <= 0 — без ограничения.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// Save пишет изменяемые поля, если версия не сдвинулась, и возвращает заказ с новой версией.
	Save(ctx context.Context, order Order) (Order, error)
}

// Directory — справочник пользователей, адресов и корзин.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetAddress(ctx context.Context, id string) (Address, error)
	GetCart(ctx context.Context, cartID string) (Cart, error)
	// ClearCart очищает позиции корзины, сама корзина остаётся.
	ClearCart(ctx context.Context, cartID string) error
}

// Catalog отдаёт цены товаров. Products возвращает все запрошенные товары одним вызовом.
type Catalog interface {
	Products(ctx context.Context, ids []string) (map[string]Product, error)
}

// PaymentGateway — внешний платёжный провайдер.
type PaymentGateway interface {
	// Charge списывает сумму и возвращает идентификатор платежа.
	Charge(ctx context.Context, orderID string, amount decimal.Decimal, method string) (string, error)
	// Refund возвращает деньги по платежу и возвращает идентификатор возврата.
	Refund(ctx context.Context, orderID, paymentID string, amount decimal.Decimal) (string, error)
}

// AvailabilityCache кеширует доступный остаток товара.
type AvailabilityCache interface {
	// Get возвращает значение и признак попадания.
	Get(ctx context.Context, productID string) (int64, bool, error)
	Set(ctx context.Context, productID string, available int64) error
	Invalidate(ctx context.Context, productID string) error
}

// OutboxPublisher доставляет событие из outbox во внешний канал.
// Одно событие может прийти повторно, ID у повторов совпадает.
type OutboxPublisher interface {
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository — очередь событий заказов, ожидающих доставки.
type OutboxRepository interface {
	// Enqueue присваивает ID и CreatedAt, если они пусты.
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending отдаёт до limit самых старых pending-событий, не меняя их состояния.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository — журнал переходов заказа только на дозапись.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	// List отдаёт события заказа по возрастанию Seq.
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ответы на запросы с заголовком Idempotency-Key.
type IdempotencyRepository interface {
	// CreateProcessing занимает ключ или перезанимает истёкший.
	// Живой ключ даёт ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release освобождает ключ в статусе processing, чтобы повтор выполнился заново.
	// Завершённый или отсутствующий ключ даёт ErrIdempotencyKeyNotFound.
	Release(ctx context.Context, key string) error
	// DeleteExpired удаляет до limit ключей с ttl_at <= before и возвращает их число.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage — событие в outbox. Payload уже сериализован в JSON.
type OutboxMessage struct {
	ID            string
	AggregateType string
	// AggregateID служит ключом партиции, события одного заказа идут по порядку.
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// OutboxStats — размер очереди outbox; OldestPendingAt нулевой при пустой очереди.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
