package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type RepositoriesSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestRepositoriesSuite(t *testing.T) {
	suite.Run(t, new(RepositoriesSuite))
}

func (s *RepositoriesSuite) SetupTest() {
	s.store = openMigratedStore(s.T())
	s.ctx = context.Background()
}

func (s *RepositoriesSuite) TestStockCompareAndSet() {
	repo := NewStockRepository(s.store)
	s.Require().NoError(repo.Create(s.ctx, domain.StockRecord{ProductID: "p-1", Quantity: 5}))
	s.Require().ErrorIs(repo.Create(s.ctx, domain.StockRecord{ProductID: "p-1", Quantity: 1}), domain.ErrStockAlreadyExists)

	rec, err := repo.Get(s.ctx, "p-1")
	s.Require().NoError(err)
	stale := rec

	rec.Reserved = 2
	updated, err := repo.Update(s.ctx, rec)
	s.Require().NoError(err)
	s.Equal(rec.Version+1, updated.Version)

	stale.Reserved = 1
	_, err = repo.Update(s.ctx, stale)
	s.Require().ErrorIs(err, domain.ErrVersionConflict)

	_, err = repo.Update(s.ctx, domain.StockRecord{ProductID: "ghost", Quantity: 1})
	s.Require().ErrorIs(err, domain.ErrStockNotFound)

	_, err = repo.Get(s.ctx, "ghost")
	s.Require().ErrorIs(err, domain.ErrStockNotFound)
}

func (s *RepositoriesSuite) TestStockConcurrentUpdatesSingleWinnerPerVersion() {
	repo := NewStockRepository(s.store)
	s.Require().NoError(repo.Create(s.ctx, domain.StockRecord{ProductID: "p-1", Quantity: 10}))
	base, err := repo.Get(s.ctx, "p-1")
	s.Require().NoError(err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := base
			next.Reserved++
			if _, err := repo.Update(s.ctx, next); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *RepositoriesSuite) TestListLowStock() {
	repo := NewStockRepository(s.store)
	s.Require().NoError(repo.Create(s.ctx, domain.StockRecord{ProductID: "a", Quantity: 10, Reserved: 9}))
	s.Require().NoError(repo.Create(s.ctx, domain.StockRecord{ProductID: "b", Quantity: 3}))
	s.Require().NoError(repo.Create(s.ctx, domain.StockRecord{ProductID: "c", Quantity: 50}))

	low, err := repo.ListLowStock(s.ctx, 5)
	s.Require().NoError(err)
	s.Require().Len(low, 2)
	s.Equal("a", low[0].ProductID)
	s.Equal("b", low[1].ProductID)
}

func (s *RepositoriesSuite) TestCouponCaseInsensitiveAndCAS() {
	repo := NewCouponRepository(s.store)
	maxUses := int64(2)
	expires := time.Now().Add(time.Hour).UTC().Round(time.Microsecond)
	s.Require().NoError(repo.Create(s.ctx, domain.Coupon{
		Code:          "Save10",
		DiscountValue: decimal.NewFromInt(10),
		IsPercentage:  true,
		MaxUses:       &maxUses,
		ExpiresAt:     &expires,
	}))
	s.Require().ErrorIs(repo.Create(s.ctx, domain.Coupon{Code: "SAVE10", DiscountValue: decimal.NewFromInt(1)}), domain.ErrCouponAlreadyExists)

	c, err := repo.Get(s.ctx, "save10")
	s.Require().NoError(err)
	s.True(c.DiscountValue.Equal(decimal.NewFromInt(10)))
	s.Require().NotNil(c.MaxUses)
	s.Equal(int64(2), *c.MaxUses)
	s.Require().NotNil(c.ExpiresAt)
	s.True(c.ExpiresAt.Equal(expires))

	stale := c
	c.UsedCount = 1
	c, err = repo.Update(s.ctx, c)
	s.Require().NoError(err)
	s.Equal(int64(1), c.Version)

	stale.UsedCount = 1
	_, err = repo.Update(s.ctx, stale)
	s.Require().ErrorIs(err, domain.ErrVersionConflict)

	_, err = repo.Get(s.ctx, "nope")
	s.Require().ErrorIs(err, domain.ErrCouponNotFound)
}

func sampleOrder(id, userID string, created time.Time) domain.Order {
	order := domain.Order{
		ID:                id,
		UserID:            userID,
		ShippingAddressID: "addr-1",
		Status:            domain.OrderStatusPending,
		Items: []domain.OrderItem{
			domain.NewOrderItem("p-1", 2, decimal.RequireFromString("50.00")),
			domain.NewOrderItem("p-2", 1, decimal.RequireFromString("19.99")),
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	order.ApplyPricing(&domain.Coupon{Code: "SAVE10", DiscountValue: decimal.NewFromInt(10), IsPercentage: true})
	return order
}

func (s *RepositoriesSuite) TestOrderLifecycle() {
	repo := NewOrderRepository(s.store)
	now := time.Now().UTC().Round(time.Microsecond)
	first := sampleOrder("order-1", "user-1", now.Add(-2*time.Minute))
	second := sampleOrder("order-2", "user-1", now.Add(-time.Minute))

	s.Require().NoError(repo.Create(s.ctx, first))
	s.Require().NoError(repo.Create(s.ctx, second))
	s.Require().ErrorIs(repo.Create(s.ctx, first), domain.ErrVersionConflict)

	got, err := repo.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(first.UserID, got.UserID)
	s.Require().Len(got.Items, 2)
	s.Equal("p-1", got.Items[0].ProductID)
	s.True(got.FinalTotal.Equal(first.FinalTotal))
	s.Empty(got.ValidateInvariants())

	listed, err := repo.ListByUser(s.ctx, "user-1", 1)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(second.ID, listed[0].ID)
	s.Len(listed[0].Items, 2)

	paidAt := now
	got.Status = domain.OrderStatusPaid
	got.PaymentID = "PAY-1"
	got.PaidAt = &paidAt
	saved, err := repo.Save(s.ctx, got)
	s.Require().NoError(err)
	s.Equal(got.Version+1, saved.Version)

	_, err = repo.Save(s.ctx, got)
	s.Require().ErrorIs(err, domain.ErrVersionConflict)

	reloaded, err := repo.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, reloaded.Status)
	s.Equal("PAY-1", reloaded.PaymentID)
	s.Require().NotNil(reloaded.PaidAt)

	_, err = repo.Save(s.ctx, domain.Order{ID: "ghost"})
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
	_, err = repo.Get(s.ctx, "ghost")
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *RepositoriesSuite) TestDirectoryAndCatalog() {
	dir := NewDirectory(s.store)
	s.Require().NoError(dir.PutUser(s.ctx, domain.User{ID: "user-1", Email: "a@example.com"}))
	s.Require().NoError(dir.PutAddress(s.ctx, domain.Address{ID: "addr-1", UserID: "user-1", Line: "Main st"}))
	s.Require().NoError(dir.PutProduct(s.ctx, domain.Product{ID: "p-1", Name: "Keyboard", Price: decimal.RequireFromString("50.00")}))
	s.Require().NoError(dir.PutProduct(s.ctx, domain.Product{ID: "p-2", Name: "Mouse", Price: decimal.RequireFromString("19.99")}))
	s.Require().NoError(dir.PutCart(s.ctx, domain.Cart{ID: "cart-1", UserID: "user-1", Items: []domain.CartItem{
		{ProductID: "p-1", Quantity: 2},
		{ProductID: "p-2", Quantity: 1},
	}}))

	cart, err := dir.GetCart(s.ctx, "cart-1")
	s.Require().NoError(err)
	s.Require().Len(cart.Items, 2)
	s.Equal("p-1", cart.Items[0].ProductID)
	s.Equal("user-1", cart.UserID)

	products, err := dir.Products(s.ctx, []string{"p-1", "p-2"})
	s.Require().NoError(err)
	s.True(products["p-2"].Price.Equal(decimal.RequireFromString("19.99")))

	_, err = dir.Products(s.ctx, []string{"p-1", "p-404"})
	s.Require().ErrorIs(err, domain.ErrProductNotFound)

	s.Require().NoError(dir.ClearCart(s.ctx, "cart-1"))
	cart, err = dir.GetCart(s.ctx, "cart-1")
	s.Require().NoError(err)
	s.Empty(cart.Items)

	_, err = dir.GetUser(s.ctx, "ghost")
	s.Require().ErrorIs(err, domain.ErrUserNotFound)
	_, err = dir.GetAddress(s.ctx, "ghost")
	s.Require().ErrorIs(err, domain.ErrAddressNotFound)
	s.Require().ErrorIs(dir.ClearCart(s.ctx, "ghost"), domain.ErrCartNotFound)
}

func (s *RepositoriesSuite) TestOutboxFlow() {
	repo := NewOutboxRepository(s.store)
	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		_, err := repo.Enqueue(s.ctx, domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   fmt.Sprintf("order-%d", i),
			EventType:     "order.created",
			Payload:       []byte(`{"order_id":"x"}`),
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
		s.Require().NoError(err)
	}

	stats, err := repo.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, stats.PendingCount)
	s.False(stats.OldestPendingAt.IsZero())

	batch, err := repo.PullPending(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(batch, 2)
	s.Equal("order-0", batch[0].AggregateID)

	s.Require().NoError(repo.MarkSent(s.ctx, batch[0].ID))
	s.Require().NoError(repo.MarkFailed(s.ctx, batch[1].ID))
	s.Require().ErrorIs(repo.MarkSent(s.ctx, "missing"), domain.ErrOutboxPublish)

	stats, err = repo.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.PendingCount)
}

func (s *RepositoriesSuite) TestTimelineAppendOrder() {
	repo := NewTimelineRepository(s.store)
	now := time.Now().UTC()
	s.Require().NoError(repo.Append(s.ctx, domain.TimelineEvent{OrderID: "order-1", Type: "order.created", Status: domain.OrderStatusPending, Occurred: now}))
	s.Require().NoError(repo.Append(s.ctx, domain.TimelineEvent{OrderID: "order-2", Type: "order.created", Status: domain.OrderStatusPending}))
	s.Require().NoError(repo.Append(s.ctx, domain.TimelineEvent{OrderID: "order-1", Type: "order.paid", Status: domain.OrderStatusPaid, Occurred: now}))
	s.Require().ErrorIs(repo.Append(s.ctx, domain.TimelineEvent{OrderID: "order-1", Type: "order.lost", Status: "LOST"}), domain.ErrTimelineEventInvalid)

	events, err := repo.List(s.ctx, "order-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(int64(1), events[0].Seq)
	s.Equal("order.created", events[0].Type)
	s.Equal(int64(2), events[1].Seq)
	s.Equal(domain.OrderStatusPaid, events[1].Status)
}

func (s *RepositoriesSuite) TestIdempotencyKeys() {
	repo := NewIdempotencyRepository(s.store)
	ttl := time.Now().UTC().Add(time.Hour)

	rec, err := repo.CreateProcessing(s.ctx, "key-1", "hash-1", ttl)
	s.Require().NoError(err)
	s.Equal(domain.IdempotencyStatusProcessing, rec.Status)

	_, err = repo.CreateProcessing(s.ctx, "key-1", "hash-1", ttl)
	s.Require().ErrorIs(err, domain.ErrIdempotencyKeyAlreadyExists)
	_, err = repo.CreateProcessing(s.ctx, "key-1", "hash-2", ttl)
	s.Require().ErrorIs(err, domain.ErrIdempotencyHashMismatch)

	s.Require().NoError(repo.MarkDone(s.ctx, "key-1", []byte(`{"id":"order-1"}`), 201))
	rec, err = repo.Get(s.ctx, "key-1")
	s.Require().NoError(err)
	s.Equal(domain.IdempotencyStatusDone, rec.Status)
	s.Equal(201, rec.HTTPStatus)
	s.JSONEq(`{"id":"order-1"}`, string(rec.ResponseBody))

	s.Require().ErrorIs(repo.MarkFailed(s.ctx, "missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
	s.Require().ErrorIs(repo.Release(s.ctx, "key-1"), domain.ErrIdempotencyKeyNotFound, "finished key stays")

	_, err = repo.CreateProcessing(s.ctx, "key-2", "hash-1", ttl)
	s.Require().NoError(err)
	s.Require().NoError(repo.Release(s.ctx, "key-2"))
	_, err = repo.CreateProcessing(s.ctx, "key-2", "hash-1", ttl)
	s.Require().NoError(err, "released key can be claimed again")

	_, err = repo.CreateProcessing(s.ctx, "old", "hash", time.Now().UTC().Add(-time.Hour))
	s.Require().NoError(err)
	deleted, err := repo.DeleteExpired(s.ctx, time.Now().UTC(), 10)
	s.Require().NoError(err)
	s.Equal(1, deleted)
	_, err = repo.Get(s.ctx, "old")
	s.Require().ErrorIs(err, domain.ErrIdempotencyKeyNotFound)
}
