package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

// CreateRequest — параметры оформления заказа из корзины пользователя.
type CreateRequest struct {
	UserID            string
	CartID            string
	ShippingAddressID string
	CouponCode        string
}

// reservation — резерв, сделанный в рамках одной попытки Create.
type reservation struct {
	productID string
	qty       int64
}

// Create оформляет заказ из корзины: проверяет пользователя и адрес, гасит купон,
// резервирует позиции и сохраняет заказ в PENDING. При любой ошибке после
// первого резерва все резервы этой попытки снимаются в обратном порядке,
// а использование купона возвращается.
func (s *Service) Create(ctx context.Context, req CreateRequest) (order domain.Order, err error) {
	defer func() { s.record(domain.OrderEventCreate, err) }()

	req.UserID = strings.TrimSpace(req.UserID)
	req.CartID = strings.TrimSpace(req.CartID)
	req.CouponCode = strings.TrimSpace(req.CouponCode)
	if req.UserID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	if req.CartID == "" {
		return domain.Order{}, domain.ErrCartRequired
	}

	if _, err := s.directory.GetUser(ctx, req.UserID); err != nil {
		return domain.Order{}, err
	}
	addr, err := s.directory.GetAddress(ctx, req.ShippingAddressID)
	if err != nil {
		return domain.Order{}, err
	}
	if addr.UserID != req.UserID {
		return domain.Order{}, domain.ErrAddressNotOwned
	}

	cart, err := s.directory.GetCart(ctx, req.CartID)
	if err != nil {
		return domain.Order{}, err
	}
	if cart.UserID != req.UserID {
		return domain.Order{}, fmt.Errorf("cart %s: %w", cart.ID, domain.ErrAccessDenied)
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, domain.ErrCartEmpty
	}

	ids := make([]string, 0, len(cart.Items))
	seen := make(map[string]struct{}, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("product %s: %w", item.ProductID, domain.ErrQuantityInvalid)
		}
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			ids = append(ids, item.ProductID)
		}
	}
	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}

	var coupon *domain.Coupon
	if req.CouponCode != "" {
		c, err := s.coupons.Redeem(ctx, req.CouponCode)
		if err != nil {
			return domain.Order{}, err
		}
		coupon = &c
	}

	reserved := make([]reservation, 0, len(cart.Items))
	compensate := func(cause error) {
		s.compensateCreate(ctx, req.UserID, reserved, coupon, cause)
	}

	for _, item := range cart.Items {
		if err := s.inventory.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			compensate(err)
			return domain.Order{}, err
		}
		reserved = append(reserved, reservation{productID: item.ProductID, qty: item.Quantity})
	}

	now := s.now().UTC()
	order = domain.Order{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		ShippingAddressID: addr.ID,
		Status:            domain.OrderStatusPending,
		Items:             make([]domain.OrderItem, 0, len(cart.Items)),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, domain.NewOrderItem(item.ProductID, item.Quantity, products[item.ProductID].Price))
	}
	order.ApplyPricing(coupon)

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		err := errors.Join(errs...)
		compensate(err)
		return domain.Order{}, err
	}

	if err := s.orders.Create(ctx, order); err != nil {
		compensate(err)
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	s.emit(ctx, order, kafka.EventTypeOrderCreated, "", map[string]interface{}{
		"items_count": len(order.Items),
		"coupon_code": order.CouponCode,
		"discount":    order.Discount.StringFixed(2),
	})

	if err := s.directory.ClearCart(ctx, cart.ID); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"user_id": req.UserID, "cart_id": cart.ID}).Warn("failed to clear cart after checkout")
	}

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"final_total": order.FinalTotal.StringFixed(2),
	}).Info("order created")
	return order, nil
}

// compensateCreate снимает резервы в обратном порядке и возвращает купон.
// Отмена клиентского контекста не прерывает компенсацию.
func (s *Service) compensateCreate(ctx context.Context, userID string, reserved []reservation, coupon *domain.Coupon, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.WithError(cause).WithField("user_id", userID)

	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := s.inventory.ReleaseReservation(ctx, r.productID, r.qty); err != nil {
			logger.WithFields(log.Fields{
				"product_id":  r.productID,
				"qty":         r.qty,
				"release_err": err,
			}).Error("failed to release reservation during checkout compensation")
		}
	}
	if coupon != nil {
		if err := s.coupons.Revert(ctx, coupon.Code); err != nil {
			logger.WithField("coupon", coupon.Code).WithField("revert_err", err).Error("failed to revert coupon use")
		}
	}
	logger.WithField("reservations", len(reserved)).Warn("checkout compensated")
}
