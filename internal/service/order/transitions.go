package order

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/service/retry"
)

// errClaimLost — захваченный заказ изменил кто-то другой; возвращается как ErrConcurrentUpdateConflict.
var errClaimLost = fmt.Errorf("%w: order changed while claimed", domain.ErrConcurrentUpdateConflict)

// Pay оплачивает заказ в PENDING. Заказ захватывается статусом PAYMENT_PROCESSING,
// поэтому параллельные Pay и Cancel получают ErrInvalidStateTransition.
// Обращение к шлюзу идёт без блокировок склада.
func (s *Service) Pay(ctx context.Context, orderID, paymentMethod string) (order domain.Order, err error) {
	defer func() { s.record(domain.OrderEventPay, err) }()

	_, claimed, err := s.claim(ctx, orderID, domain.OrderEventPay, domain.OrderStatusPaymentProcessing, nil, nil)
	if err != nil {
		return domain.Order{}, err
	}
	logger := s.logger.WithField("order_id", orderID)
	bg := context.WithoutCancel(ctx)

	paymentID, err := s.payments.Charge(ctx, orderID, claimed.FinalTotal, paymentMethod)
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentGateway) {
			err = fmt.Errorf("%w: %w", domain.ErrPaymentGateway, err)
		}
		logger.WithError(err).Warn("payment failed, order returned to pending")
		if restored, ok := s.release(bg, claimed, domain.OrderStatusPending, nil); ok {
			s.emit(bg, restored, kafka.EventTypeOrderPaymentFailed, err.Error(), nil)
		}
		return domain.Order{}, err
	}

	confirmed := make([]domain.OrderItem, 0, len(claimed.Items))
	for _, item := range claimed.Items {
		if err := s.inventory.ConfirmReservation(ctx, item.ProductID, item.Quantity); err != nil {
			logger.WithError(err).WithField("product_id", item.ProductID).Error("confirm reservation failed, rolling back payment")
			s.rollbackPayment(bg, claimed, confirmed, paymentID)
			return domain.Order{}, err
		}
		confirmed = append(confirmed, item)
	}

	order, err = s.finalize(bg, claimed, domain.OrderStatusPaid, func(o *domain.Order) {
		o.PaymentID = paymentID
		o.PaymentMethod = paymentMethod
		o.PaidAt = s.stamp()
	})
	if err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("failed to persist paid order, rolling back payment")
		s.rollbackPayment(bg, claimed, confirmed, paymentID)
		return domain.Order{}, err
	}

	s.emit(ctx, order, kafka.EventTypeOrderPaid, "", map[string]interface{}{
		"payment_id":     order.PaymentID,
		"payment_method": order.PaymentMethod,
	})
	logger.WithField("payment_id", paymentID).Info("order paid")
	return order, nil
}

// Cancel отменяет заказ в PENDING (снимает резерв) или PAID (возвращает товар на склад).
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (order domain.Order, err error) {
	defer func() { s.record(domain.OrderEventCancel, err) }()

	prev, claimed, err := s.claim(ctx, orderID, domain.OrderEventCancel, domain.OrderStatusCancelled, nil, func(o *domain.Order) {
		o.CancelledAt = s.stamp()
	})
	if err != nil {
		return domain.Order{}, err
	}
	bg := context.WithoutCancel(ctx)

	var effect, undo itemEffect
	switch prev.Status {
	case domain.OrderStatusPending:
		effect, undo = s.inventory.ReleaseReservation, s.inventory.Reserve
	default:
		effect, undo = s.restock, s.inventory.RevertRestock
	}

	if err := s.applyAll(ctx, bg, claimed.Items, effect, undo); err != nil {
		s.release(bg, claimed, prev.Status, func(o *domain.Order) { o.CancelledAt = prev.CancelledAt })
		return domain.Order{}, err
	}

	order = claimed
	s.emit(ctx, order, kafka.EventTypeOrderCancelled, reason, map[string]interface{}{
		"previous_status": string(prev.Status),
	})
	s.logger.WithFields(log.Fields{"order_id": orderID, "from": prev.Status}).Info("order cancelled")
	return order, nil
}

// Refund возвращает деньги за заказ в PAID или SHIPPED и возвращает товар на склад.
// Повторный Refund отклоняется.
func (s *Service) Refund(ctx context.Context, orderID, reason string) (order domain.Order, err error) {
	defer func() { s.record(domain.OrderEventRefund, err) }()

	guard := func(o domain.Order) error {
		if o.RefundID != "" {
			return &domain.TransitionError{OrderID: o.ID, Event: domain.OrderEventRefund, Current: o.Status, Target: domain.OrderStatusRefunded}
		}
		return nil
	}
	prev, claimed, err := s.claim(ctx, orderID, domain.OrderEventRefund, domain.OrderStatusRefunded, guard, nil)
	if err != nil {
		return domain.Order{}, err
	}
	bg := context.WithoutCancel(ctx)
	logger := s.logger.WithField("order_id", orderID)

	// Склад до денег: складские эффекты компенсируемы, возврат платежа — нет.
	if err := s.applyAll(ctx, bg, claimed.Items, s.restock, s.inventory.RevertRestock); err != nil {
		s.release(bg, claimed, prev.Status, nil)
		return domain.Order{}, err
	}

	refundID, err := s.payments.Refund(ctx, orderID, claimed.PaymentID, claimed.FinalTotal)
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentGateway) {
			err = fmt.Errorf("%w: %w", domain.ErrPaymentGateway, err)
		}
		logger.WithError(err).Warn("refund failed, restoring order")
		s.undo(bg, claimed.Items, s.inventory.RevertRestock, "revert restock")
		s.release(bg, claimed, prev.Status, nil)
		return domain.Order{}, err
	}

	order, err = s.finalize(bg, claimed, domain.OrderStatusRefunded, func(o *domain.Order) {
		o.RefundID = refundID
		o.RefundedAt = s.stamp()
	})
	if err != nil {
		logger.WithError(err).WithField("refund_id", refundID).Error("failed to persist refunded order")
		return domain.Order{}, err
	}

	s.emit(ctx, order, kafka.EventTypeOrderRefunded, reason, map[string]interface{}{
		"refund_id":       refundID,
		"previous_status": string(prev.Status),
	})
	logger.WithField("refund_id", refundID).Info("order refunded")
	return order, nil
}

// Ship передаёт оплаченный заказ в доставку.
func (s *Service) Ship(ctx context.Context, orderID string) (order domain.Order, err error) {
	defer func() { s.record(domain.OrderEventShip, err) }()

	_, order, err = s.claim(ctx, orderID, domain.OrderEventShip, domain.OrderStatusShipped, nil, func(o *domain.Order) {
		o.ShippedAt = s.stamp()
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.emit(ctx, order, kafka.EventTypeOrderShipped, "", nil)
	return order, nil
}

// Deliver отмечает доставку заказа.
func (s *Service) Deliver(ctx context.Context, orderID string) (order domain.Order, err error) {
	defer func() { s.record(domain.OrderEventDeliver, err) }()

	_, order, err = s.claim(ctx, orderID, domain.OrderEventDeliver, domain.OrderStatusDelivered, nil, func(o *domain.Order) {
		o.DeliveredAt = s.stamp()
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.emit(ctx, order, kafka.EventTypeOrderDelivered, "", nil)
	return order, nil
}

// claim переводит заказ в статус claimStatus, если таблица переходов разрешает event
// из текущего статуса и guard не возражает. Конфликт версии — перечитать заказ,
// перепроверить условия и повторить.
func (s *Service) claim(
	ctx context.Context,
	orderID string,
	event domain.OrderEvent,
	claimStatus domain.OrderStatus,
	guard func(domain.Order) error,
	mutate func(*domain.Order),
) (prev, claimed domain.Order, err error) {
	logger := s.logger.WithFields(log.Fields{"order_id": orderID, "event": event})
	err = retry.Do(ctx, s.policy, logger, nil, func(ctx context.Context) error {
		current, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := domain.NextStatus(orderID, current.Status, event); err != nil {
			return err
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}

		next := current
		next.Status = claimStatus
		if mutate != nil {
			mutate(&next)
		}
		saved, err := s.orders.Save(ctx, next)
		if err != nil {
			return err
		}
		prev, claimed = current, saved
		return nil
	})
	return prev, claimed, err
}

// finalize переводит захваченный заказ в итоговый статус.
func (s *Service) finalize(ctx context.Context, claimed domain.Order, status domain.OrderStatus, mutate func(*domain.Order)) (domain.Order, error) {
	var saved domain.Order
	err := retry.Do(ctx, s.policy, s.logger.WithField("order_id", claimed.ID), nil, func(ctx context.Context) error {
		current, err := s.orders.Get(ctx, claimed.ID)
		if err != nil {
			return err
		}
		if current.Status != claimed.Status {
			return errClaimLost
		}
		current.Status = status
		if mutate != nil {
			mutate(&current)
		}
		saved, err = s.orders.Save(ctx, current)
		return err
	})
	return saved, err
}

// rollbackPayment отменяет частично проведённую оплату: подтверждённые позиции
// снова уходят в резерв, списание возвращается, заказ — в PENDING.
// Если вернуть статус не удалось, заказ остаётся в PAYMENT_PROCESSING
// и ждёт ручного разбора по логу.
func (s *Service) rollbackPayment(ctx context.Context, claimed domain.Order, confirmed []domain.OrderItem, paymentID string) {
	logger := s.logger.WithFields(log.Fields{"order_id": claimed.ID, "payment_id": paymentID})
	s.undo(ctx, confirmed, s.inventory.RevertConfirmation, "revert confirmation")
	if _, err := s.payments.Refund(ctx, claimed.ID, paymentID, claimed.FinalTotal); err != nil {
		logger.WithError(err).Error("failed to refund charge during payment rollback")
	}
	if restored, ok := s.release(ctx, claimed, domain.OrderStatusPending, nil); ok {
		s.emit(ctx, restored, kafka.EventTypeOrderPaymentFailed, "payment rolled back", nil)
	}
}

// release возвращает захваченный заказ в статус status.
func (s *Service) release(ctx context.Context, claimed domain.Order, status domain.OrderStatus, mutate func(*domain.Order)) (domain.Order, bool) {
	restored, err := s.finalize(ctx, claimed, status, mutate)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": claimed.ID,
			"claimed":  claimed.Status,
			"restore":  status,
		}).Error("failed to restore order status after failed transition")
		return domain.Order{}, false
	}
	return restored, true
}

type itemEffect func(ctx context.Context, productID string, qty int64) error

func (s *Service) restock(ctx context.Context, productID string, qty int64) error {
	_, err := s.inventory.Restock(ctx, productID, qty)
	return err
}

// applyAll применяет effect к каждой позиции; при ошибке откатывает уже применённые через undo.
func (s *Service) applyAll(ctx, bg context.Context, items []domain.OrderItem, effect, undo itemEffect) error {
	applied := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if err := effect(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.WithError(err).WithField("product_id", item.ProductID).Warn("inventory effect failed, compensating")
			s.undo(bg, applied, undo, "compensate inventory effect")
			return err
		}
		applied = append(applied, item)
	}
	return nil
}

// undo применяет компенсацию к позициям в обратном порядке; ошибки только логируются.
func (s *Service) undo(ctx context.Context, items []domain.OrderItem, fn itemEffect, what string) {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if err := fn(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"qty":        item.Quantity,
			}).Error(what + " failed")
		}
	}
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConcurrentUpdateConflict)
}
