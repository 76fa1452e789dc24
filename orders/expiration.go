package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

// ExpirePendingOrders sweeps pending orders past their deadline. Driven by
// the scheduler tick.
func (svc *Service) ExpirePendingOrders(ctx context.Context) {
	expired, err := queries.ListExpiredPendingOrders(svc.db, time.Now())
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list expired pending orders")
		return
	}

	for _, stale := range expired {
		err := svc.withOrder(ctx, stale.ID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
			// Re-check under the lock, a taker may have won the race.
			if order.Status != constants.ORDER_STATUS_PENDING || order.ExpiresAt.After(time.Now()) {
				return nil, nil
			}
			order.Status = constants.ORDER_STATUS_EXPIRED
			if err := queries.UpdateOrder(tx, order); err != nil {
				return nil, err
			}
			result := &transitionResult{order: order, publishBook: true}
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionCanceled, nil), order.CreatorPubkey)

			logger.Logger.Info().
				Str("order_id", order.ID).
				Msg("Pending order expired")
			return result, nil
		})
		if err != nil {
			logger.Logger.Error().Err(err).Str("order_id", stale.ID).Msg("Failed to expire pending order")
		}
	}
}

// RevertStaleInvoiceExchange handles orders stuck mid-take past the invoice
// exchange window: the escrow goes back, and the order returns to the book
// until its retry budget runs out.
func (svc *Service) RevertStaleInvoiceExchange(ctx context.Context) {
	cutoff := time.Now().Add(-svc.cfg.InvoiceExpirationWindow())
	stuck, err := queries.ListStaleInvoiceExchangeOrders(svc.db, cutoff)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list stale invoice exchange orders")
		return
	}

	for _, stale := range stuck {
		err := svc.withOrder(ctx, stale.ID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
			switch order.Status {
			case constants.ORDER_STATUS_WAITING_PAYMENT, constants.ORDER_STATUS_WAITING_BUYER_INVOICE:
			default:
				return nil, nil
			}
			if order.TakenAt == nil || order.TakenAt.After(cutoff) {
				return nil, nil
			}

			if err := svc.refundEscrow(ctx, order); err != nil {
				return nil, err
			}

			result := &transitionResult{order: order, publishBook: true}
			takerPubkey := order.TakerPubkey

			order.InvoiceRetries++
			if order.InvoiceRetries >= constants.MAX_INVOICE_EXCHANGE_RETRIES {
				order.Status = constants.ORDER_STATUS_CANCELED
				if err := queries.UpdateOrder(tx, order); err != nil {
					return nil, err
				}
				canceled := protocol.ActionMessage(&order.ID, nil, protocol.ActionCanceled, nil)
				result.send(canceled, order.CreatorPubkey)
				if takerPubkey != nil {
					result.send(canceled, *takerPubkey)
				}
				logger.Logger.Info().
					Str("order_id", order.ID).
					Msg("Invoice exchange retry budget exhausted, order canceled")
				return result, nil
			}

			clearTakerSide(order)
			if err := queries.UpdateOrder(tx, order); err != nil {
				return nil, err
			}
			if takerPubkey != nil {
				result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionCanceled, nil), *takerPubkey)
			}
			logger.Logger.Info().
				Str("order_id", order.ID).
				Int("invoice_retries", order.InvoiceRetries).
				Msg("Invoice exchange timed out, order back to pending")
			return result, nil
		})
		if err != nil {
			logger.Logger.Error().Err(err).Str("order_id", stale.ID).Msg("Failed to revert stale invoice exchange")
		}
	}
}

// RepublishNearExpiry refreshes the replaceable book events of pending
// orders whose expiration tag is about to lapse on the relays.
func (svc *Service) RepublishNearExpiry(ctx context.Context) {
	orders, err := queries.ListOrdersNearExpiration(svc.db, constants.REPUBLISH_WINDOW, time.Now())
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list orders near expiration")
		return
	}
	for i := range orders {
		if err := svc.publisher.PublishOrderEvent(ctx, &orders[i]); err != nil {
			logger.Logger.Error().Err(err).
				Str("order_id", orders[i].ID).
				Msg("Failed to republish order near expiry")
		}
	}
}
