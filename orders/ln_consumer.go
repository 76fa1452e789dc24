package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/events"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

// LnConsumer feeds hold invoice notifications from the LN gateway into the
// state machine.
type LnConsumer struct {
	svc *Service
}

func NewLnConsumer(svc *Service) *LnConsumer {
	return &LnConsumer{svc: svc}
}

func (c *LnConsumer) ConsumeEvent(ctx context.Context, event *events.Event, globalProperties map[string]interface{}) {
	notification, ok := event.Properties.(*lnclient.InvoiceNotification)
	if !ok {
		return
	}

	switch event.Event {
	case events.HoldInvoiceAcceptedEvent:
		c.svc.HoldInvoiceAccepted(ctx, notification.PaymentHash)
	case events.HoldInvoiceSettledEvent:
		c.svc.HoldInvoiceSettled(ctx, notification.PaymentHash)
	case events.HoldInvoiceCanceledEvent:
		c.svc.HoldInvoiceCanceled(ctx, notification.PaymentHash)
	}
}

// markLnEventProcessed dedupes LN notifications by (hash, type). Returns
// false when this event was already consumed.
func markLnEventProcessed(tx *gorm.DB, hash string, eventType string) bool {
	var count int64
	tx.Model(&db.ProcessedLnEvent{}).
		Where("hash = ? AND event_type = ?", hash, eventType).
		Count(&count)
	if count > 0 {
		return false
	}
	if err := tx.Create(&db.ProcessedLnEvent{Hash: hash, EventType: eventType}).Error; err != nil {
		return false
	}
	return true
}

// HoldInvoiceAccepted fires when the seller paid the hold invoice and the
// HTLC is locked. Depending on whether the buyer's payout invoice is already
// known the order goes active or waits for it.
func (svc *Service) HoldInvoiceAccepted(ctx context.Context, hash string) {
	order, err := queries.GetOrderByHash(svc.db, hash)
	if err != nil {
		logger.Logger.Debug().Str("hash", hash).Msg("Accepted hold invoice does not belong to any order")
		return
	}

	err = svc.withOrder(ctx, order.ID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		if !markLnEventProcessed(tx, hash, lnclient.INVOICE_STATE_ACCEPTED) {
			return nil, nil
		}
		if order.Status != constants.ORDER_STATUS_WAITING_PAYMENT {
			logger.Logger.Warn().
				Str("order_id", order.ID).
				Str("status", order.Status).
				Msg("Hold invoice accepted in unexpected order status")
			return nil, nil
		}

		result := &transitionResult{order: order, publishBook: true}
		buyerPubkey := *order.BuyerPubkey
		sellerPubkey := *order.SellerPubkey

		if order.BuyerInvoice != nil {
			order.Status = constants.ORDER_STATUS_ACTIVE
			if err := queries.UpdateOrder(tx, order); err != nil {
				return nil, err
			}
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionBuyerTookOrder, &protocol.Content{
				Peer: &protocol.Peer{Pubkey: buyerPubkey},
			}), sellerPubkey)
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionHoldInvoicePaymentAccepted, &protocol.Content{
				Peer: &protocol.Peer{Pubkey: sellerPubkey},
			}), buyerPubkey)
		} else {
			order.Status = constants.ORDER_STATUS_WAITING_BUYER_INVOICE
			if err := queries.UpdateOrder(tx, order); err != nil {
				return nil, err
			}
			amount := order.AmountSats - order.Fee/2
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionAddInvoice, &protocol.Content{
				Order: orderToPayload(order),
			}), buyerPubkey)
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionWaitingBuyerInvoice, &protocol.Content{
				Amount: &amount,
			}), sellerPubkey)
		}

		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("status", order.Status).
			Msg("Hold invoice accepted")
		return result, nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).Str("hash", hash).Msg("Failed to process hold invoice accepted")
	}
}

// HoldInvoiceSettled fires once the preimage was revealed; the sats are
// ours, so pay the buyer out.
func (svc *Service) HoldInvoiceSettled(ctx context.Context, hash string) {
	order, err := queries.GetOrderByHash(svc.db, hash)
	if err != nil {
		logger.Logger.Debug().Str("hash", hash).Msg("Settled hold invoice does not belong to any order")
		return
	}

	var payNow bool
	err = svc.withOrder(ctx, order.ID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		if !markLnEventProcessed(tx, hash, lnclient.INVOICE_STATE_SETTLED) {
			return nil, nil
		}
		switch order.Status {
		case constants.ORDER_STATUS_SETTLED_HOLD_INVOICE, constants.ORDER_STATUS_SETTLED_BY_ADMIN:
			payNow = order.BuyerInvoice != nil
		default:
			logger.Logger.Warn().
				Str("order_id", order.ID).
				Str("status", order.Status).
				Msg("Hold invoice settled in unexpected order status")
		}
		return nil, nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).Str("hash", hash).Msg("Failed to process hold invoice settled")
		return
	}

	if payNow {
		go svc.PayBuyerInvoice(ctx, order.ID)
	}
}

// HoldInvoiceCanceled fires when the node gave the sats back to the seller,
// either because we canceled or the invoice expired under us.
func (svc *Service) HoldInvoiceCanceled(ctx context.Context, hash string) {
	order, err := queries.GetOrderByHash(svc.db, hash)
	if err != nil {
		return
	}

	err = svc.withOrder(ctx, order.ID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		if !markLnEventProcessed(tx, hash, lnclient.INVOICE_STATE_CANCELED) {
			return nil, nil
		}
		if constants.IsTerminalOrderStatus(order.Status) {
			// expected: engine-driven cancels reach here after the fact
			return nil, nil
		}

		// The escrow is gone while the order still thought it was running:
		// unrecoverable, cancel and tell both parties.
		result := &transitionResult{order: order, publishBook: true}
		order.Status = constants.ORDER_STATUS_CANCELED
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}
		canceled := protocol.ActionMessage(&order.ID, nil, protocol.ActionCanceled, nil)
		if order.BuyerPubkey != nil {
			result.send(canceled, *order.BuyerPubkey)
		}
		if order.SellerPubkey != nil && (order.BuyerPubkey == nil || *order.SellerPubkey != *order.BuyerPubkey) {
			result.send(canceled, *order.SellerPubkey)
		}

		logger.Logger.Warn().
			Str("order_id", order.ID).
			Msg("Hold invoice canceled underneath a live order, order canceled")
		return result, nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).Str("hash", hash).Msg("Failed to process hold invoice canceled")
	}
}
