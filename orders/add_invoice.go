package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

// AddInvoice is the buyer submitting (or resubmitting) their payout invoice.
// From waiting-buyer-invoice it activates the order; from settled-hold-invoice
// or settled-by-admin it restarts the payout after earlier failures.
func (svc *Service) AddInvoice(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	orderID, err := orderIDFromMessage(msg)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}
	if msg.Content == nil || msg.Content.PaymentRequest == nil {
		svc.replyCantDo(ctx, tradePubkey, &orderID, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}
	invoice := msg.Content.PaymentRequest.Invoice

	bolt11, err := lnclient.DecodeInvoice(invoice)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, &orderID, msg.RequestID, protocol.CantDoInvalidInvoice)
		return nil
	}

	var payNow bool
	handleErr := svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		if !isBuyer(order, tradePubkey) {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
			return result, nil
		}

		// An amount-bearing invoice must match the buyer's payout.
		payout := order.AmountSats - order.Fee/2
		if bolt11.MSatoshi != 0 && bolt11.MSatoshi/1000 != payout {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidAmount), tradePubkey)
			return result, nil
		}

		switch order.Status {
		case constants.ORDER_STATUS_WAITING_BUYER_INVOICE:
			order.BuyerInvoice = &invoice
			order.Status = constants.ORDER_STATUS_ACTIVE
			if err := queries.UpdateOrder(tx, order); err != nil {
				return nil, err
			}

			buyerPubkey := *order.BuyerPubkey
			sellerPubkey := *order.SellerPubkey
			accepted := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionHoldInvoicePaymentAccepted, &protocol.Content{
				Peer: &protocol.Peer{Pubkey: sellerPubkey},
			})
			recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionAddInvoice, accepted)
			result.send(accepted, buyerPubkey)
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionBuyerTookOrder, &protocol.Content{
				Peer: &protocol.Peer{Pubkey: buyerPubkey},
			}), sellerPubkey)
			result.publishBook = true

			logger.Logger.Info().
				Str("order_id", order.ID).
				Msg("Buyer invoice received, order is active")

		case constants.ORDER_STATUS_SETTLED_HOLD_INVOICE,
			constants.ORDER_STATUS_SETTLED_BY_ADMIN:
			order.BuyerInvoice = &invoice
			order.PaymentAttempts = 0
			if err := queries.UpdateOrder(tx, order); err != nil {
				return nil, err
			}
			payNow = true
			logger.Logger.Info().
				Str("order_id", order.ID).
				Msg("Buyer resubmitted invoice after payment failures")

		default:
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidActionForStatus), tradePubkey)
		}
		return result, nil
	})
	if handleErr != nil {
		return handleErr
	}

	if payNow {
		go svc.PayBuyerInvoice(ctx, orderID)
	}
	return nil
}
