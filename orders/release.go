package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

// Release is the seller giving up the escrow: the hold invoice is settled
// with the stored preimage and the buyer payout follows from the LN settled
// notification.
func (svc *Service) Release(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	orderID, err := orderIDFromMessage(msg)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		if !isSeller(order, tradePubkey) {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
			return result, nil
		}
		switch order.Status {
		case constants.ORDER_STATUS_ACTIVE, constants.ORDER_STATUS_FIAT_SENT, constants.ORDER_STATUS_DISPUTE:
		default:
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidActionForStatus), tradePubkey)
			return result, nil
		}
		if order.Preimage == nil {
			return nil, errDataInconsistency("order has no preimage", order.ID)
		}

		// Settle before persisting: if the node refuses, the order must not
		// claim the sats moved.
		if err := svc.lnClient.SettleHoldInvoice(ctx, *order.Preimage); err != nil {
			logger.Logger.Error().Err(err).
				Str("order_id", order.ID).
				Msg("Failed to settle hold invoice on release")
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoPaymentFailed), tradePubkey)
			return result, nil
		}

		order.Status = constants.ORDER_STATUS_SETTLED_HOLD_INVOICE
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}
		// A release during a dispute resolves it.
		if err := svc.closeDispute(tx, order, constants.DISPUTE_STATUS_RELEASED, ""); err != nil {
			return nil, err
		}

		buyerPubkey := *order.BuyerPubkey
		sellerPubkey := *order.SellerPubkey

		sellerMsg := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionHoldInvoicePaymentSettled, nil)
		recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionRelease, sellerMsg)
		result.send(sellerMsg, sellerPubkey)
		result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionReleased, nil), buyerPubkey)
		result.publishBook = true

		logger.Logger.Info().
			Str("order_id", order.ID).
			Msg("Seller released, hold invoice settled")
		return result, nil
	})
}
