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

// FiatSent is the buyer declaring the fiat leg done. Only moves an active
// order forward; the escrow stays locked until the seller releases.
func (svc *Service) FiatSent(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	orderID, err := orderIDFromMessage(msg)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		if !isBuyer(order, tradePubkey) {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
			return result, nil
		}
		if order.Status != constants.ORDER_STATUS_ACTIVE {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidActionForStatus), tradePubkey)
			return result, nil
		}

		order.Status = constants.ORDER_STATUS_FIAT_SENT
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}

		buyerPubkey := *order.BuyerPubkey
		sellerPubkey := *order.SellerPubkey

		buyerMsg := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionFiatSentOk, &protocol.Content{
			Peer: &protocol.Peer{Pubkey: sellerPubkey},
		})
		recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionFiatSent, buyerMsg)
		result.send(buyerMsg, buyerPubkey)
		result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionFiatSentOk, &protocol.Content{
			Peer: &protocol.Peer{Pubkey: buyerPubkey},
		}), sellerPubkey)
		result.publishBook = true

		logger.Logger.Info().
			Str("order_id", order.ID).
			Msg("Buyer reported fiat sent")
		return result, nil
	})
}
