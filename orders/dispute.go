package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/metrics"
	"github.com/Catrya/mostro/protocol"
)

// Dispute freezes an active or fiat-sent order and opens a dispute for a
// solver to pick up. The escrow stays locked until an admin resolves it.
func (svc *Service) Dispute(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	orderID, err := orderIDFromMessage(msg)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		if !isBuyer(order, tradePubkey) && !isSeller(order, tradePubkey) {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
			return result, nil
		}
		switch order.Status {
		case constants.ORDER_STATUS_ACTIVE, constants.ORDER_STATUS_FIAT_SENT:
		case constants.ORDER_STATUS_DISPUTE:
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoNotAllowedByStatus), tradePubkey)
			return result, nil
		default:
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidActionForStatus), tradePubkey)
			return result, nil
		}

		dispute := &db.Dispute{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			InitiatorPubkey: tradePubkey,
			Status:          constants.DISPUTE_STATUS_INITIATED,
		}
		if err := queries.InsertDispute(tx, dispute); err != nil {
			return nil, err
		}

		order.Status = constants.ORDER_STATUS_DISPUTE
		order.DisputeID = &dispute.ID
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}

		other, err := counterparty(order, tradePubkey)
		if err != nil {
			return nil, err
		}

		content := &protocol.Content{Dispute: &protocol.DisputePayload{ID: dispute.ID}}
		initiatorMsg := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionDisputeInitiatedByYou, content)
		recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionDispute, initiatorMsg)
		result.send(initiatorMsg, tradePubkey)
		result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionDisputeInitiatedByPeer, content), other)
		result.publishBook = true

		metrics.OpenDisputes.Inc()
		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("dispute_id", dispute.ID).
			Str("initiator", tradePubkey).
			Msg("Dispute opened")
		return result, nil
	})
}
