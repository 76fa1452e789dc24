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

// ratableStatuses are the terminal outcomes where a trade actually happened
// and both parties may score each other once.
func ratable(status string) bool {
	switch status {
	case constants.ORDER_STATUS_SUCCESS,
		constants.ORDER_STATUS_SETTLED_BY_ADMIN,
		constants.ORDER_STATUS_COMPLETED_BY_ADMIN:
		return true
	}
	return false
}

// RateUser records a 1..5 score for the counterparty of a completed trade.
func (svc *Service) RateUser(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	orderID, err := orderIDFromMessage(msg)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}
	if msg.Content == nil || msg.Content.RatingUser == nil {
		svc.replyCantDo(ctx, tradePubkey, &orderID, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}
	rating := *msg.Content.RatingUser
	if rating < 1 || rating > 5 {
		svc.replyCantDo(ctx, tradePubkey, &orderID, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		if !ratable(order.Status) {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidActionForStatus), tradePubkey)
			return result, nil
		}
		rated, err := counterparty(order, tradePubkey)
		if err != nil {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
			return result, nil
		}

		if err := queries.AddRating(tx, &db.Rating{
			OrderID:     order.ID,
			RaterPubkey: tradePubkey,
			RatedPubkey: rated,
			Value:       rating,
		}); err != nil {
			// Unique index on (order, rater): a second vote is a replay.
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoNotAllowedByStatus), tradePubkey)
			return result, nil
		}

		reply := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionRateReceived, &protocol.Content{
			RatingUser: &rating,
		})
		recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionRateUser, reply)
		result.send(reply, tradePubkey)

		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("rated", rated).
			Int64("rating", rating).
			Msg("User rating recorded")
		return result, nil
	})
}
