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

// Cancel handles the cancel action across the whole lifecycle. What it does
// depends on who asks and where the order stands:
//
//   - pending: only the creator may cancel, outright.
//   - waiting-payment / waiting-buyer-invoice: the maker cancels the order
//     outright; the taker backing out reverts it to pending with the taker
//     side cleared.
//   - active / fiat-sent / dispute: cooperative cancel, both parties must
//     agree before the escrow is refunded.
func (svc *Service) Cancel(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	orderID, err := orderIDFromMessage(msg)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		switch order.Status {
		case constants.ORDER_STATUS_CANCELED,
			constants.ORDER_STATUS_CANCELED_BY_ADMIN,
			constants.ORDER_STATUS_COOPERATIVELY_CANCELED:
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoOrderAlreadyCanceled), tradePubkey)
			return result, nil

		case constants.ORDER_STATUS_PENDING:
			return svc.cancelPending(tx, result, order, sender, tradePubkey, msg)

		case constants.ORDER_STATUS_WAITING_PAYMENT,
			constants.ORDER_STATUS_WAITING_BUYER_INVOICE:
			if order.CreatorPubkey == tradePubkey {
				return svc.cancelTakenByMaker(ctx, tx, result, order, sender, tradePubkey, msg)
			}
			if order.TakerPubkey != nil && *order.TakerPubkey == tradePubkey {
				return svc.revertToPending(ctx, tx, result, order, sender, tradePubkey, msg)
			}
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
			return result, nil

		case constants.ORDER_STATUS_ACTIVE,
			constants.ORDER_STATUS_FIAT_SENT,
			constants.ORDER_STATUS_DISPUTE:
			return svc.cooperativeCancel(ctx, tx, result, order, sender, tradePubkey, msg)

		default:
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidActionForStatus), tradePubkey)
			return result, nil
		}
	})
}

func (svc *Service) cancelPending(tx *gorm.DB, result *transitionResult, order *db.Order, sender string, tradePubkey string, msg *protocol.InnerMessage) (*transitionResult, error) {
	if order.CreatorPubkey != tradePubkey {
		result.send(protocol.CantDoMessage(&order.ID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
		return result, nil
	}

	order.Status = constants.ORDER_STATUS_CANCELED
	if err := queries.UpdateOrder(tx, order); err != nil {
		return nil, err
	}

	reply := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionCanceled, nil)
	recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionCancel, reply)
	result.send(reply, tradePubkey)
	result.publishBook = true

	logger.Logger.Info().
		Str("order_id", order.ID).
		Msg("Creator canceled pending order")
	return result, nil
}

// cancelTakenByMaker ends a half-taken order: the escrow (if any) goes back
// to the seller and both parties hear about it.
func (svc *Service) cancelTakenByMaker(ctx context.Context, tx *gorm.DB, result *transitionResult, order *db.Order, sender string, tradePubkey string, msg *protocol.InnerMessage) (*transitionResult, error) {
	if err := svc.refundEscrow(ctx, order); err != nil {
		return nil, err
	}

	order.Status = constants.ORDER_STATUS_CANCELED
	order.CancelInitiatorPubkey = &tradePubkey
	if err := queries.UpdateOrder(tx, order); err != nil {
		return nil, err
	}

	reply := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionCanceled, nil)
	recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionCancel, reply)
	result.send(reply, tradePubkey)
	if other, err := counterparty(order, tradePubkey); err == nil {
		result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionCanceled, nil), other)
	}
	result.publishBook = true

	logger.Logger.Info().
		Str("order_id", order.ID).
		Msg("Maker canceled taken order")
	return result, nil
}

// revertToPending puts the order back on the book after the taker backed out
// of the invoice exchange. Price quotes taken at fill time are discarded.
func (svc *Service) revertToPending(ctx context.Context, tx *gorm.DB, result *transitionResult, order *db.Order, sender string, tradePubkey string, msg *protocol.InnerMessage) (*transitionResult, error) {
	if err := svc.refundEscrow(ctx, order); err != nil {
		return nil, err
	}

	takerPubkey := tradePubkey
	clearTakerSide(order)
	if err := queries.UpdateOrder(tx, order); err != nil {
		return nil, err
	}

	reply := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionCanceled, nil)
	recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionCancel, reply)
	result.send(reply, takerPubkey)
	result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionCanceled, nil), order.CreatorPubkey)
	result.publishBook = true

	logger.Logger.Info().
		Str("order_id", order.ID).
		Str("taker", takerPubkey).
		Msg("Taker backed out, order reverted to pending")
	return result, nil
}

// clearTakerSide strips everything the take added, leaving the maker's
// original pending order.
func clearTakerSide(order *db.Order) {
	order.Status = constants.ORDER_STATUS_PENDING
	order.TakerPubkey = nil
	order.TakerTradeIndex = nil
	order.HoldInvoice = nil
	order.Hash = nil
	order.Preimage = nil
	order.TakenAt = nil
	order.Fee = 0
	if order.PriceFromAPI {
		order.AmountSats = 0
	}
	if order.Kind == constants.ORDER_KIND_SELL {
		order.BuyerPubkey = nil
		order.BuyerInvoice = nil
	} else {
		order.SellerPubkey = nil
	}
	if order.MinAmount != nil && order.MaxAmount != nil {
		order.FiatAmount = 0
	}
}

// cooperativeCancel needs both parties: the first request arms it, the
// counterparty's request refunds the escrow and closes the order.
func (svc *Service) cooperativeCancel(ctx context.Context, tx *gorm.DB, result *transitionResult, order *db.Order, sender string, tradePubkey string, msg *protocol.InnerMessage) (*transitionResult, error) {
	buyer := isBuyer(order, tradePubkey)
	seller := isSeller(order, tradePubkey)
	if !buyer && !seller {
		result.send(protocol.CantDoMessage(&order.ID, msg.RequestID, protocol.CantDoIsNotYourOrder), tradePubkey)
		return result, nil
	}

	// Same side asking twice is a no-op, not a second vote.
	if (buyer && order.BuyerCooperativeCancel) || (seller && order.SellerCooperativeCancel) {
		reply := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionCooperativeCancelInitiatedByYou, nil)
		result.send(reply, tradePubkey)
		return result, nil
	}

	if buyer {
		order.BuyerCooperativeCancel = true
	} else {
		order.SellerCooperativeCancel = true
	}

	other, err := counterparty(order, tradePubkey)
	if err != nil {
		return nil, err
	}

	if order.BuyerCooperativeCancel && order.SellerCooperativeCancel {
		if err := svc.refundEscrow(ctx, order); err != nil {
			return nil, err
		}
		order.Status = constants.ORDER_STATUS_COOPERATIVELY_CANCELED
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}

		reply := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionCooperativeCancelAccepted, nil)
		recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionCancel, reply)
		result.send(reply, tradePubkey)
		result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionCooperativeCancelAccepted, nil), other)
		result.publishBook = true

		logger.Logger.Info().
			Str("order_id", order.ID).
			Msg("Cooperative cancel completed, escrow refunded")
		return result, nil
	}

	order.CancelInitiatorPubkey = &tradePubkey
	if err := queries.UpdateOrder(tx, order); err != nil {
		return nil, err
	}

	reply := protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionCooperativeCancelInitiatedByYou, nil)
	recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionCancel, reply)
	result.send(reply, tradePubkey)
	result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionCooperativeCancelInitiatedByPeer, nil), other)

	logger.Logger.Info().
		Str("order_id", order.ID).
		Str("initiator", tradePubkey).
		Msg("Cooperative cancel initiated")
	return result, nil
}

// refundEscrow cancels the hold invoice when one exists and was not already
// settled. Errors abort the transition so the order never claims a refund
// that did not happen.
func (svc *Service) refundEscrow(ctx context.Context, order *db.Order) error {
	if order.Hash == nil {
		return nil
	}
	state, err := svc.lnClient.LookupInvoiceState(ctx, *order.Hash)
	if err != nil {
		return err
	}
	switch state {
	case lnclient.INVOICE_STATE_CANCELED:
		return nil
	case lnclient.INVOICE_STATE_SETTLED:
		return errDataInconsistency("cannot refund a settled hold invoice", order.ID)
	}
	return svc.lnClient.CancelHoldInvoice(ctx, *order.Hash)
}
