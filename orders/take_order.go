package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

// TakeBuy is a taker-buyer accepting a sell order. The maker-seller gets the
// hold invoice; the buyer may attach their payout invoice right away.
func (svc *Service) TakeBuy(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	return svc.takeOrder(ctx, sender, tradePubkey, msg, constants.ORDER_KIND_SELL)
}

// TakeSell is a taker-seller accepting a buy order and locking the hold
// invoice themselves.
func (svc *Service) TakeSell(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	return svc.takeOrder(ctx, sender, tradePubkey, msg, constants.ORDER_KIND_BUY)
}

func (svc *Service) takeOrder(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage, expectedKind string) error {
	orderID, err := orderIDFromMessage(msg)
	if err != nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	var buyerInvoice *string
	var takerFiatAmount *int64
	if msg.Content != nil {
		if msg.Content.PaymentRequest != nil {
			buyerInvoice = &msg.Content.PaymentRequest.Invoice
		}
		if msg.Content.Amount != nil {
			takerFiatAmount = msg.Content.Amount
		}
	}

	var buyerMsats int64
	if buyerInvoice != nil {
		bolt11, err := lnclient.DecodeInvoice(*buyerInvoice)
		if err != nil {
			svc.replyCantDo(ctx, tradePubkey, &orderID, msg.RequestID, protocol.CantDoInvalidInvoice)
			return nil
		}
		buyerMsats = bolt11.MSatoshi
	}

	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		if order.Status != constants.ORDER_STATUS_PENDING || order.Kind != expectedKind {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidActionForStatus), tradePubkey)
			return result, nil
		}
		if order.CreatorPubkey == tradePubkey {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidParameters), tradePubkey)
			return result, nil
		}

		if msg.TradeIndex != nil {
			if err := queries.BumpTradeIndex(tx, sender, *msg.TradeIndex); err != nil {
				if errors.Is(err, queries.ErrInvalidTradeIndex) {
					result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidTradeIndex), tradePubkey)
					return result, nil
				}
				return nil, err
			}
			order.TakerTradeIndex = msg.TradeIndex
		}

		// Range orders are priced at fill time from the taker's amount.
		if order.MinAmount != nil && order.MaxAmount != nil {
			if takerFiatAmount == nil {
				result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidAmount), tradePubkey)
				return result, nil
			}
			if *takerFiatAmount < *order.MinAmount || *takerFiatAmount > *order.MaxAmount {
				result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoOutOfRangeFiatAmount), tradePubkey)
				return result, nil
			}
			order.FiatAmount = *takerFiatAmount
		}

		if order.AmountSats == 0 {
			sats, err := svc.rates.SatsFromFiat(order.FiatCode, order.FiatAmount, order.Premium)
			if err != nil {
				logger.Logger.Error().Err(err).
					Str("order_id", order.ID).
					Str("fiat_code", order.FiatCode).
					Msg("No rate available to price order at fill time")
				result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidAmount), tradePubkey)
				return result, nil
			}
			if sats < svc.cfg.Settings.Mostro.MinPaymentAmount || sats > svc.cfg.Settings.Mostro.MaxOrderAmount {
				result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoOutOfRangeSatsAmount), tradePubkey)
				return result, nil
			}
			order.AmountSats = sats
		}
		order.Fee = svc.orderFee(order.AmountSats)

		// An amount-bearing invoice attached at take time must match the
		// buyer payout, same as add-invoice.
		if buyerMsats != 0 && buyerMsats/1000 != order.AmountSats-order.Fee/2 {
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvalidAmount), tradePubkey)
			return result, nil
		}

		// Resolve roles: the taker fills whichever side the maker left open.
		if expectedKind == constants.ORDER_KIND_SELL {
			order.BuyerPubkey = &tradePubkey
		} else {
			order.SellerPubkey = &tradePubkey
		}
		order.TakerPubkey = &tradePubkey
		if buyerInvoice != nil {
			order.BuyerInvoice = buyerInvoice
		}

		// LN side effect first: lock the seller's sats before any status is
		// persisted.
		memo := fmt.Sprintf("mostro order %s", order.ID)
		holdAmount := order.AmountSats + order.Fee/2
		holdInvoice, err := svc.lnClient.MakeHoldInvoice(
			ctx,
			holdAmount,
			memo,
			svc.cfg.Settings.Mostro.HoldInvoiceExpirationWindow,
			svc.cfg.Settings.Mostro.HoldInvoiceCltvDelta,
		)
		if err != nil {
			logger.Logger.Error().Err(err).
				Str("order_id", order.ID).
				Msg("Failed to create hold invoice")
			result.send(protocol.CantDoMessage(&orderID, msg.RequestID, protocol.CantDoInvoiceCreationFailed), tradePubkey)
			return result, nil
		}
		order.HoldInvoice = &holdInvoice.PaymentRequest
		order.Hash = &holdInvoice.PaymentHash
		order.Preimage = &holdInvoice.Preimage

		now := time.Now()
		order.Status = constants.ORDER_STATUS_WAITING_PAYMENT
		order.TakenAt = &now
		order.ExpiresAt = now.Add(svc.cfg.OrderExpiration())

		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}

		sellerPubkey := *order.SellerPubkey
		buyerPubkey := *order.BuyerPubkey

		payMsg := protocol.ActionMessage(&order.ID, nil, protocol.ActionPayInvoice, &protocol.Content{
			PaymentRequest: &protocol.PaymentRequest{
				Invoice: holdInvoice.PaymentRequest,
				Amount:  &holdAmount,
			},
		})
		waitMsg := protocol.ActionMessage(&order.ID, nil, protocol.ActionWaitingSellerToPay, nil)

		// The taker's copy carries the request id so replays short-circuit.
		if tradePubkey == sellerPubkey {
			payMsg.Inner().RequestID = msg.RequestID
			recordResponse(tx, sender, msg.RequestID, &order.ID, msg.Action, payMsg)
		} else {
			waitMsg.Inner().RequestID = msg.RequestID
			recordResponse(tx, sender, msg.RequestID, &order.ID, msg.Action, waitMsg)
		}

		result.send(payMsg, sellerPubkey)
		result.send(waitMsg, buyerPubkey)
		result.publishBook = true

		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("taker", tradePubkey).
			Int64("amount_sats", order.AmountSats).
			Msg("Order taken, hold invoice sent to seller")

		return result, nil
	})
}
