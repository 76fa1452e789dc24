package orders

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

// NewOrder creates a pending order from a maker message and publishes it to
// the order book.
func (svc *Service) NewOrder(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) error {
	if msg.Content == nil || msg.Content.Order == nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}
	payload := msg.Content.Order

	if payload.Kind != constants.ORDER_KIND_SELL && payload.Kind != constants.ORDER_KIND_BUY {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	// A buyer maker may attach their payout invoice up front.
	if payload.BuyerInvoice != nil {
		if _, err := lnclient.DecodeInvoice(*payload.BuyerInvoice); err != nil {
			svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidInvoice)
			return nil
		}
	}

	isRange := payload.MinAmount != nil && payload.MaxAmount != nil
	if isRange {
		if *payload.MinAmount >= *payload.MaxAmount {
			svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidAmount)
			return nil
		}
		if payload.Amount != 0 {
			svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidAmount)
			return nil
		}
	}

	// Fixing premium, fiat amount and sats amount at once over-constrains
	// the price.
	if payload.Premium != 0 && payload.FiatAmount != 0 && payload.Amount != 0 {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}

	// Every endpoint of the order must quote inside the payment bounds.
	endpoints := []int64{payload.FiatAmount}
	if isRange {
		endpoints = []int64{*payload.MinAmount, *payload.MaxAmount}
	}
	for _, fiatAmount := range endpoints {
		sats := payload.Amount
		if sats == 0 {
			quoted, err := svc.rates.SatsFromFiat(payload.FiatCode, fiatAmount, payload.Premium)
			if err != nil {
				logger.Logger.Error().Err(err).
					Str("fiat_code", payload.FiatCode).
					Msg("No rate available for new order")
				svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidAmount)
				return nil
			}
			sats = quoted
		}
		if sats < svc.cfg.Settings.Mostro.MinPaymentAmount || sats > svc.cfg.Settings.Mostro.MaxOrderAmount {
			svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoOutOfRangeSatsAmount)
			return nil
		}
	}

	now := time.Now()
	order := &db.Order{
		ID:            uuid.NewString(),
		Kind:          payload.Kind,
		Status:        constants.ORDER_STATUS_PENDING,
		AmountSats:    payload.Amount,
		FiatCode:      payload.FiatCode,
		FiatAmount:    payload.FiatAmount,
		MinAmount:     payload.MinAmount,
		MaxAmount:     payload.MaxAmount,
		PaymentMethod: payload.PaymentMethod,
		Premium:       payload.Premium,
		CreatorPubkey: tradePubkey,
		PriceFromAPI:  payload.Amount == 0,
		BuyerInvoice:  payload.BuyerInvoice,
		CreatedAt:     now,
		ExpiresAt:     now.Add(svc.cfg.OrderExpiration()),
	}

	// The maker's role follows the order kind.
	if payload.Kind == constants.ORDER_KIND_SELL {
		order.SellerPubkey = &order.CreatorPubkey
	} else {
		order.BuyerPubkey = &order.CreatorPubkey
	}

	var reply *protocol.Message
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		if msg.TradeIndex != nil {
			if err := queries.BumpTradeIndex(tx, sender, *msg.TradeIndex); err != nil {
				if errors.Is(err, queries.ErrInvalidTradeIndex) {
					reply = protocol.CantDoMessage(nil, msg.RequestID, protocol.CantDoInvalidTradeIndex)
					return nil
				}
				return err
			}
			order.MakerTradeIndex = *msg.TradeIndex
		}

		if err := queries.InsertOrder(tx, order); err != nil {
			if errors.Is(err, queries.ErrDuplicatePendingOrder) {
				reply = protocol.CantDoMessage(nil, msg.RequestID, protocol.CantDoNotAllowedByStatus)
				return nil
			}
			return err
		}

		reply = protocol.ActionMessage(&order.ID, msg.RequestID, protocol.ActionNewOrder, &protocol.Content{
			Order: orderToPayload(order),
		})
		recordResponse(tx, sender, msg.RequestID, &order.ID, protocol.ActionNewOrder, reply)
		return nil
	})
	if err != nil {
		return err
	}

	if err := svc.publisher.SendMessage(ctx, reply, tradePubkey); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to send new order confirmation")
	}
	if reply.Inner().Action == protocol.ActionNewOrder {
		if err := svc.publisher.PublishOrderEvent(ctx, order); err != nil {
			logger.Logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to publish new order to order book")
		}
		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("kind", order.Kind).
			Str("fiat_code", order.FiatCode).
			Msg("Published new order")
	}
	return nil
}

func orderToPayload(order *db.Order) *protocol.OrderPayload {
	return &protocol.OrderPayload{
		ID:            &order.ID,
		Kind:          order.Kind,
		Status:        order.Status,
		Amount:        order.AmountSats,
		FiatCode:      order.FiatCode,
		FiatAmount:    order.FiatAmount,
		MinAmount:     order.MinAmount,
		MaxAmount:     order.MaxAmount,
		PaymentMethod: order.PaymentMethod,
		Premium:       order.Premium,
		CreatedAt:     order.CreatedAt.Unix(),
		ExpiresAt:     order.ExpiresAt.Unix(),
	}
}

// orderFee returns the total daemon fee for a sats amount; each side pays
// half.
func (svc *Service) orderFee(amountSats int64) int64 {
	return int64(math.Round(float64(amountSats) * svc.cfg.Settings.Mostro.FeePercent / 100))
}

// maxRoutingFee caps the payout routing fee as a fraction of the amount.
func (svc *Service) maxRoutingFee(amountSats int64) int64 {
	fee := int64(math.Ceil(float64(amountSats) * svc.cfg.Settings.Mostro.MaxRoutingFee))
	if fee < 1 {
		fee = 1
	}
	return fee
}
