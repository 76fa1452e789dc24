package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/metrics"
	"github.com/Catrya/mostro/protocol"
)

// PayBuyerInvoice attempts to pay the buyer's bolt11 after the hold invoice
// settled. The payment itself runs outside the order lock; only the
// bookkeeping before and after takes it.
func (svc *Service) PayBuyerInvoice(ctx context.Context, orderID string) {
	var payReq string
	var payoutAmount int64
	var attempt int

	err := svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		if order.Status != constants.ORDER_STATUS_SETTLED_HOLD_INVOICE &&
			order.Status != constants.ORDER_STATUS_SETTLED_BY_ADMIN {
			return nil, nil
		}
		if order.BuyerInvoice == nil {
			return nil, nil
		}
		payReq = *order.BuyerInvoice
		payoutAmount = order.AmountSats - order.Fee/2
		order.PaymentAttempts++
		attempt = order.PaymentAttempts
		order.NextPaymentRetry = nil
		return nil, queries.UpdateOrder(tx, order)
	})
	if err != nil || payReq == "" {
		return
	}

	logger.Logger.Info().
		Str("order_id", orderID).
		Int("attempt", attempt).
		Int64("amount_sats", payoutAmount).
		Msg("Paying buyer invoice")

	payResp, payErr := svc.lnClient.PayInvoice(ctx, payReq, svc.maxRoutingFee(payoutAmount))

	if payErr == nil {
		metrics.PaymentsSent.WithLabelValues("success").Inc()
		svc.finishPayout(ctx, orderID, payResp.Preimage)
		return
	}

	metrics.PaymentsSent.WithLabelValues("failed").Inc()
	logger.Logger.Error().Err(payErr).
		Str("order_id", orderID).
		Int("attempt", attempt).
		Msg("Buyer invoice payment failed")
	svc.handlePayoutFailure(ctx, orderID, attempt)
}

// finishPayout marks the trade done and tells both parties.
func (svc *Service) finishPayout(ctx context.Context, orderID string, preimage string) {
	err := svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order, publishBook: true}

		// Admin-settled orders stay on their terminal status; the payout is
		// the trailing effect.
		if order.Status == constants.ORDER_STATUS_SETTLED_HOLD_INVOICE {
			order.Status = constants.ORDER_STATUS_SUCCESS
		}
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}

		if order.BuyerPubkey != nil {
			if err := queries.AddTradingVolume(tx, *order.BuyerPubkey, order.AmountSats); err != nil {
				return nil, err
			}
		}
		if order.SellerPubkey != nil {
			if err := queries.AddTradingVolume(tx, *order.SellerPubkey, order.AmountSats); err != nil {
				return nil, err
			}
		}

		if order.BuyerPubkey != nil {
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionPurchaseCompleted, nil), *order.BuyerPubkey)
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionRate, nil), *order.BuyerPubkey)
		}
		if order.SellerPubkey != nil {
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionRate, nil), *order.SellerPubkey)
		}

		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("status", order.Status).
			Msg("Buyer invoice paid, trade complete")
		return result, nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to finish payout")
	}
}

// handlePayoutFailure either schedules the next bounded retry or gives up
// and asks the buyer for a fresh invoice.
func (svc *Service) handlePayoutFailure(ctx context.Context, orderID string, attempt int) {
	err := svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		result := &transitionResult{order: order}

		if attempt < constants.PAYMENT_MAX_ATTEMPTS {
			// exponential: 1m, 2m, 4m...
			backoff := constants.PAYMENT_RETRY_BACKOFF * time.Duration(1<<(attempt-1))
			next := time.Now().Add(backoff)
			order.NextPaymentRetry = &next
			if err := queries.UpdateOrder(tx, order); err != nil {
				return nil, err
			}
			logger.Logger.Info().
				Str("order_id", order.ID).
				Time("next_retry", next).
				Msg("Scheduled buyer invoice payment retry")
			return result, nil
		}

		// Retry budget exhausted: the order keeps its settled status until
		// the buyer resubmits an invoice.
		order.BuyerInvoice = nil
		order.NextPaymentRetry = nil
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}
		if order.BuyerPubkey != nil {
			reason := protocol.CantDoPaymentFailed
			result.send(protocol.ActionMessage(&order.ID, nil, protocol.ActionAddInvoice, &protocol.Content{
				CantDo: &reason,
			}), *order.BuyerPubkey)
		}
		logger.Logger.Warn().
			Str("order_id", order.ID).
			Msg("Payment retry budget exhausted, asked buyer for a new invoice")
		return result, nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to handle payout failure")
	}
}

// RetryDuePayments is driven by the scheduler and re-attempts payouts whose
// backoff elapsed.
func (svc *Service) RetryDuePayments(ctx context.Context) {
	orders, err := queries.ListPaymentRetryOrders(svc.db, time.Now())
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list payment retry orders")
		return
	}
	for _, order := range orders {
		svc.PayBuyerInvoice(ctx, order.ID)
	}
}
