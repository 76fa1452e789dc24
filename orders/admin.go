package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/metrics"
	"github.com/Catrya/mostro/protocol"
)

// AdminCancel refunds the escrow to the seller and closes the order. Callers
// are responsible for authorization; this only executes the transition.
func (svc *Service) AdminCancel(ctx context.Context, orderID string, requestID *uint64, adminPubkey string) error {
	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		if constants.IsTerminalOrderStatus(order.Status) {
			return nil, errDataInconsistency("cannot admin-cancel a closed order", order.ID)
		}

		if err := svc.refundEscrow(ctx, order); err != nil {
			return nil, err
		}

		order.Status = constants.ORDER_STATUS_CANCELED_BY_ADMIN
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}
		if err := svc.closeDispute(tx, order, constants.DISPUTE_STATUS_SELLER_REFUNDED, adminPubkey); err != nil {
			return nil, err
		}

		result := &transitionResult{order: order, publishBook: true}
		notice := protocol.ActionMessage(&order.ID, nil, protocol.ActionAdminCanceled, nil)
		if adminPubkey != "" {
			result.send(protocol.ActionMessage(&order.ID, requestID, protocol.ActionAdminCanceled, nil), adminPubkey)
		}
		if order.BuyerPubkey != nil {
			result.send(notice, *order.BuyerPubkey)
		}
		if order.SellerPubkey != nil {
			result.send(notice, *order.SellerPubkey)
		}

		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("admin", adminPubkey).
			Msg("Admin canceled order, escrow refunded to seller")
		return result, nil
	})
}

// AdminSettle settles the hold invoice in the buyer's favor. The payout to
// the buyer's invoice follows from the settled notification.
func (svc *Service) AdminSettle(ctx context.Context, orderID string, requestID *uint64, adminPubkey string) error {
	return svc.withOrder(ctx, orderID, func(tx *gorm.DB, order *db.Order) (*transitionResult, error) {
		if constants.IsTerminalOrderStatus(order.Status) {
			return nil, errDataInconsistency("cannot admin-settle a closed order", order.ID)
		}
		if order.Preimage == nil {
			return nil, errDataInconsistency("order has no preimage", order.ID)
		}

		if err := svc.lnClient.SettleHoldInvoice(ctx, *order.Preimage); err != nil {
			return nil, err
		}

		order.Status = constants.ORDER_STATUS_SETTLED_BY_ADMIN
		if err := queries.UpdateOrder(tx, order); err != nil {
			return nil, err
		}
		if err := svc.closeDispute(tx, order, constants.DISPUTE_STATUS_SETTLED, adminPubkey); err != nil {
			return nil, err
		}

		result := &transitionResult{order: order, publishBook: true}
		notice := protocol.ActionMessage(&order.ID, nil, protocol.ActionAdminSettled, nil)
		if adminPubkey != "" {
			result.send(protocol.ActionMessage(&order.ID, requestID, protocol.ActionAdminSettled, nil), adminPubkey)
		}
		if order.BuyerPubkey != nil {
			result.send(notice, *order.BuyerPubkey)
		}
		if order.SellerPubkey != nil {
			result.send(notice, *order.SellerPubkey)
		}

		logger.Logger.Info().
			Str("order_id", order.ID).
			Str("admin", adminPubkey).
			Msg("Admin settled order in favor of the buyer")
		return result, nil
	})
}

// closeDispute finalizes the dispute attached to the order, if any.
func (svc *Service) closeDispute(tx *gorm.DB, order *db.Order, status string, solverPubkey string) error {
	if order.DisputeID == nil {
		return nil
	}
	dispute, err := queries.GetDisputeForUpdate(tx, *order.DisputeID)
	if err != nil {
		return err
	}
	wasOpen := dispute.Status == constants.DISPUTE_STATUS_INITIATED ||
		dispute.Status == constants.DISPUTE_STATUS_IN_PROGRESS
	dispute.Status = status
	if dispute.SolverPubkey == nil && solverPubkey != "" {
		dispute.SolverPubkey = &solverPubkey
	}
	if err := queries.UpdateDispute(tx, dispute); err != nil {
		return err
	}
	if wasOpen {
		metrics.OpenDisputes.Dec()
	}
	return nil
}
