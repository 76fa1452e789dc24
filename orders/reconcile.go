package orders

import (
	"context"

	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/logger"
)

// Reconcile replays what happened on the node while the daemon was down.
// Every live order with an escrow gets its invoice state looked up and the
// matching transition applied. The (hash, event) dedupe table makes this safe
// to run against events the bus already delivered.
func (svc *Service) Reconcile(ctx context.Context) error {
	orders, err := queries.ListNonTerminalOrders(svc.db)
	if err != nil {
		return err
	}

	logger.Logger.Info().
		Int("count", len(orders)).
		Msg("Reconciling live orders against the node")

	for i := range orders {
		order := &orders[i]
		if order.Hash == nil {
			continue
		}

		state, err := svc.lnClient.LookupInvoiceState(ctx, *order.Hash)
		if err != nil {
			logger.Logger.Error().Err(err).
				Str("order_id", order.ID).
				Msg("Failed to look up hold invoice during reconciliation")
			continue
		}

		switch state {
		case lnclient.INVOICE_STATE_ACCEPTED:
			svc.HoldInvoiceAccepted(ctx, *order.Hash)
		case lnclient.INVOICE_STATE_SETTLED:
			svc.HoldInvoiceSettled(ctx, *order.Hash)
		case lnclient.INVOICE_STATE_CANCELED:
			svc.HoldInvoiceCanceled(ctx, *order.Hash)
		}
	}
	return nil
}
