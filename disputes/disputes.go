package disputes

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/protocol"
)

var (
	ErrNotFound     = errors.New("dispute not found")
	ErrAlreadyTaken = errors.New("dispute was already taken by a solver")
)

// Publisher is the outbound messaging slice the manager needs.
type Publisher interface {
	SendMessage(ctx context.Context, msg *protocol.Message, recipientPubkey string) error
}

// Manager owns the solver workflow around disputes. Opening a dispute is an
// order transition and lives with the order engine; everything after that
// point goes through here.
type Manager struct {
	db        *gorm.DB
	publisher Publisher
}

func NewManager(gormDB *gorm.DB, publisher Publisher) *Manager {
	return &Manager{db: gormDB, publisher: publisher}
}

// TakeDispute assigns the dispute to a solver and freezes the order for
// resolution. Both trade parties learn who is handling their case.
func (m *Manager) TakeDispute(ctx context.Context, solverPubkey string, disputeID string, requestID *uint64) error {
	var order *db.Order
	var dispute *db.Dispute

	err := m.db.Transaction(func(tx *gorm.DB) error {
		var err error
		dispute, err = queries.GetDisputeForUpdate(tx, disputeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if dispute.Status != constants.DISPUTE_STATUS_INITIATED {
			return ErrAlreadyTaken
		}

		order, err = queries.GetOrderForUpdate(tx, dispute.OrderID)
		if err != nil {
			return err
		}

		dispute.SolverPubkey = &solverPubkey
		dispute.Status = constants.DISPUTE_STATUS_IN_PROGRESS
		if err := queries.UpdateDispute(tx, dispute); err != nil {
			return err
		}

		order.Status = constants.ORDER_STATUS_IN_PROGRESS
		return queries.UpdateOrder(tx, order)
	})
	if err != nil {
		return err
	}

	content := &protocol.Content{Dispute: &protocol.DisputePayload{ID: dispute.ID}}
	solverMsg := protocol.ActionMessage(&order.ID, requestID, protocol.ActionAdminTookDispute, content)
	if err := m.publisher.SendMessage(ctx, solverMsg, solverPubkey); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to confirm dispute take to solver")
	}

	partyMsg := protocol.ActionMessage(&order.ID, nil, protocol.ActionAdminTookDispute, &protocol.Content{
		Peer: &protocol.Peer{Pubkey: solverPubkey},
	})
	if order.BuyerPubkey != nil {
		if err := m.publisher.SendMessage(ctx, partyMsg, *order.BuyerPubkey); err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to notify buyer of dispute take")
		}
	}
	if order.SellerPubkey != nil {
		if err := m.publisher.SendMessage(ctx, partyMsg, *order.SellerPubkey); err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to notify seller of dispute take")
		}
	}

	logger.Logger.Info().
		Str("dispute_id", dispute.ID).
		Str("order_id", order.ID).
		Str("solver", solverPubkey).
		Msg("Solver took dispute")
	return nil
}

// SolverFor reports whether the pubkey is the solver assigned to the order's
// dispute.
func (m *Manager) SolverFor(orderID string, pubkey string) bool {
	dispute, err := queries.GetDisputeByOrderID(m.db, orderID)
	if err != nil {
		return false
	}
	return dispute.SolverPubkey != nil && *dispute.SolverPubkey == pubkey
}

// ListOpen returns the disputes still waiting on a resolution.
func (m *Manager) ListOpen() ([]db.Dispute, error) {
	return queries.ListOpenDisputes(m.db)
}
