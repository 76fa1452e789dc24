package admin

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/disputes"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/orders"
	"github.com/Catrya/mostro/protocol"
)

var ErrUnauthorized = errors.New("pubkey is not allowed to perform this operation")

// Publisher sends protocol replies back over the relay gateway.
type Publisher interface {
	SendMessage(ctx context.Context, msg *protocol.Message, recipientPubkey string) error
}

// Service enforces who may run privileged operations and dispatches them to
// the order engine and dispute manager. Both the admin message actions and
// the HTTP surface go through here.
type Service struct {
	db        *gorm.DB
	orders    *orders.Service
	disputes  *disputes.Manager
	publisher Publisher
}

func NewService(gormDB *gorm.DB, ordersSvc *orders.Service, disputesMgr *disputes.Manager, publisher Publisher) *Service {
	return &Service{
		db:        gormDB,
		orders:    ordersSvc,
		disputes:  disputesMgr,
		publisher: publisher,
	}
}

func (svc *Service) isAdmin(pubkey string) bool {
	user, err := queries.GetUser(svc.db, pubkey)
	return err == nil && user.IsAdmin
}

func (svc *Service) isSolver(pubkey string) bool {
	user, err := queries.GetUser(svc.db, pubkey)
	return err == nil && (user.IsAdmin || user.IsSolver)
}

// mayResolve reports whether the pubkey can settle or cancel this order: any
// admin, or the solver the order's dispute was assigned to.
func (svc *Service) mayResolve(pubkey string, orderID string) bool {
	if svc.isAdmin(pubkey) {
		return true
	}
	return svc.disputes.SolverFor(orderID, pubkey)
}

// CancelOrder refunds the escrow to the seller and closes the order.
func (svc *Service) CancelOrder(ctx context.Context, callerPubkey string, orderID string, requestID *uint64) error {
	if !svc.mayResolve(callerPubkey, orderID) {
		return ErrUnauthorized
	}
	return svc.orders.AdminCancel(ctx, orderID, requestID, callerPubkey)
}

// SettleOrder settles the hold invoice in the buyer's favor.
func (svc *Service) SettleOrder(ctx context.Context, callerPubkey string, orderID string, requestID *uint64) error {
	if !svc.mayResolve(callerPubkey, orderID) {
		return ErrUnauthorized
	}
	return svc.orders.AdminSettle(ctx, orderID, requestID, callerPubkey)
}

// AddSolver grants the solver flag to a pubkey. Admins only.
func (svc *Service) AddSolver(ctx context.Context, callerPubkey string, solverPubkey string) error {
	if !svc.isAdmin(callerPubkey) {
		return ErrUnauthorized
	}
	if err := queries.SetSolverFlag(svc.db, solverPubkey, true); err != nil {
		return err
	}
	logger.Logger.Info().
		Str("solver", solverPubkey).
		Str("admin", callerPubkey).
		Msg("Granted solver flag")
	return nil
}

// TakeDispute assigns an open dispute to the calling solver.
func (svc *Service) TakeDispute(ctx context.Context, callerPubkey string, disputeID string, requestID *uint64) error {
	if !svc.isSolver(callerPubkey) {
		return ErrUnauthorized
	}
	return svc.disputes.TakeDispute(ctx, callerPubkey, disputeID, requestID)
}

// Operator entry points used by the local HTTP surface. The caller already
// authenticated with the operator credentials, so pubkey checks do not apply
// and no Nostr reply goes out to an admin identity.

func (svc *Service) OperatorCancelOrder(ctx context.Context, orderID string) error {
	return svc.orders.AdminCancel(ctx, orderID, nil, "")
}

func (svc *Service) OperatorSettleOrder(ctx context.Context, orderID string) error {
	return svc.orders.AdminSettle(ctx, orderID, nil, "")
}

func (svc *Service) OperatorAddSolver(ctx context.Context, solverPubkey string) error {
	if err := queries.SetSolverFlag(svc.db, solverPubkey, true); err != nil {
		return err
	}
	logger.Logger.Info().Str("solver", solverPubkey).Msg("Granted solver flag via operator surface")
	return nil
}

func (svc *Service) OpenDisputes() ([]db.Dispute, error) {
	return svc.disputes.ListOpen()
}

// HandleMessage dispatches the admin-* protocol actions arriving over Nostr.
func (svc *Service) HandleMessage(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) {
	var err error
	switch msg.Action {
	case protocol.ActionAdminCancel:
		err = svc.handleOrderOp(ctx, tradePubkey, msg, svc.CancelOrder)
	case protocol.ActionAdminSettle:
		err = svc.handleOrderOp(ctx, tradePubkey, msg, svc.SettleOrder)
	case protocol.ActionAdminAddSolver:
		if msg.Content == nil || msg.Content.Peer == nil {
			svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoInvalidParameters)
			return
		}
		if err = svc.AddSolver(ctx, tradePubkey, msg.Content.Peer.Pubkey); err == nil {
			reply := protocol.ActionMessage(msg.ID, msg.RequestID, protocol.ActionAdminAddSolver, nil)
			if sendErr := svc.publisher.SendMessage(ctx, reply, tradePubkey); sendErr != nil {
				logger.Logger.Error().Err(sendErr).Msg("Failed to confirm solver grant")
			}
		}
	case protocol.ActionAdminTakeDispute:
		if msg.Content == nil || msg.Content.Dispute == nil {
			svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoInvalidParameters)
			return
		}
		err = svc.TakeDispute(ctx, tradePubkey, msg.Content.Dispute.ID, msg.RequestID)
	default:
		svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoUnknownAction)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoIsNotYourDispute)
	case errors.Is(err, disputes.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoNotFound)
	case errors.Is(err, disputes.ErrAlreadyTaken):
		svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoNotAllowedByStatus)
	default:
		logger.Logger.Error().Err(err).
			Str("action", string(msg.Action)).
			Msg("Admin operation failed")
		svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoInvalidActionForStatus)
	}
}

func (svc *Service) handleOrderOp(ctx context.Context, tradePubkey string, msg *protocol.InnerMessage, op func(context.Context, string, string, *uint64) error) error {
	if msg.ID == nil {
		svc.replyCantDo(ctx, tradePubkey, nil, msg.RequestID, protocol.CantDoInvalidParameters)
		return nil
	}
	return op(ctx, tradePubkey, *msg.ID, msg.RequestID)
}

func (svc *Service) replyCantDo(ctx context.Context, to string, orderID *string, requestID *uint64, reason protocol.CantDoReason) {
	msg := protocol.CantDoMessage(orderID, requestID, reason)
	if err := svc.publisher.SendMessage(ctx, msg, to); err != nil {
		logger.Logger.Error().Err(err).Str("recipient", to).Msg("Failed to send cant-do reply")
	}
}
