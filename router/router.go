package router

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/admin"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/metrics"
	"github.com/Catrya/mostro/orders"
	"github.com/Catrya/mostro/protocol"
	"github.com/Catrya/mostro/relay"
)

// Publisher sends protocol replies back over the relay gateway.
type Publisher interface {
	SendMessage(ctx context.Context, msg *protocol.Message, recipientPubkey string) error
}

// Router turns unwrapped rumors into engine calls. Trade actions go to the
// order engine, admin-* actions to the privileged surface.
type Router struct {
	db        *gorm.DB
	orders    *orders.Service
	admin     *admin.Service
	publisher Publisher
}

func New(gormDB *gorm.DB, ordersSvc *orders.Service, adminSvc *admin.Service, publisher Publisher) *Router {
	return &Router{
		db:        gormDB,
		orders:    ordersSvc,
		admin:     adminSvc,
		publisher: publisher,
	}
}

// HandleGift processes one inbound direct message. The sender identity is
// the seal signer; the rumor pubkey is the trade key replies go back to, and
// it must be proven before any handler sees it.
func (r *Router) HandleGift(ctx context.Context, gift *relay.UnwrappedGift) {
	sender := gift.Sender
	tradePubkey := gift.Rumor.PubKey

	// Authorization keys off the trade pubkey, so an unproven one must never
	// reach a handler.
	if !gift.TradeKeyProven() {
		logger.Logger.Warn().
			Str("sender", sender).
			Str("trade_pubkey", tradePubkey).
			Msg("Rumor pubkey not proven by sender, rejecting")
		r.replyCantDo(ctx, sender, nil, protocol.CantDoInvalidSignature)
		metrics.MessagesProcessed.WithLabelValues("unknown", "invalid_signature").Inc()
		return
	}

	msg, err := protocol.Decode(gift.Rumor.Content)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			// Untrusted transport: garbage gets no reply.
			logger.Logger.Debug().Str("sender", sender).Msg("Dropping malformed message")
			metrics.MessagesProcessed.WithLabelValues("unknown", "malformed").Inc()
			return
		}
		var rejection *protocol.RejectionError
		if errors.As(err, &rejection) {
			r.replyCantDo(ctx, tradePubkey, msg, rejection.Reason)
			metrics.MessagesProcessed.WithLabelValues("unknown", "rejected").Inc()
		}
		return
	}
	inner := msg.Inner()

	if user, err := queries.GetUser(r.db, sender); err == nil && user.Banned {
		r.replyCantDo(ctx, tradePubkey, msg, protocol.CantDoBanned)
		metrics.MessagesProcessed.WithLabelValues(string(inner.Action), "banned").Inc()
		return
	}

	logger.Logger.Debug().
		Str("action", string(inner.Action)).
		Str("sender", sender).
		Msg("Dispatching message")

	switch inner.Action {
	case protocol.ActionAdminCancel,
		protocol.ActionAdminSettle,
		protocol.ActionAdminAddSolver,
		protocol.ActionAdminTakeDispute:
		r.admin.HandleMessage(ctx, sender, tradePubkey, inner)
	default:
		r.orders.HandleMessage(ctx, sender, tradePubkey, inner)
	}
}

func (r *Router) replyCantDo(ctx context.Context, to string, msg *protocol.Message, reason protocol.CantDoReason) {
	var orderID *string
	var requestID *uint64
	if msg != nil && msg.Inner() != nil {
		orderID = msg.Inner().ID
		requestID = msg.Inner().RequestID
	}
	reply := protocol.CantDoMessage(orderID, requestID, reason)
	if err := r.publisher.SendMessage(ctx, reply, to); err != nil {
		logger.Logger.Error().Err(err).Str("recipient", to).Msg("Failed to send cant-do reply")
	}
}
