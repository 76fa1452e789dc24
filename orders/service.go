package orders

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/Catrya/mostro/config"
	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/events"
	"github.com/Catrya/mostro/lnclient"
	"github.com/Catrya/mostro/logger"
	"github.com/Catrya/mostro/metrics"
	"github.com/Catrya/mostro/protocol"
	"github.com/Catrya/mostro/rates"
)

// Publisher is the slice of the relay gateway the engine needs. Narrow so
// tests can fake it.
type Publisher interface {
	SendMessage(ctx context.Context, msg *protocol.Message, recipientPubkey string) error
	PublishOrderEvent(ctx context.Context, order *db.Order) error
}

// Service is the order lifecycle engine: one logical state machine per
// order, serialized by a sharded lock map, with effects applied in LN → DB →
// publish order.
type Service struct {
	db             *gorm.DB
	cfg            *config.Config
	lnClient       lnclient.LNClient
	publisher      Publisher
	rates          *rates.Service
	eventPublisher events.EventPublisher
	locks          *lockMap
}

func NewService(gormDB *gorm.DB, cfg *config.Config, lnClient lnclient.LNClient, publisher Publisher, ratesSvc *rates.Service, eventPublisher events.EventPublisher) *Service {
	return &Service{
		db:             gormDB,
		cfg:            cfg,
		lnClient:       lnClient,
		publisher:      publisher,
		rates:          ratesSvc,
		eventPublisher: eventPublisher,
		locks:          newLockMap(),
	}
}

// outgoing is a direct message queued during a transition and flushed only
// after the DB commit succeeds.
type outgoing struct {
	msg *protocol.Message
	to  string
}

// transitionResult is what a handler produces besides DB mutations.
type transitionResult struct {
	messages    []outgoing
	publishBook bool
	order       *db.Order
}

func (r *transitionResult) send(msg *protocol.Message, to string) {
	r.messages = append(r.messages, outgoing{msg: msg, to: to})
}

// withOrder runs fn under the order's lock inside a DB transaction, then
// flushes the queued messages and republishes the order book entry. The
// publish step follows the commit and is never rolled back; the LN
// commitment recorded in the DB is authoritative.
func (svc *Service) withOrder(ctx context.Context, orderID string, fn func(tx *gorm.DB, order *db.Order) (*transitionResult, error)) error {
	lock := svc.locks.Lock(orderID)
	defer lock.Unlock()

	var result *transitionResult
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		order, err := queries.GetOrderForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		result, err = fn(tx, order)
		return err
	})
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	svc.flush(ctx, result)

	if result.order != nil {
		metrics.OrderTransitions.WithLabelValues(result.order.Status).Inc()
		if constants.IsTerminalOrderStatus(result.order.Status) {
			svc.locks.Evict(orderID)
		}
	}
	return nil
}

func (svc *Service) flush(ctx context.Context, result *transitionResult) {
	for _, out := range result.messages {
		if err := svc.publisher.SendMessage(ctx, out.msg, out.to); err != nil {
			logger.Logger.Error().Err(err).
				Str("recipient", out.to).
				Msg("Failed to publish direct message after commit")
		}
	}
	if result.publishBook && result.order != nil {
		if err := svc.publisher.PublishOrderEvent(ctx, result.order); err != nil {
			logger.Logger.Error().Err(err).
				Str("order_id", result.order.ID).
				Msg("Failed to republish order book event")
		}
	}
}

// replayedResponse returns the stored reply for a (sender, request_id) pair,
// if the message was already processed.
func (svc *Service) replayedResponse(senderPubkey string, requestID *uint64) (*protocol.Message, bool) {
	if requestID == nil {
		return nil, false
	}
	var processed db.ProcessedMessage
	err := svc.db.
		First(&processed, "sender_pubkey = ? AND request_id = ?", senderPubkey, *requestID).Error
	if err != nil {
		return nil, false
	}
	var msg protocol.Message
	if err := json.Unmarshal(processed.Response, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

// recordResponse persists the reply sent back to the sender so a replay of
// the same request_id is answered identically without re-executing.
func recordResponse(tx *gorm.DB, senderPubkey string, requestID *uint64, orderID *string, action protocol.Action, reply *protocol.Message) {
	if requestID == nil || reply == nil {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	err = tx.Create(&db.ProcessedMessage{
		SenderPubkey: senderPubkey,
		RequestID:    *requestID,
		OrderID:      orderID,
		Action:       string(action),
		Response:     payload,
	}).Error
	if err != nil {
		logger.Logger.Debug().Err(err).Msg("Failed to record processed message")
	}
}

// HandleMessage is the single entry point for user order actions coming off
// the router. Replays by request_id short-circuit to the recorded response.
func (svc *Service) HandleMessage(ctx context.Context, sender string, tradePubkey string, msg *protocol.InnerMessage) {
	if reply, ok := svc.replayedResponse(sender, msg.RequestID); ok {
		if err := svc.publisher.SendMessage(ctx, reply, tradePubkey); err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to resend recorded response")
		}
		metrics.MessagesProcessed.WithLabelValues(string(msg.Action), "replayed").Inc()
		return
	}

	var err error
	switch msg.Action {
	case protocol.ActionNewOrder:
		err = svc.NewOrder(ctx, sender, tradePubkey, msg)
	case protocol.ActionTakeBuy:
		err = svc.TakeBuy(ctx, sender, tradePubkey, msg)
	case protocol.ActionTakeSell:
		err = svc.TakeSell(ctx, sender, tradePubkey, msg)
	case protocol.ActionAddInvoice:
		err = svc.AddInvoice(ctx, sender, tradePubkey, msg)
	case protocol.ActionFiatSent:
		err = svc.FiatSent(ctx, sender, tradePubkey, msg)
	case protocol.ActionRelease:
		err = svc.Release(ctx, sender, tradePubkey, msg)
	case protocol.ActionCancel:
		err = svc.Cancel(ctx, sender, tradePubkey, msg)
	case protocol.ActionDispute:
		err = svc.Dispute(ctx, sender, tradePubkey, msg)
	case protocol.ActionRate, protocol.ActionRateUser:
		err = svc.RateUser(ctx, sender, tradePubkey, msg)
	default:
		svc.replyCantDo(ctx, tradePubkey, msg.ID, msg.RequestID, protocol.CantDoUnknownAction)
		metrics.MessagesProcessed.WithLabelValues(string(msg.Action), "rejected").Inc()
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
		logger.Logger.Warn().Err(err).
			Str("action", string(msg.Action)).
			Str("sender", sender).
			Msg("Error handling message action")
	}
	metrics.MessagesProcessed.WithLabelValues(string(msg.Action), result).Inc()
}

// replyCantDo sends a typed rejection outside of any transaction.
func (svc *Service) replyCantDo(ctx context.Context, to string, orderID *string, requestID *uint64, reason protocol.CantDoReason) {
	msg := protocol.CantDoMessage(orderID, requestID, reason)
	if err := svc.publisher.SendMessage(ctx, msg, to); err != nil {
		logger.Logger.Error().Err(err).Str("recipient", to).Msg("Failed to send cant-do reply")
	}
}

func orderIDFromMessage(msg *protocol.InnerMessage) (string, error) {
	if msg.ID == nil {
		return "", errors.New("no order id in message")
	}
	return *msg.ID, nil
}

// counterparty returns the other trade party's pubkey.
func counterparty(order *db.Order, pubkey string) (string, error) {
	if order.BuyerPubkey == nil || order.SellerPubkey == nil {
		return "", errors.New("order is missing a party")
	}
	if *order.BuyerPubkey == pubkey {
		return *order.SellerPubkey, nil
	}
	if *order.SellerPubkey == pubkey {
		return *order.BuyerPubkey, nil
	}
	return "", errors.New("pubkey is not a party to this order")
}

func isBuyer(order *db.Order, pubkey string) bool {
	return order.BuyerPubkey != nil && *order.BuyerPubkey == pubkey
}

func isSeller(order *db.Order, pubkey string) bool {
	return order.SellerPubkey != nil && *order.SellerPubkey == pubkey
}
