package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/protocol"
)

// activeOrder walks a sell order to active with both parties resolved.
func activeOrder(t *testing.T, svc *Service, publisher *fakePublisher) string {
	t.Helper()
	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	takeSellOrder(t, svc, publisher, orderID, true)
	svc.HoldInvoiceAccepted(context.Background(), *getOrder(t, svc, orderID).Hash)
	require.Equal(t, constants.ORDER_STATUS_ACTIVE, getOrder(t, svc, orderID).Status)
	return orderID
}

func TestDisputeFreezesOrder(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := activeOrder(t, svc, publisher)
	publisher.reset()

	msg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionDispute}
	require.NoError(t, svc.Dispute(context.Background(), takerPubkey, takerPubkey, msg))

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_DISPUTE, order.Status)
	require.NotNil(t, order.DisputeID)

	dispute, err := queries.GetDisputeByOrderID(svc.db, orderID)
	require.NoError(t, err)
	assert.Equal(t, constants.DISPUTE_STATUS_INITIATED, dispute.Status)
	assert.Equal(t, takerPubkey, dispute.InitiatorPubkey)

	initiatorMsg := publisher.lastMessageTo(t, takerPubkey)
	assert.Equal(t, protocol.ActionDisputeInitiatedByYou, initiatorMsg.Inner().Action)
	assert.Equal(t, dispute.ID, initiatorMsg.Inner().Content.Dispute.ID)
	assert.Equal(t, protocol.ActionDisputeInitiatedByPeer, publisher.lastMessageTo(t, makerPubkey).Inner().Action)
}

func TestDisputeTwiceRejected(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := activeOrder(t, svc, publisher)

	msg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionDispute}
	require.NoError(t, svc.Dispute(context.Background(), takerPubkey, takerPubkey, msg))
	publisher.reset()

	require.NoError(t, svc.Dispute(context.Background(), makerPubkey, makerPubkey, msg))
	reply := publisher.lastMessageTo(t, makerPubkey)
	assert.Equal(t, protocol.CantDoNotAllowedByStatus, *reply.Inner().Content.CantDo)
}

func TestDisputeByStrangerRejected(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := activeOrder(t, svc, publisher)
	publisher.reset()

	msg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionDispute}
	require.NoError(t, svc.Dispute(context.Background(), solverPubkey, solverPubkey, msg))
	reply := publisher.lastMessageTo(t, solverPubkey)
	assert.Equal(t, protocol.CantDoIsNotYourOrder, *reply.Inner().Content.CantDo)
}

func TestReleaseResolvesDispute(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := activeOrder(t, svc, publisher)

	msg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionDispute}
	require.NoError(t, svc.Dispute(context.Background(), takerPubkey, takerPubkey, msg))
	publisher.reset()

	releaseMsg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionRelease}
	require.NoError(t, svc.Release(context.Background(), makerPubkey, makerPubkey, releaseMsg))
	require.Equal(t, constants.ORDER_STATUS_SETTLED_HOLD_INVOICE, getOrder(t, svc, orderID).Status)

	dispute, err := queries.GetDisputeByOrderID(svc.db, orderID)
	require.NoError(t, err)
	assert.Equal(t, constants.DISPUTE_STATUS_RELEASED, dispute.Status)
	assert.Nil(t, dispute.SolverPubkey)
}

func TestAdminCancelRefundsSeller(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := activeOrder(t, svc, publisher)

	msg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionDispute}
	require.NoError(t, svc.Dispute(context.Background(), takerPubkey, takerPubkey, msg))
	publisher.reset()

	require.NoError(t, svc.AdminCancel(context.Background(), orderID, nil, adminPubkey))

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_CANCELED_BY_ADMIN, order.Status)
	require.Len(t, lnClient.canceled, 1)

	dispute, err := queries.GetDisputeByOrderID(svc.db, orderID)
	require.NoError(t, err)
	assert.Equal(t, constants.DISPUTE_STATUS_SELLER_REFUNDED, dispute.Status)

	assert.Equal(t, protocol.ActionAdminCanceled, publisher.lastMessageTo(t, takerPubkey).Inner().Action)
	assert.Equal(t, protocol.ActionAdminCanceled, publisher.lastMessageTo(t, makerPubkey).Inner().Action)
	assert.Equal(t, protocol.ActionAdminCanceled, publisher.lastMessageTo(t, adminPubkey).Inner().Action)
}

func TestAdminSettlePaysBuyer(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := activeOrder(t, svc, publisher)

	msg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionDispute}
	require.NoError(t, svc.Dispute(context.Background(), makerPubkey, makerPubkey, msg))
	publisher.reset()

	require.NoError(t, svc.AdminSettle(context.Background(), orderID, nil, adminPubkey))

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_SETTLED_BY_ADMIN, order.Status)
	require.Len(t, lnClient.settled, 1)

	dispute, err := queries.GetDisputeByOrderID(svc.db, orderID)
	require.NoError(t, err)
	assert.Equal(t, constants.DISPUTE_STATUS_SETTLED, dispute.Status)

	// the settled notification triggers the payout; the admin status is kept
	svc.HoldInvoiceSettled(context.Background(), *order.Hash)
	require.Eventually(t, func() bool {
		return len(lnClient.paidInvoices) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, constants.ORDER_STATUS_SETTLED_BY_ADMIN, getOrder(t, svc, orderID).Status)
}

func TestRateAfterSuccess(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := settledOrder(t, svc, publisher)
	svc.PayBuyerInvoice(context.Background(), orderID)
	require.Equal(t, constants.ORDER_STATUS_SUCCESS, getOrder(t, svc, orderID).Status)
	publisher.reset()

	msg := &protocol.InnerMessage{
		Version: 1,
		ID:      &orderID,
		Action:  protocol.ActionRateUser,
		Content: &protocol.Content{RatingUser: ptr(int64(5))},
	}
	require.NoError(t, svc.RateUser(context.Background(), takerPubkey, takerPubkey, msg))

	reply := publisher.lastMessageTo(t, takerPubkey)
	assert.Equal(t, protocol.ActionRateReceived, reply.Inner().Action)

	seller, err := queries.GetUser(svc.db, makerPubkey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seller.TotalReviews)
	assert.Equal(t, int64(5), seller.RatingSum)

	// voting twice fails
	publisher.reset()
	require.NoError(t, svc.RateUser(context.Background(), takerPubkey, takerPubkey, msg))
	reply = publisher.lastMessageTo(t, takerPubkey)
	assert.Equal(t, protocol.ActionCantDo, reply.Inner().Action)
}

func TestRateRejectsOutOfScale(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := settledOrder(t, svc, publisher)
	svc.PayBuyerInvoice(context.Background(), orderID)
	publisher.reset()

	msg := &protocol.InnerMessage{
		Version: 1,
		ID:      &orderID,
		Action:  protocol.ActionRateUser,
		Content: &protocol.Content{RatingUser: ptr(int64(6))},
	}
	require.NoError(t, svc.RateUser(context.Background(), takerPubkey, takerPubkey, msg))
	reply := publisher.lastMessageTo(t, takerPubkey)
	assert.Equal(t, protocol.CantDoInvalidParameters, *reply.Inner().Content.CantDo)

	var count int64
	svc.db.Model(&db.Rating{}).Count(&count)
	assert.Zero(t, count)
}

func TestExpirePendingOrders(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	publisher.reset()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, svc.db.Model(&db.Order{}).Where("id = ?", orderID).Update("expires_at", past).Error)

	svc.ExpirePendingOrders(context.Background())

	assert.Equal(t, constants.ORDER_STATUS_EXPIRED, getOrder(t, svc, orderID).Status)
	assert.Equal(t, protocol.ActionCanceled, publisher.lastMessageTo(t, makerPubkey).Inner().Action)
}

func TestRevertStaleInvoiceExchange(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	takeSellOrder(t, svc, publisher, orderID, false)
	publisher.reset()

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, svc.db.Model(&db.Order{}).Where("id = ?", orderID).Update("taken_at", stale).Error)

	svc.RevertStaleInvoiceExchange(context.Background())

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_PENDING, order.Status)
	assert.Equal(t, 1, order.InvoiceRetries)
	assert.Nil(t, order.TakerPubkey)
	require.Len(t, lnClient.canceled, 1)
}
