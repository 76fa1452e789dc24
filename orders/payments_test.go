package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db/queries"
	"github.com/Catrya/mostro/protocol"
)

// settledOrder drives a sell order to settled-hold-invoice with the buyer
// invoice on file.
func settledOrder(t *testing.T, svc *Service, publisher *fakePublisher) string {
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

	fiatMsg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionFiatSent}
	require.NoError(t, svc.FiatSent(context.Background(), takerPubkey, takerPubkey, fiatMsg))
	releaseMsg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionRelease}
	require.NoError(t, svc.Release(context.Background(), makerPubkey, makerPubkey, releaseMsg))
	require.Equal(t, constants.ORDER_STATUS_SETTLED_HOLD_INVOICE, getOrder(t, svc, orderID).Status)
	return orderID
}

func TestPayoutFailureSchedulesRetry(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := settledOrder(t, svc, publisher)
	publisher.reset()

	lnClient.payErr = errors.New("no route")
	svc.PayBuyerInvoice(context.Background(), orderID)

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_SETTLED_HOLD_INVOICE, order.Status)
	assert.Equal(t, 1, order.PaymentAttempts)
	require.NotNil(t, order.NextPaymentRetry)
	assert.WithinDuration(t, time.Now().Add(constants.PAYMENT_RETRY_BACKOFF), *order.NextPaymentRetry, 5*time.Second)
	require.NotNil(t, order.BuyerInvoice)
}

func TestPayoutRetryBudgetExhaustedAsksForNewInvoice(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := settledOrder(t, svc, publisher)
	publisher.reset()

	lnClient.payErr = errors.New("no route")
	for i := 0; i < constants.PAYMENT_MAX_ATTEMPTS; i++ {
		svc.PayBuyerInvoice(context.Background(), orderID)
	}

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_SETTLED_HOLD_INVOICE, order.Status)
	assert.Nil(t, order.BuyerInvoice)
	assert.Nil(t, order.NextPaymentRetry)

	last := publisher.lastMessageTo(t, takerPubkey)
	assert.Equal(t, protocol.ActionAddInvoice, last.Inner().Action)
	require.NotNil(t, last.Inner().Content.CantDo)
	assert.Equal(t, protocol.CantDoPaymentFailed, *last.Inner().Content.CantDo)
}

func TestResubmittedInvoiceRestartsPayout(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := settledOrder(t, svc, publisher)

	lnClient.payErr = errors.New("no route")
	for i := 0; i < constants.PAYMENT_MAX_ATTEMPTS; i++ {
		svc.PayBuyerInvoice(context.Background(), orderID)
	}
	require.Nil(t, getOrder(t, svc, orderID).BuyerInvoice)
	lnClient.payErr = nil
	publisher.reset()

	addMsg := &protocol.InnerMessage{
		Version: 1,
		ID:      &orderID,
		Action:  protocol.ActionAddInvoice,
		Content: &protocol.Content{PaymentRequest: &protocol.PaymentRequest{Invoice: testBolt11}},
	}
	require.NoError(t, svc.AddInvoice(context.Background(), takerPubkey, takerPubkey, addMsg))

	// AddInvoice launches the payout asynchronously from settled-hold-invoice
	require.Eventually(t, func() bool {
		return getOrder(t, svc, orderID).Status == constants.ORDER_STATUS_SUCCESS
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAdminSettledPayoutAcceptsResubmittedInvoice(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := activeOrder(t, svc, publisher)
	require.NoError(t, svc.AdminSettle(context.Background(), orderID, nil, adminPubkey))

	lnClient.payErr = errors.New("no route")
	for i := 0; i < constants.PAYMENT_MAX_ATTEMPTS; i++ {
		svc.PayBuyerInvoice(context.Background(), orderID)
	}
	require.Nil(t, getOrder(t, svc, orderID).BuyerInvoice)
	lnClient.payErr = nil
	publisher.reset()

	addMsg := &protocol.InnerMessage{
		Version: 1,
		ID:      &orderID,
		Action:  protocol.ActionAddInvoice,
		Content: &protocol.Content{PaymentRequest: &protocol.PaymentRequest{Invoice: testBolt11}},
	}
	require.NoError(t, svc.AddInvoice(context.Background(), takerPubkey, takerPubkey, addMsg))

	require.Eventually(t, func() bool {
		lnClient.mu.Lock()
		defer lnClient.mu.Unlock()
		return len(lnClient.paidInvoices) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, constants.ORDER_STATUS_SETTLED_BY_ADMIN, getOrder(t, svc, orderID).Status)
}

func TestPayoutCreatesCounterpartyUserRows(t *testing.T) {
	svc, _, publisher := newTestService(t)

	// neither party supplies a trade index, so no user rows exist up front
	newMsg := &protocol.InnerMessage{
		Version: 1,
		Action:  protocol.ActionNewOrder,
		Content: &protocol.Content{Order: &protocol.OrderPayload{
			Kind:          constants.ORDER_KIND_SELL,
			Amount:        10000,
			FiatCode:      "USD",
			FiatAmount:    20,
			PaymentMethod: "cashapp",
		}},
	}
	require.NoError(t, svc.NewOrder(context.Background(), makerPubkey, makerPubkey, newMsg))
	reply := publisher.lastMessageTo(t, makerPubkey)
	require.Equal(t, protocol.ActionNewOrder, reply.Inner().Action)
	orderID := *reply.Inner().ID

	takeMsg := &protocol.InnerMessage{
		Version: 1,
		ID:      &orderID,
		Action:  protocol.ActionTakeBuy,
		Content: &protocol.Content{PaymentRequest: &protocol.PaymentRequest{Invoice: testBolt11}},
	}
	require.NoError(t, svc.TakeBuy(context.Background(), takerPubkey, takerPubkey, takeMsg))
	svc.HoldInvoiceAccepted(context.Background(), *getOrder(t, svc, orderID).Hash)

	fiatMsg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionFiatSent}
	require.NoError(t, svc.FiatSent(context.Background(), takerPubkey, takerPubkey, fiatMsg))
	releaseMsg := &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionRelease}
	require.NoError(t, svc.Release(context.Background(), makerPubkey, makerPubkey, releaseMsg))

	svc.PayBuyerInvoice(context.Background(), orderID)
	require.Equal(t, constants.ORDER_STATUS_SUCCESS, getOrder(t, svc, orderID).Status)

	for _, pubkey := range []string{makerPubkey, takerPubkey} {
		user, err := queries.GetUser(svc.db, pubkey)
		require.NoError(t, err, "missing user row for %s", pubkey)
		assert.Equal(t, int64(10000), user.TradingVolume)
	}
}

func TestRetryDuePayments(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)
	orderID := settledOrder(t, svc, publisher)

	lnClient.payErr = errors.New("no route")
	svc.PayBuyerInvoice(context.Background(), orderID)

	// force the backoff into the past
	past := time.Now().Add(-time.Minute)
	require.NoError(t, svc.db.Model(getOrder(t, svc, orderID)).Update("next_payment_retry", past).Error)

	lnClient.payErr = nil
	svc.RetryDuePayments(context.Background())

	assert.Equal(t, constants.ORDER_STATUS_SUCCESS, getOrder(t, svc, orderID).Status)
}

func TestLateSettleEventDoesNotDisturbTerminalOrder(t *testing.T) {
	svc, _, publisher := newTestService(t)
	orderID := settledOrder(t, svc, publisher)
	hash := *getOrder(t, svc, orderID).Hash

	svc.PayBuyerInvoice(context.Background(), orderID)
	require.Equal(t, constants.ORDER_STATUS_SUCCESS, getOrder(t, svc, orderID).Status)

	// node-side settle notification arrives after the fact
	svc.HoldInvoiceSettled(context.Background(), hash)
	assert.Equal(t, constants.ORDER_STATUS_SUCCESS, getOrder(t, svc, orderID).Status)
}
