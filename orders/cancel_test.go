package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/protocol"
)

func cancelMsg(orderID string) *protocol.InnerMessage {
	return &protocol.InnerMessage{Version: 1, ID: &orderID, Action: protocol.ActionCancel}
}

func TestCancelPendingByCreator(t *testing.T) {
	svc, _, publisher := newTestService(t)

	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	publisher.reset()

	require.NoError(t, svc.Cancel(context.Background(), makerPubkey, makerPubkey, cancelMsg(orderID)))

	assert.Equal(t, constants.ORDER_STATUS_CANCELED, getOrder(t, svc, orderID).Status)
	assert.Equal(t, protocol.ActionCanceled, publisher.lastMessageTo(t, makerPubkey).Inner().Action)
}

func TestCancelPendingByStrangerRejected(t *testing.T) {
	svc, _, publisher := newTestService(t)

	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	publisher.reset()

	require.NoError(t, svc.Cancel(context.Background(), takerPubkey, takerPubkey, cancelMsg(orderID)))

	reply := publisher.lastMessageTo(t, takerPubkey)
	assert.Equal(t, protocol.CantDoIsNotYourOrder, *reply.Inner().Content.CantDo)
	assert.Equal(t, constants.ORDER_STATUS_PENDING, getOrder(t, svc, orderID).Status)
}

func TestCancelAlreadyCanceled(t *testing.T) {
	svc, _, publisher := newTestService(t)

	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	require.NoError(t, svc.Cancel(context.Background(), makerPubkey, makerPubkey, cancelMsg(orderID)))
	publisher.reset()

	require.NoError(t, svc.Cancel(context.Background(), makerPubkey, makerPubkey, cancelMsg(orderID)))
	reply := publisher.lastMessageTo(t, makerPubkey)
	assert.Equal(t, protocol.CantDoOrderAlreadyCanceled, *reply.Inner().Content.CantDo)
}

func TestTakerCancelRevertsToPending(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)

	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	takeSellOrder(t, svc, publisher, orderID, false)
	holdHash := *getOrder(t, svc, orderID).Hash
	publisher.reset()

	require.NoError(t, svc.Cancel(context.Background(), takerPubkey, takerPubkey, cancelMsg(orderID)))

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_PENDING, order.Status)
	assert.Nil(t, order.TakerPubkey)
	assert.Nil(t, order.BuyerPubkey)
	assert.Nil(t, order.Hash)
	assert.Nil(t, order.HoldInvoice)
	require.Len(t, lnClient.canceled, 1)
	assert.Equal(t, holdHash, lnClient.canceled[0])

	// back on the book
	require.NotEmpty(t, publisher.published)
	assert.Equal(t, constants.ORDER_STATUS_PENDING, publisher.published[len(publisher.published)-1].Status)
}

func TestMakerCancelOfTakenOrderCancelsOutright(t *testing.T) {
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

	require.NoError(t, svc.Cancel(context.Background(), makerPubkey, makerPubkey, cancelMsg(orderID)))

	assert.Equal(t, constants.ORDER_STATUS_CANCELED, getOrder(t, svc, orderID).Status)
	require.Len(t, lnClient.canceled, 1)
	assert.Equal(t, protocol.ActionCanceled, publisher.lastMessageTo(t, takerPubkey).Inner().Action)
}

func TestCooperativeCancelNeedsBothParties(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)

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
	publisher.reset()

	// buyer initiates
	require.NoError(t, svc.Cancel(context.Background(), takerPubkey, takerPubkey, cancelMsg(orderID)))

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_ACTIVE, order.Status)
	assert.True(t, order.BuyerCooperativeCancel)
	assert.False(t, order.SellerCooperativeCancel)
	assert.Equal(t, protocol.ActionCooperativeCancelInitiatedByYou, publisher.lastMessageTo(t, takerPubkey).Inner().Action)
	assert.Equal(t, protocol.ActionCooperativeCancelInitiatedByPeer, publisher.lastMessageTo(t, makerPubkey).Inner().Action)
	assert.Empty(t, lnClient.canceled)

	// seller accepts
	publisher.reset()
	require.NoError(t, svc.Cancel(context.Background(), makerPubkey, makerPubkey, cancelMsg(orderID)))

	order = getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_COOPERATIVELY_CANCELED, order.Status)
	require.Len(t, lnClient.canceled, 1)
	assert.Equal(t, protocol.ActionCooperativeCancelAccepted, publisher.lastMessageTo(t, takerPubkey).Inner().Action)
	assert.Equal(t, protocol.ActionCooperativeCancelAccepted, publisher.lastMessageTo(t, makerPubkey).Inner().Action)
}

func TestCooperativeCancelSameSideTwiceIsNoop(t *testing.T) {
	svc, lnClient, publisher := newTestService(t)

	orderID := makeOrder(t, svc, publisher, &protocol.OrderPayload{
		Kind:          constants.ORDER_KIND_SELL,
		Amount:        10000,
		FiatCode:      "USD",
		FiatAmount:    20,
		PaymentMethod: "cashapp",
	}, 1)
	takeSellOrder(t, svc, publisher, orderID, true)
	svc.HoldInvoiceAccepted(context.Background(), *getOrder(t, svc, orderID).Hash)

	require.NoError(t, svc.Cancel(context.Background(), takerPubkey, takerPubkey, cancelMsg(orderID)))
	require.NoError(t, svc.Cancel(context.Background(), takerPubkey, takerPubkey, cancelMsg(orderID)))

	order := getOrder(t, svc, orderID)
	assert.Equal(t, constants.ORDER_STATUS_ACTIVE, order.Status)
	assert.False(t, order.SellerCooperativeCancel)
	assert.Empty(t, lnClient.canceled)
}
