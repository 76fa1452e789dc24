package relay

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
)

func TestBuildOrderBookEventTags(t *testing.T) {
	expiresAt := time.Now().Add(24 * time.Hour)
	order := &db.Order{
		ID:            "3b7260b9-18ce-44bc-9b1f-0b17a4d0e159",
		Kind:          constants.ORDER_KIND_SELL,
		Status:        constants.ORDER_STATUS_PENDING,
		AmountSats:    0,
		FiatCode:      "VES",
		FiatAmount:    100,
		PaymentMethod: "face to face",
		Premium:       3,
		ExpiresAt:     expiresAt,
	}

	event := BuildOrderBookEvent(order, "daemonpubkey")

	assert.Equal(t, constants.ORDER_BOOK_KIND, event.Kind)
	assert.Empty(t, event.Content)

	expect := map[string]string{
		"d":          order.ID,
		"k":          "sell",
		"f":          "VES",
		"s":          "pending",
		"amt":        "0",
		"fa":         "100",
		"pm":         "face to face",
		"premium":    "3",
		"network":    "mainnet",
		"layer":      "lightning",
		"expiration": strconv.FormatInt(expiresAt.Unix(), 10),
		"y":          "daemonpubkey",
		"z":          "order",
	}
	for name, want := range expect {
		tag := event.Tags.GetFirst([]string{name})
		require.NotNil(t, tag, "missing tag %s", name)
		assert.Equal(t, want, tag.Value(), "tag %s", name)
	}
}

func TestBuildOrderBookEventRangeAmount(t *testing.T) {
	min := int64(10)
	max := int64(500)
	order := &db.Order{
		ID:        "some-order",
		Kind:      constants.ORDER_KIND_BUY,
		Status:    constants.ORDER_STATUS_PENDING,
		FiatCode:  "EUR",
		MinAmount: &min,
		MaxAmount: &max,
	}

	event := BuildOrderBookEvent(order, "daemonpubkey")
	tag := event.Tags.GetFirst([]string{"fa"})
	require.NotNil(t, tag)
	assert.Equal(t, "10-500", tag.Value())
}

func TestIsPublicStatus(t *testing.T) {
	assert.True(t, IsPublicStatus(constants.ORDER_STATUS_PENDING))
	assert.True(t, IsPublicStatus(constants.ORDER_STATUS_ACTIVE))
	assert.True(t, IsPublicStatus(constants.ORDER_STATUS_CANCELED))
	assert.False(t, IsPublicStatus(constants.ORDER_STATUS_DISPUTE))
	assert.False(t, IsPublicStatus(constants.ORDER_STATUS_IN_PROGRESS))
	assert.False(t, IsPublicStatus(constants.ORDER_STATUS_SETTLED_HOLD_INVOICE))
	assert.False(t, IsPublicStatus(constants.ORDER_STATUS_PAID_HOLD_INVOICE))
}
