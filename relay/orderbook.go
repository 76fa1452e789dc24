package relay

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
)

// statuses whose order book entry must not be republished; the last public
// state stays visible until the order terminates.
var nonPublicStatuses = map[string]struct{}{
	constants.ORDER_STATUS_DISPUTE:              {},
	constants.ORDER_STATUS_IN_PROGRESS:          {},
	constants.ORDER_STATUS_SETTLED_HOLD_INVOICE: {},
	constants.ORDER_STATUS_PAID_HOLD_INVOICE:    {},
}

func IsPublicStatus(status string) bool {
	_, nonPublic := nonPublicStatuses[status]
	return !nonPublic
}

// BuildOrderBookEvent renders an order as a parameterized replaceable event
// (kind 38383) keyed by d=<order_id>. Tags follow the NIP-69 schema so
// clients can filter by kind, fiat, status, amounts and payment method.
func BuildOrderBookEvent(order *db.Order, instancePubkey string) *nostr.Event {
	fiatAmount := strconv.FormatInt(order.FiatAmount, 10)
	if order.MinAmount != nil && order.MaxAmount != nil {
		fiatAmount = strconv.FormatInt(*order.MinAmount, 10) + "-" + strconv.FormatInt(*order.MaxAmount, 10)
	}

	tags := nostr.Tags{
		{"d", order.ID},
		{"k", order.Kind},
		{"f", order.FiatCode},
		{"s", order.Status},
		{"amt", strconv.FormatInt(order.AmountSats, 10)},
		{"fa", fiatAmount},
		{"pm", order.PaymentMethod},
		{"premium", strconv.FormatInt(order.Premium, 10)},
		{"network", "mainnet"},
		{"layer", "lightning"},
		{"expiration", strconv.FormatInt(order.ExpiresAt.Unix(), 10)},
		{"y", instancePubkey},
		{"z", "order"},
	}

	return &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      constants.ORDER_BOOK_KIND,
		Tags:      tags,
		Content:   "",
	}
}
