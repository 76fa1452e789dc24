package constants

import "time"

// shared constants used by multiple packages

const (
	// Replaceable event kind used for the public order book (NIP-69).
	ORDER_BOOK_KIND = 38383

	// Gift wrap kinds (NIP-59).
	SEAL_KIND      = 13
	GIFT_WRAP_KIND = 1059

	// Wire protocol version carried in every message.
	PROTOCOL_VERSION = 1

	// Inbound rumors older than this are dropped to prevent replays.
	RUMOR_MAX_AGE = 10 * time.Second
)

const (
	ORDER_KIND_SELL = "sell"
	ORDER_KIND_BUY  = "buy"
)

// Order statuses. Terminal statuses never mutate again.
const (
	ORDER_STATUS_PENDING                = "pending"
	ORDER_STATUS_WAITING_PAYMENT        = "waiting-payment"
	ORDER_STATUS_WAITING_BUYER_INVOICE  = "waiting-buyer-invoice"
	ORDER_STATUS_ACTIVE                 = "active"
	ORDER_STATUS_FIAT_SENT              = "fiat-sent"
	ORDER_STATUS_SETTLED_HOLD_INVOICE   = "settled-hold-invoice"
	ORDER_STATUS_PAID_HOLD_INVOICE      = "paid-hold-invoice"
	ORDER_STATUS_COMPLETED_BY_ADMIN     = "completed-by-admin"
	ORDER_STATUS_SETTLED_BY_ADMIN       = "settled-by-admin"
	ORDER_STATUS_CANCELED               = "canceled"
	ORDER_STATUS_CANCELED_BY_ADMIN      = "canceled-by-admin"
	ORDER_STATUS_COOPERATIVELY_CANCELED = "cooperatively-canceled"
	ORDER_STATUS_DISPUTE                = "dispute"
	ORDER_STATUS_SELLER_REFUNDED        = "seller-refunded"
	ORDER_STATUS_SUCCESS                = "success"
	ORDER_STATUS_EXPIRED                = "expired"
	ORDER_STATUS_IN_PROGRESS            = "in-progress"
)

const (
	DISPUTE_STATUS_INITIATED       = "initiated"
	DISPUTE_STATUS_IN_PROGRESS     = "in-progress"
	DISPUTE_STATUS_SELLER_REFUNDED = "seller-refunded"
	DISPUTE_STATUS_SETTLED         = "settled"
	DISPUTE_STATUS_RELEASED        = "released"
)

func TerminalOrderStatuses() []string {
	return []string{
		ORDER_STATUS_SUCCESS,
		ORDER_STATUS_CANCELED,
		ORDER_STATUS_CANCELED_BY_ADMIN,
		ORDER_STATUS_COOPERATIVELY_CANCELED,
		ORDER_STATUS_SETTLED_BY_ADMIN,
		ORDER_STATUS_COMPLETED_BY_ADMIN,
		ORDER_STATUS_SELLER_REFUNDED,
		ORDER_STATUS_EXPIRED,
	}
}

func IsTerminalOrderStatus(status string) bool {
	for _, s := range TerminalOrderStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

const (
	// Scheduler tick for sweeping expired pending orders.
	EXPIRE_PENDING_ORDERS_INTERVAL = 60 * time.Second

	// Bounded retries for paying the buyer invoice after settlement.
	PAYMENT_MAX_ATTEMPTS  = 3
	PAYMENT_RETRY_BACKOFF = 60 * time.Second

	// Orders within this window of their expiration tag get republished.
	REPUBLISH_WINDOW = time.Hour

	// How many times a taken order reverts to pending before being canceled
	// when the counterparty never completes the invoice exchange.
	MAX_INVOICE_EXCHANGE_RETRIES = 3
)
