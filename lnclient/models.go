package lnclient

import (
	"context"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const DEFAULT_INVOICE_EXPIRY = 86400

// Invoice states as reported by the node.
const (
	INVOICE_STATE_OPEN     = "open"
	INVOICE_STATE_ACCEPTED = "accepted"
	INVOICE_STATE_SETTLED  = "settled"
	INVOICE_STATE_CANCELED = "canceled"
)

// HoldInvoice is the result of creating a hold invoice. The preimage never
// leaves the daemon until settlement.
type HoldInvoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
}

type PayInvoiceResponse struct {
	Preimage string
	FeeMsat  uint64
}

// InvoiceNotification is published on the internal event bus whenever a
// subscribed invoice changes state. SettleDeadline is the lowest HTLC expiry
// height of an accepted hold invoice.
type InvoiceNotification struct {
	PaymentHash    string
	State          string
	SettleDeadline *uint32
}

type NodeInfo struct {
	Alias       string
	Pubkey      string
	Network     string
	BlockHeight uint32
}

// LNClient is the async API of the external Lightning node. Invoice state
// changes arrive through the event bus, not through return values.
type LNClient interface {
	MakeHoldInvoice(ctx context.Context, amountSats int64, memo string, expiry int64, cltvExpiry uint64) (*HoldInvoice, error)
	SettleHoldInvoice(ctx context.Context, preimage string) error
	CancelHoldInvoice(ctx context.Context, paymentHash string) error
	PayInvoice(ctx context.Context, payReq string, maxFeeSats int64) (*PayInvoiceResponse, error)
	LookupInvoiceState(ctx context.Context, paymentHash string) (string, error)
	SubscribeInvoice(paymentHash string)
	GetInfo(ctx context.Context) (*NodeInfo, error)
	Shutdown() error
}

// DecodeInvoice parses a bolt11 payment request offline.
func DecodeInvoice(payReq string) (*decodepay.Bolt11, error) {
	bolt11, err := decodepay.Decodepay(payReq)
	if err != nil {
		return nil, err
	}
	return &bolt11, nil
}
