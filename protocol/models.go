package protocol

// Action is the closed alphabet of protocol verbs. The same list drives both
// parsing and dispatch.
type Action string

const (
	ActionNewOrder                         Action = "new-order"
	ActionTakeSell                         Action = "take-sell"
	ActionTakeBuy                          Action = "take-buy"
	ActionAddInvoice                       Action = "add-invoice"
	ActionPayInvoice                       Action = "pay-invoice"
	ActionFiatSent                         Action = "fiat-sent"
	ActionFiatSentOk                       Action = "fiat-sent-ok"
	ActionRelease                          Action = "release"
	ActionReleased                         Action = "released"
	ActionHoldInvoicePaymentAccepted       Action = "hold-invoice-payment-accepted"
	ActionHoldInvoicePaymentSettled        Action = "hold-invoice-payment-settled"
	ActionHoldInvoicePaymentCanceled       Action = "hold-invoice-payment-canceled"
	ActionWaitingSellerToPay               Action = "waiting-seller-to-pay"
	ActionWaitingBuyerInvoice              Action = "waiting-buyer-invoice"
	ActionBuyerTookOrder                   Action = "buyer-took-order"
	ActionPurchaseCompleted                Action = "purchase-completed"
	ActionCancel                           Action = "cancel"
	ActionCanceled                         Action = "canceled"
	ActionCooperativeCancelInitiatedByYou  Action = "cooperative-cancel-initiated-by-you"
	ActionCooperativeCancelInitiatedByPeer Action = "cooperative-cancel-initiated-by-peer"
	ActionCooperativeCancelAccepted        Action = "cooperative-cancel-accepted"
	ActionDispute                          Action = "dispute"
	ActionDisputeInitiatedByYou            Action = "dispute-initiated-by-you"
	ActionDisputeInitiatedByPeer           Action = "dispute-initiated-by-peer"
	ActionAdminCancel                      Action = "admin-cancel"
	ActionAdminCanceled                    Action = "admin-canceled"
	ActionAdminSettle                      Action = "admin-settle"
	ActionAdminSettled                     Action = "admin-settled"
	ActionAdminAddSolver                   Action = "admin-add-solver"
	ActionAdminTakeDispute                 Action = "admin-take-dispute"
	ActionAdminTookDispute                 Action = "admin-took-dispute"
	ActionRate                             Action = "rate"
	ActionRateUser                         Action = "rate-user"
	ActionRateReceived                     Action = "rate-received"
	ActionCantDo                           Action = "cant-do"
)

var allActions = map[Action]struct{}{
	ActionNewOrder:                         {},
	ActionTakeSell:                         {},
	ActionTakeBuy:                          {},
	ActionAddInvoice:                       {},
	ActionPayInvoice:                       {},
	ActionFiatSent:                         {},
	ActionFiatSentOk:                       {},
	ActionRelease:                          {},
	ActionReleased:                         {},
	ActionHoldInvoicePaymentAccepted:       {},
	ActionHoldInvoicePaymentSettled:        {},
	ActionHoldInvoicePaymentCanceled:       {},
	ActionWaitingSellerToPay:               {},
	ActionWaitingBuyerInvoice:              {},
	ActionBuyerTookOrder:                   {},
	ActionPurchaseCompleted:                {},
	ActionCancel:                           {},
	ActionCanceled:                         {},
	ActionCooperativeCancelInitiatedByYou:  {},
	ActionCooperativeCancelInitiatedByPeer: {},
	ActionCooperativeCancelAccepted:        {},
	ActionDispute:                          {},
	ActionDisputeInitiatedByYou:            {},
	ActionDisputeInitiatedByPeer:           {},
	ActionAdminCancel:                      {},
	ActionAdminCanceled:                    {},
	ActionAdminSettle:                      {},
	ActionAdminSettled:                     {},
	ActionAdminAddSolver:                   {},
	ActionAdminTakeDispute:                 {},
	ActionAdminTookDispute:                 {},
	ActionRate:                             {},
	ActionRateUser:                         {},
	ActionRateReceived:                     {},
	ActionCantDo:                           {},
}

func (a Action) Valid() bool {
	_, ok := allActions[a]
	return ok
}

// CantDoReason tags the typed rejection replies of the protocol.
type CantDoReason string

const (
	CantDoInvalidSignature       CantDoReason = "invalid-signature"
	CantDoInvalidTradeIndex      CantDoReason = "invalid-trade-index"
	CantDoInvalidAmount          CantDoReason = "invalid-amount"
	CantDoInvalidInvoice         CantDoReason = "invalid-invoice"
	CantDoInvalidParameters      CantDoReason = "invalid-parameters"
	CantDoOutOfRangeSatsAmount   CantDoReason = "out-of-range-sats-amount"
	CantDoOutOfRangeFiatAmount   CantDoReason = "out-of-range-fiat-amount"
	CantDoIsNotYourOrder         CantDoReason = "is-not-your-order"
	CantDoIsNotYourDispute       CantDoReason = "is-not-your-dispute"
	CantDoNotFound               CantDoReason = "not-found"
	CantDoInvalidActionForStatus CantDoReason = "invalid-action-for-status"
	CantDoNotAllowedByStatus     CantDoReason = "not-allowed-by-status"
	CantDoOrderAlreadyCanceled   CantDoReason = "order-already-canceled"
	CantDoInvoiceCreationFailed  CantDoReason = "invoice-creation-failed"
	CantDoPaymentFailed          CantDoReason = "payment-failed"
	CantDoPeerNotFound           CantDoReason = "peer-not-found"
	CantDoRateLimited            CantDoReason = "rate-limited"
	CantDoUnsupportedVersion     CantDoReason = "unsupported-version"
	CantDoUnknownAction          CantDoReason = "unknown-action"
	CantDoBanned                 CantDoReason = "banned"
)

// OrderPayload is the full order body carried on new-order and echoed back
// on order book updates.
type OrderPayload struct {
	ID            *string `json:"id,omitempty"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status,omitempty"`
	Amount        int64   `json:"amount"`
	FiatCode      string  `json:"fiat_code"`
	FiatAmount    int64   `json:"fiat_amount"`
	MinAmount     *int64  `json:"min_amount,omitempty"`
	MaxAmount     *int64  `json:"max_amount,omitempty"`
	PaymentMethod string  `json:"payment_method"`
	Premium       int64   `json:"premium"`
	BuyerInvoice  *string `json:"buyer_invoice,omitempty"`
	CreatedAt     int64   `json:"created_at,omitempty"`
	ExpiresAt     int64   `json:"expires_at,omitempty"`
}

type PaymentRequest struct {
	Invoice string `json:"invoice"`
	Amount  *int64 `json:"amount,omitempty"`
}

type Peer struct {
	Pubkey string `json:"pubkey"`
}

type DisputePayload struct {
	ID string `json:"id"`
}

// Content is the tagged payload union. Exactly one field is set.
type Content struct {
	Order          *OrderPayload   `json:"order,omitempty"`
	PaymentRequest *PaymentRequest `json:"payment_request,omitempty"`
	TextMessage    *string         `json:"text_message,omitempty"`
	Peer           *Peer           `json:"peer,omitempty"`
	RatingUser     *int64          `json:"rating_user,omitempty"`
	Dispute        *DisputePayload `json:"dispute,omitempty"`
	Amount         *int64          `json:"amount,omitempty"`
	CantDo         *CantDoReason   `json:"cant_do,omitempty"`
}
