package db

import (
	"time"

	"gorm.io/datatypes"
)

// Order is the central entity. One row per trade, identified by a UUID
// assigned at creation. Maker is the creator; buyer/seller are resolved from
// the order kind once a taker shows up.
type Order struct {
	ID            string `gorm:"primaryKey"`
	Kind          string `gorm:"index;not null"`
	Status        string `gorm:"index;not null"`
	AmountSats    int64
	Fee           int64
	FiatCode      string `gorm:"index;not null"`
	FiatAmount    int64
	MinAmount     *int64
	MaxAmount     *int64
	PaymentMethod string
	Premium       int64

	CreatorPubkey string `gorm:"index;not null"`
	TakerPubkey   *string
	BuyerPubkey   *string
	SellerPubkey  *string

	// Hold invoice issued to the seller. Hash is the preimage hash and keys
	// all LN notifications for this order.
	HoldInvoice *string
	Hash        *string `gorm:"index"`
	Preimage    *string

	// bolt11 supplied by the buyer for the final payout.
	BuyerInvoice *string

	PriceFromAPI bool

	MakerTradeIndex int64
	TakerTradeIndex *int64

	CancelInitiatorPubkey   *string
	BuyerCooperativeCancel  bool
	SellerCooperativeCancel bool

	// Bounded counters: payout attempts toward the buyer invoice, and how
	// many times the order reverted to pending after an invoice exchange
	// timed out.
	PaymentAttempts  int
	InvoiceRetries   int
	NextPaymentRetry *time.Time

	DisputeID *string `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
	TakenAt   *time.Time
}

// User rows are created lazily the first time a pubkey shows up.
type User struct {
	ID            uint
	Pubkey        string `gorm:"unique;not null"`
	IsAdmin       bool
	IsSolver      bool
	Banned        bool
	TradeIndex    int64
	TradingVolume int64
	TotalReviews  int64
	RatingSum     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Dispute struct {
	ID              string `gorm:"primaryKey"`
	OrderID         string `gorm:"index;not null"`
	InitiatorPubkey string `gorm:"not null"`
	SolverPubkey    *string
	Status          string `gorm:"index;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Rating is immutable, one per (order, rater).
type Rating struct {
	ID          uint
	OrderID     string `gorm:"index;not null;uniqueIndex:idx_ratings_order_rater"`
	RaterPubkey string `gorm:"not null;uniqueIndex:idx_ratings_order_rater"`
	RatedPubkey string `gorm:"index;not null"`
	Value       int64
	CreatedAt   time.Time
}

// ProcessedMessage stores the response sent for a (sender, request_id) pair
// so replays return the same reply without re-executing the transition.
type ProcessedMessage struct {
	ID           uint
	SenderPubkey string `gorm:"not null;uniqueIndex:idx_processed_sender_request"`
	RequestID    uint64 `gorm:"not null;uniqueIndex:idx_processed_sender_request"`
	OrderID      *string
	Action       string
	Response     datatypes.JSON
	CreatedAt    time.Time
}

// ProcessedLnEvent dedupes LN notifications by (payment hash, event type).
type ProcessedLnEvent struct {
	ID        uint
	Hash      string `gorm:"not null;uniqueIndex:idx_ln_events_hash_type"`
	EventType string `gorm:"not null;uniqueIndex:idx_ln_events_hash_type"`
	CreatedAt time.Time
}
