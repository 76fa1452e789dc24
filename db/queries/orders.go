package queries

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Catrya/mostro/constants"
	"github.com/Catrya/mostro/db"
)

var ErrDuplicatePendingOrder = errors.New("user already has a pending order for this kind, fiat code and payment method")

// InsertOrder creates the order, enforcing that a maker holds at most one
// pending order per (kind, fiat_code, payment_method).
func InsertOrder(tx *gorm.DB, order *db.Order) error {
	var count int64
	err := tx.Model(&db.Order{}).
		Where("creator_pubkey = ? AND kind = ? AND fiat_code = ? AND payment_method = ? AND status = ?",
			order.CreatorPubkey, order.Kind, order.FiatCode, order.PaymentMethod, constants.ORDER_STATUS_PENDING).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicatePendingOrder
	}
	return tx.Create(order).Error
}

// GetOrderForUpdate loads the order with a row lock. Must run inside a
// transaction.
func GetOrderForUpdate(tx *gorm.DB, orderID string) (*db.Order, error) {
	var order db.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrder(tx *gorm.DB, orderID string) (*db.Order, error) {
	var order db.Order
	err := tx.First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrderByHash(tx *gorm.DB, hash string) (*db.Order, error) {
	var order db.Order
	err := tx.First(&order, "hash = ?", hash).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func UpdateOrder(tx *gorm.DB, order *db.Order) error {
	return tx.Save(order).Error
}

func ListOrdersByStatus(tx *gorm.DB, status string) ([]db.Order, error) {
	var orders []db.Order
	err := tx.Where("status = ?", status).Find(&orders).Error
	return orders, err
}

func ListActiveOrdersForPubkey(tx *gorm.DB, pubkey string) ([]db.Order, error) {
	var orders []db.Order
	err := tx.
		Where("creator_pubkey = ? OR taker_pubkey = ?", pubkey, pubkey).
		Where("status NOT IN ?", constants.TerminalOrderStatuses()).
		Find(&orders).Error
	return orders, err
}

// ListNonTerminalOrders returns every order whose state may still depend on
// an LN event, for startup reconciliation.
func ListNonTerminalOrders(tx *gorm.DB) ([]db.Order, error) {
	var orders []db.Order
	err := tx.
		Where("status NOT IN ?", constants.TerminalOrderStatuses()).
		Find(&orders).Error
	return orders, err
}

func ListExpiredPendingOrders(tx *gorm.DB, now time.Time) ([]db.Order, error) {
	var orders []db.Order
	err := tx.
		Where("status = ? AND expires_at < ?", constants.ORDER_STATUS_PENDING, now).
		Find(&orders).Error
	return orders, err
}

// ListStaleInvoiceExchangeOrders finds orders stuck waiting for one side to
// finish the invoice exchange past the configured window.
func ListStaleInvoiceExchangeOrders(tx *gorm.DB, cutoff time.Time) ([]db.Order, error) {
	var orders []db.Order
	err := tx.
		Where("status IN ? AND taken_at < ?",
			[]string{constants.ORDER_STATUS_WAITING_PAYMENT, constants.ORDER_STATUS_WAITING_BUYER_INVOICE},
			cutoff).
		Find(&orders).Error
	return orders, err
}

func ListPaymentRetryOrders(tx *gorm.DB, now time.Time) ([]db.Order, error) {
	var orders []db.Order
	err := tx.
		Where("status = ? AND next_payment_retry IS NOT NULL AND next_payment_retry <= ?",
			constants.ORDER_STATUS_SETTLED_HOLD_INVOICE, now).
		Find(&orders).Error
	return orders, err
}

func ListOrdersNearExpiration(tx *gorm.DB, within time.Duration, now time.Time) ([]db.Order, error) {
	var orders []db.Order
	err := tx.
		Where("status = ? AND expires_at BETWEEN ? AND ?",
			constants.ORDER_STATUS_PENDING, now, now.Add(within)).
		Find(&orders).Error
	return orders, err
}
